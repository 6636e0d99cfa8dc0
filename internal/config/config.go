package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AverageTTLSeconds     int
	AuthSecret            string
	AccessTokenTTLMinutes int
	Thresholds            domain.Thresholds
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	avgTTL, err := strconv.Atoi(getEnv("AVERAGE_TTL_SECONDS", "300"))
	if err != nil || avgTTL < 1 {
		avgTTL = 300
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	windowDays, err := strconv.Atoi(getEnv("ANOMALY_WINDOW_DAYS", "7"))
	if err != nil || windowDays < 1 {
		windowDays = 7
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AverageTTLSeconds:     avgTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		Thresholds: domain.Thresholds{
			VarianceYellow:         getEnvDecimal("VARIANCE_YELLOW", "200"),
			VarianceRed:            getEnvDecimal("VARIANCE_RED", "500"),
			AnomalyWarningPercent:  getEnvFloat("ANOMALY_WARNING_PERCENT", 50),
			AnomalyCriticalPercent: getEnvFloat("ANOMALY_CRITICAL_PERCENT", 100),
			AnomalyWindowDays:      windowDays,
			ContinuityTolerance:    getEnvDecimal("CONTINUITY_TOLERANCE", "0.01"),
			FallbackFuelPrice:      getEnvDecimal("FALLBACK_FUEL_PRICE", "31.34"),
		},
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvDecimal(key string, fallback string) decimal.Decimal {
	val, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil || val.IsNegative() {
		val, _ = decimal.NewFromString(fallback)
	}
	return val
}

func getEnvFloat(key string, fallback float64) float64 {
	val, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
