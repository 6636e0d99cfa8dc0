package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisAverageCache struct {
	client *redis.Client
}

func NewRedisAverageCache(addr string, password string, db int) *RedisAverageCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisAverageCache{client: client}
}

func (c *RedisAverageCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAverageCache) Close() error {
	return c.client.Close()
}

func (c *RedisAverageCache) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}

	avg, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, err
	}
	return avg, true, nil
}

func (c *RedisAverageCache) Set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, key, value.String(), ttl).Err()
}
