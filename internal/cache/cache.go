package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AverageCache stores rolling-average sold quantities per (station, nozzle)
// so anomaly screening at shift close does not rescan history on every call.
type AverageCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error
}

type NoopAverageCache struct{}

func (NoopAverageCache) Get(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopAverageCache) Set(_ context.Context, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}
