// Package anomaly screens per-nozzle sold quantities against a rolling
// average of the station's recent completed shifts.
package anomaly

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/cache"
	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/xid"
)

// HistorySource is the read-only slice of the repository the detector needs.
type HistorySource interface {
	ListSoldQtyHistory(ctx context.Context, stationID string, nozzleNumber int, since time.Time) ([]decimal.Decimal, error)
}

type Detector struct {
	history    HistorySource
	avgCache   cache.AverageCache
	cacheTTL   time.Duration
	thresholds domain.Thresholds
	now        func() time.Time
}

func NewDetector(history HistorySource, avgCache cache.AverageCache, cacheTTL time.Duration, thresholds domain.Thresholds) *Detector {
	if thresholds.AnomalyWindowDays < 1 {
		thresholds.AnomalyWindowDays = 7
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Detector{
		history:    history,
		avgCache:   avgCache,
		cacheTTL:   cacheTTL,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the detector clock; tests use it to pin the trailing window.
func (d *Detector) SetNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// AverageSoldQty returns the mean sold quantity for the nozzle over the
// trailing window of completed shifts. Zero means "no baseline", never
// "always anomalous": callers skip zero-average nozzles entirely.
func (d *Detector) AverageSoldQty(ctx context.Context, stationID string, nozzleNumber int) (decimal.Decimal, error) {
	key := fmt.Sprintf("avg:%s:%d:%d", stationID, nozzleNumber, d.thresholds.AnomalyWindowDays)
	if cached, found, err := d.avgCache.Get(ctx, key); err == nil && found {
		return cached, nil
	} else if err != nil {
		log.Printf("[anomaly] WARN: average cache read failed station=%s nozzle=%d: %v", stationID, nozzleNumber, err)
	}

	since := d.now().AddDate(0, 0, -d.thresholds.AnomalyWindowDays)
	history, err := d.history.ListSoldQtyHistory(ctx, stationID, nozzleNumber, since)
	if err != nil {
		return decimal.Zero, err
	}
	if len(history) == 0 {
		return decimal.Zero, nil
	}

	sum := decimal.Zero
	for _, qty := range history {
		sum = sum.Add(qty)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(history))))

	if err := d.avgCache.Set(ctx, key, avg, d.cacheTTL); err != nil {
		log.Printf("[anomaly] WARN: average cache write failed station=%s nozzle=%d: %v", stationID, nozzleNumber, err)
	}
	return avg, nil
}

// EvaluateShift screens every reading with a positive sold quantity against
// its nozzle's rolling average. Nozzles without a baseline are skipped.
// RequiresNote is set when any deviation reaches the critical threshold.
func (d *Detector) EvaluateShift(ctx context.Context, shift domain.Shift, stationID string, readings []domain.MeterReading) (domain.AnomalyCheckResult, error) {
	result := domain.AnomalyCheckResult{Anomalies: []domain.MeterAnomaly{}}

	for _, reading := range readings {
		if reading.SoldQty == nil || !reading.SoldQty.IsPositive() {
			continue
		}

		avg, err := d.AverageSoldQty(ctx, stationID, reading.NozzleNumber)
		if err != nil {
			return domain.AnomalyCheckResult{}, err
		}
		if avg.IsZero() {
			continue
		}

		percentDiff, _ := reading.SoldQty.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100)).Float64()
		abs := percentDiff
		if abs < 0 {
			abs = -abs
		}
		if abs <= d.thresholds.AnomalyWarningPercent {
			continue
		}

		severity := domain.AnomalySeverityWarning
		if abs >= d.thresholds.AnomalyCriticalPercent {
			severity = domain.AnomalySeverityCritical
			result.RequiresNote = true
		}

		result.Anomalies = append(result.Anomalies, domain.MeterAnomaly{
			ID:           xid.New("anom"),
			ShiftID:      shift.ID,
			StationID:    stationID,
			NozzleNumber: reading.NozzleNumber,
			SoldQty:      *reading.SoldQty,
			AverageQty:   avg,
			PercentDiff:  percentDiff,
			Severity:     severity,
			CreatedAt:    d.now(),
		})
	}

	result.HasAnomalies = len(result.Anomalies) > 0
	return result, nil
}
