package anomaly

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/cache"
	"spbukita/backend/internal/domain"
)

type historyStub struct {
	history map[string][]decimal.Decimal
}

func (h *historyStub) ListSoldQtyHistory(_ context.Context, stationID string, nozzleNumber int, _ time.Time) ([]decimal.Decimal, error) {
	return h.history[fmt.Sprintf("%s-%d", stationID, nozzleNumber)], nil
}

func testThresholds() domain.Thresholds {
	return domain.Thresholds{
		AnomalyWarningPercent:  50,
		AnomalyCriticalPercent: 100,
		AnomalyWindowDays:      7,
	}
}

func newTestDetector(history map[string][]decimal.Decimal) *Detector {
	return NewDetector(&historyStub{history: history}, cache.NoopAverageCache{}, time.Minute, testThresholds())
}

func reading(nozzle int, sold string) domain.MeterReading {
	qty, _ := decimal.NewFromString(sold)
	return domain.MeterReading{NozzleNumber: nozzle, SoldQty: &qty}
}

func TestEvaluateShiftWithinThreshold(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{
		"st-1-1": {decimal.NewFromInt(100)},
	})

	result, err := d.EvaluateShift(context.Background(), domain.Shift{ID: "s1"}, "st-1", []domain.MeterReading{reading(1, "140")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.HasAnomalies {
		t.Fatalf("+40%% must not be flagged, got %+v", result.Anomalies)
	}
}

func TestEvaluateShiftWarning(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{
		"st-1-1": {decimal.NewFromInt(100)},
	})

	result, err := d.EvaluateShift(context.Background(), domain.Shift{ID: "s1"}, "st-1", []domain.MeterReading{reading(1, "160")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %d", len(result.Anomalies))
	}
	if result.Anomalies[0].Severity != domain.AnomalySeverityWarning {
		t.Fatalf("severity = %s, want warning", result.Anomalies[0].Severity)
	}
	if result.RequiresNote {
		t.Fatalf("warning alone must not require a note")
	}
}

func TestEvaluateShiftCritical(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{
		"st-1-1": {decimal.NewFromInt(100)},
	})

	result, err := d.EvaluateShift(context.Background(), domain.Shift{ID: "s1"}, "st-1", []domain.MeterReading{reading(1, "210")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0].Severity != domain.AnomalySeverityCritical {
		t.Fatalf("expected one critical anomaly, got %+v", result.Anomalies)
	}
	if !result.RequiresNote {
		t.Fatalf("critical deviation must require a note")
	}
}

func TestEvaluateShiftLargeDrop(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{
		"st-1-1": {decimal.NewFromInt(100)},
	})

	result, err := d.EvaluateShift(context.Background(), domain.Shift{ID: "s1"}, "st-1", []domain.MeterReading{reading(1, "30")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("-70%% must be flagged, got %+v", result.Anomalies)
	}
	if result.Anomalies[0].PercentDiff >= 0 {
		t.Fatalf("percent diff must keep its sign, got %v", result.Anomalies[0].PercentDiff)
	}
}

func TestEvaluateShiftNoBaselineNeverFlags(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{})

	result, err := d.EvaluateShift(context.Background(), domain.Shift{ID: "s1"}, "st-1", []domain.MeterReading{reading(1, "5000")})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.HasAnomalies {
		t.Fatalf("zero average means no baseline, nothing may be flagged")
	}
}

func TestEvaluateShiftSkipsIdleNozzles(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{
		"st-1-1": {decimal.NewFromInt(100)},
	})

	zero := decimal.Zero
	result, err := d.EvaluateShift(context.Background(), domain.Shift{ID: "s1"}, "st-1", []domain.MeterReading{
		{NozzleNumber: 1, SoldQty: &zero},
		{NozzleNumber: 2},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.HasAnomalies {
		t.Fatalf("idle and unread nozzles must be skipped")
	}
}

func TestAverageSoldQtyMean(t *testing.T) {
	d := newTestDetector(map[string][]decimal.Decimal{
		"st-1-2": {decimal.NewFromInt(90), decimal.NewFromInt(110), decimal.NewFromInt(100)},
	})

	avg, err := d.AverageSoldQty(context.Background(), "st-1", 2)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if !avg.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("avg = %s, want 100", avg)
	}
}
