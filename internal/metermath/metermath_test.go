package metermath

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestCalculateSoldQty(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   *decimal.Decimal
		want  string
	}{
		{"normal", "100", decPtr("150.5"), "50.5"},
		{"zero dispensed", "200", decPtr("200"), "0"},
		{"fractional", "1234.567", decPtr("1250.001"), "15.434"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateSoldQty(dec(tt.start), tt.end)
			if got == nil {
				t.Fatalf("expected %s, got nil", tt.want)
			}
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("sold = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCalculateSoldQtyNilEnd(t *testing.T) {
	if got := CalculateSoldQty(dec("100"), nil); got != nil {
		t.Fatalf("expected nil for missing end reading, got %s", got)
	}
}

func TestCalculateSoldQtyDoesNotClampNegative(t *testing.T) {
	got := CalculateSoldQty(dec("150"), decPtr("100"))
	if got == nil || !got.Equal(dec("-50")) {
		t.Fatalf("expected -50, got %v", got)
	}
}

func TestValidateMeterReading(t *testing.T) {
	if err := ValidateMeterReading(dec("100"), decPtr("150")); err != nil {
		t.Fatalf("valid pair rejected: %v", err)
	}
	if err := ValidateMeterReading(dec("100"), nil); err != nil {
		t.Fatalf("nil end must be legal: %v", err)
	}
	if err := ValidateMeterReading(dec("-1"), nil); !errors.Is(err, ErrNegativeStart) {
		t.Fatalf("expected ErrNegativeStart, got %v", err)
	}
	if err := ValidateMeterReading(dec("10"), decPtr("-5")); !errors.Is(err, ErrNegativeEnd) {
		t.Fatalf("expected ErrNegativeEnd, got %v", err)
	}
	if err := ValidateMeterReading(dec("150"), decPtr("100")); !errors.Is(err, ErrEndBeforeStart) {
		t.Fatalf("expected ErrEndBeforeStart, got %v", err)
	}
}

func TestCheckMeterContinuity(t *testing.T) {
	continuous, gap := CheckMeterContinuity(decPtr("100.000"), dec("100.005"))
	if !continuous {
		t.Fatalf("gap 0.005 within tolerance must be continuous, got gap %s", gap)
	}

	continuous, gap = CheckMeterContinuity(decPtr("100.000"), dec("105.000"))
	if continuous {
		t.Fatalf("gap 5 must not be continuous")
	}
	if !gap.Equal(dec("5")) {
		t.Fatalf("gap = %s, want 5", gap)
	}

	continuous, gap = CheckMeterContinuity(decPtr("100"), dec("98"))
	if continuous || !gap.Equal(dec("-2")) {
		t.Fatalf("expected discontinuous with signed gap -2, got %v %s", continuous, gap)
	}
}

func TestCheckMeterContinuityNoPredecessor(t *testing.T) {
	continuous, gap := CheckMeterContinuity(nil, dec("42"))
	if !continuous || !gap.IsZero() {
		t.Fatalf("nil predecessor must pass trivially, got %v %s", continuous, gap)
	}
}

func TestPrepareMeterSaveData(t *testing.T) {
	at := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	reading, err := PrepareMeterSaveData(domain.MeterSaveRequest{
		ShiftID:      "shift-1",
		NozzleNumber: 2,
		StartReading: dec("120.5"),
		EndReading:   decPtr("170.5"),
	}, "staff", at)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if reading.SoldQty == nil || !reading.SoldQty.Equal(dec("50")) {
		t.Fatalf("sold = %v, want 50", reading.SoldQty)
	}
	if reading.RecordedBy != "staff" || reading.RecordedAt == nil || !reading.RecordedAt.Equal(at) {
		t.Fatalf("attribution not stamped: %+v", reading)
	}
}

func TestPrepareMeterSaveDataRejectsInvalid(t *testing.T) {
	_, err := PrepareMeterSaveData(domain.MeterSaveRequest{
		ShiftID:      "shift-1",
		NozzleNumber: 1,
		StartReading: dec("200"),
		EndReading:   decPtr("100"),
	}, "staff", time.Now())
	if !errors.Is(err, ErrEndBeforeStart) {
		t.Fatalf("expected ErrEndBeforeStart, got %v", err)
	}
}
