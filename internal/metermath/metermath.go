// Package metermath holds the pure arithmetic over dispenser meter readings.
// Nothing here performs I/O; every check is local and synchronous.
package metermath

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
)

var (
	ErrNegativeStart  = errors.New("start reading is negative")
	ErrNegativeEnd    = errors.New("end reading is negative")
	ErrEndBeforeStart = errors.New("end reading is before start reading")
)

// ContinuityTolerance absorbs sub-centiliter rounding between a shift's end
// reading and its successor's start reading.
var ContinuityTolerance = decimal.NewFromFloat(0.01)

// CalculateSoldQty derives the dispensed quantity from a pair of readings.
// Returns nil when the end reading has not been captured yet. The result is
// not clamped: a negative quantity is a data error that validation must
// surface, not silently correct.
func CalculateSoldQty(start decimal.Decimal, end *decimal.Decimal) *decimal.Decimal {
	if end == nil {
		return nil
	}
	sold := end.Sub(start)
	return &sold
}

// ValidateMeterReading rejects negative readings and end-before-start pairs.
// A nil end reading is legal (the nozzle has not been read out yet).
func ValidateMeterReading(start decimal.Decimal, end *decimal.Decimal) error {
	if start.IsNegative() {
		return ErrNegativeStart
	}
	if end == nil {
		return nil
	}
	if end.IsNegative() {
		return ErrNegativeEnd
	}
	if end.LessThan(start) {
		return ErrEndBeforeStart
	}
	return nil
}

// CheckMeterContinuity compares a predecessor's end reading against the
// successor's start reading. A nil previous end means there is no predecessor
// and the check passes trivially. The returned gap is signed
// (currentStart - previousEnd). The check is advisory; carry-over never hard
// fails on it.
func CheckMeterContinuity(previousEnd *decimal.Decimal, currentStart decimal.Decimal) (bool, decimal.Decimal) {
	if previousEnd == nil {
		return true, decimal.Zero
	}
	gap := currentStart.Sub(*previousEnd)
	if gap.Abs().LessThanOrEqual(ContinuityTolerance) {
		return true, decimal.Zero
	}
	return false, gap
}

// PrepareMeterSaveData validates a reading pair and assembles the persistence
// model with the derived sold quantity and capture attribution stamped in.
func PrepareMeterSaveData(req domain.MeterSaveRequest, recordedBy string, at time.Time) (domain.MeterReading, error) {
	if err := ValidateMeterReading(req.StartReading, req.EndReading); err != nil {
		return domain.MeterReading{}, err
	}

	reading := domain.MeterReading{
		ShiftID:      req.ShiftID,
		NozzleNumber: req.NozzleNumber,
		StartReading: req.StartReading,
		EndReading:   req.EndReading,
		SoldQty:      CalculateSoldQty(req.StartReading, req.EndReading),
		PhotoRef:     req.PhotoRef,
	}
	if recordedBy != "" {
		reading.RecordedBy = recordedBy
		recorded := at.UTC()
		reading.RecordedAt = &recorded
	}
	return reading, nil
}
