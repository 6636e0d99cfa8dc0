package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	actor, _ := ActorFromContext(ctx)

	station, err := s.repo.GetStation(ctx, req.StationID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if req.ShiftNumber != domain.ShiftNumberMorning && req.ShiftNumber != domain.ShiftNumberAfternoon {
		return domain.ShiftResponse{}, store.ErrInvalidInput
	}

	date := req.Date
	if date == "" {
		date = s.now().Format(domain.DateLayout)
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return domain.ShiftResponse{}, store.ErrInvalidInput
	}

	record, err := s.repo.GetOrCreateDailyRecord(ctx, station.ID, date, s.dayPricesFor(ctx, *station))
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	shift := domain.Shift{
		ID:            xid.New("shift"),
		DailyRecordID: record.ID,
		ShiftNumber:   req.ShiftNumber,
		Status:        domain.ShiftStatusOpen,
		OpenedBy:      actor.Username,
		OpenedAt:      s.now(),
	}
	readings := blankReadings(shift.ID, station.NozzleCount)

	created, err := s.repo.CreateShiftWithReadings(ctx, shift, readings)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, station.ID, "shift_open", "shift", created.ID, fmt.Sprintf("date=%s,number=%d", date, created.ShiftNumber))
	return domain.ShiftResponse{Shift: *created}, nil
}

func (s *Service) GetShiftContext(ctx context.Context, shiftID string) (domain.ShiftContext, error) {
	sctx, err := s.repo.GetShiftContext(ctx, shiftID)
	if err != nil {
		return domain.ShiftContext{}, err
	}
	return *sctx, nil
}

// ValidateCloseShift runs every close precondition without mutating anything.
// Errors block the close; warnings do not.
func (s *Service) ValidateCloseShift(ctx context.Context, shiftID string) (domain.CloseValidation, error) {
	sctx, err := s.repo.GetShiftContext(ctx, shiftID)
	if err != nil {
		return domain.CloseValidation{}, err
	}

	validation := domain.CloseValidation{Errors: []string{}, Warnings: []string{}}

	if sctx.Shift.Status != domain.ShiftStatusOpen {
		validation.Errors = append(validation.Errors, fmt.Sprintf("shift is %s, not open", sctx.Shift.Status))
	}

	if domain.StationRequiresMetering(sctx.Station.Type) {
		byNozzle := make(map[int]domain.MeterReading, len(sctx.Readings))
		for _, reading := range sctx.Readings {
			byNozzle[reading.NozzleNumber] = reading
		}
		for nozzle := 1; nozzle <= sctx.Station.NozzleCount; nozzle++ {
			reading, exists := byNozzle[nozzle]
			if !exists || reading.EndReading == nil {
				validation.Errors = append(validation.Errors, fmt.Sprintf("nozzle %d has no end reading", nozzle))
				continue
			}
			if reading.SoldQty != nil && reading.SoldQty.IsNegative() {
				validation.Errors = append(validation.Errors, fmt.Sprintf("nozzle %d sold quantity is negative", nozzle))
			}
			if reading.SoldQty != nil && reading.SoldQty.IsZero() {
				validation.Warnings = append(validation.Warnings, fmt.Sprintf("nozzle %d sold nothing this shift", nozzle))
			}
		}
	}

	if check, err := s.CheckShiftAnomalies(ctx, shiftID); err == nil {
		for _, anom := range check.Anomalies {
			validation.Warnings = append(validation.Warnings, fmt.Sprintf("nozzle %d sold %s deviates %.1f%% from average %s (%s)",
				anom.NozzleNumber, anom.SoldQty, anom.PercentDiff, anom.AverageQty, anom.Severity))
		}
	} else {
		validation.Warnings = append(validation.Warnings, "anomaly screening unavailable")
	}

	validation.Valid = len(validation.Errors) == 0
	return validation, nil
}

// CloseShift validates, reconciles, and flips the shift to closed, persisting
// the write-once reconciliation snapshot and any detected anomalies in the
// same atomic unit.
func (s *Service) CloseShift(ctx context.Context, req domain.CloseShiftRequest) (domain.CloseShiftResponse, error) {
	actor, _ := ActorFromContext(ctx)

	sctx, err := s.repo.GetShiftContext(ctx, req.ShiftID)
	if err != nil {
		return domain.CloseShiftResponse{}, err
	}
	if sctx.Shift.Status != domain.ShiftStatusOpen {
		return domain.CloseShiftResponse{}, store.ErrShiftNotOpen
	}

	validation, err := s.ValidateCloseShift(ctx, req.ShiftID)
	if err != nil {
		return domain.CloseShiftResponse{}, err
	}
	if !validation.Valid {
		return domain.CloseShiftResponse{}, fmt.Errorf("%w: %s", ErrCloseValidation, strings.Join(validation.Errors, "; "))
	}

	check, err := s.CheckShiftAnomalies(ctx, req.ShiftID)
	if err != nil {
		return domain.CloseShiftResponse{}, err
	}
	if check.RequiresNote && req.VarianceNote == "" {
		return domain.CloseShiftResponse{}, ErrAnomalyNoteRequired
	}

	closedAt := s.now()
	recon, err := s.CalculateReconciliation(ctx, *sctx, closedAt)
	if err != nil {
		return domain.CloseShiftResponse{}, err
	}
	if recon.VarianceStatus != domain.VarianceStatusGreen && req.VarianceNote == "" {
		return domain.CloseShiftResponse{}, ErrVarianceNoteRequired
	}

	for i := range check.Anomalies {
		check.Anomalies[i].Note = req.VarianceNote
	}

	closed, err := s.repo.CloseShift(ctx, req.ShiftID, actor.Username, req.VarianceNote, closedAt, recon, check.Anomalies)
	if err != nil {
		return domain.CloseShiftResponse{}, err
	}

	s.logAudit(ctx, sctx.Station.ID, "shift_close", "shift", closed.ID,
		fmt.Sprintf("variance=%s,status=%s", recon.Variance, recon.VarianceStatus))
	return domain.CloseShiftResponse{Shift: *closed, Reconciliation: recon}, nil
}

func (s *Service) LockShift(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ShiftResponse{}, fmt.Errorf("admin role required")
	}

	locked, err := s.repo.LockShift(ctx, shiftID, actor.Username, s.now())
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	sctx, ctxErr := s.repo.GetShiftContext(ctx, shiftID)
	stationID := ""
	if ctxErr == nil {
		stationID = sctx.Station.ID
	}
	s.logAudit(ctx, stationID, "shift_lock", "shift", locked.ID, "")
	return domain.ShiftResponse{Shift: *locked}, nil
}

// CheckShiftModifiable answers whether the shift's readings and transactions
// may still change. Only open shifts are modifiable; once the reconciliation
// snapshot exists the books and the meters must not diverge, so closed and
// locked shifts name their status as the reason. Corrections to a closed
// shift go through voided transactions in the next accounting period.
func (s *Service) CheckShiftModifiable(ctx context.Context, shiftID string) (domain.ModifiableResult, error) {
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ModifiableResult{}, err
	}

	switch shift.Status {
	case domain.ShiftStatusOpen:
		return domain.ModifiableResult{CanModify: true}, nil
	case domain.ShiftStatusClosed:
		return domain.ModifiableResult{CanModify: false, Reason: "shift is closed"}, nil
	default:
		return domain.ModifiableResult{CanModify: false, Reason: "shift is locked"}, nil
	}
}

// CreateNextShiftWithCarryOver opens the successor shift seeded from a closed
// shift: meter start readings come from the predecessor's end readings and the
// opening stock from the supplied closing stock. When the successor already
// exists, only its untouched start readings are backfilled.
func (s *Service) CreateNextShiftWithCarryOver(ctx context.Context, req domain.CarryOverRequest) (domain.CarryOverResponse, error) {
	actor, _ := ActorFromContext(ctx)

	sctx, err := s.repo.GetShiftContext(ctx, req.ClosedShiftID)
	if err != nil {
		return domain.CarryOverResponse{}, err
	}
	if sctx.Shift.Status == domain.ShiftStatusOpen {
		return domain.CarryOverResponse{}, store.ErrShiftNotClosed
	}

	nextRecordID, nextNumber, err := s.successorSlot(ctx, *sctx)
	if err != nil {
		return domain.CarryOverResponse{}, err
	}

	endByNozzle := make(map[int]decimal.Decimal, len(sctx.Readings))
	carryByNozzle := make(map[int]decimal.Decimal, len(sctx.Readings))
	for _, reading := range sctx.Readings {
		if reading.EndReading != nil {
			endByNozzle[reading.NozzleNumber] = *reading.EndReading
			carryByNozzle[reading.NozzleNumber] = *reading.EndReading
		} else {
			// No end was recorded; the start reading is still the best
			// known position of the meter.
			carryByNozzle[reading.NozzleNumber] = reading.StartReading
		}
	}

	if existing, err := s.repo.FindShift(ctx, nextRecordID, nextNumber); err == nil {
		for nozzle, end := range endByNozzle {
			if err := s.repo.BackfillMeterStart(ctx, existing.ID, nozzle, end); err != nil && !errors.Is(err, store.ErrNotFound) {
				return domain.CarryOverResponse{}, err
			}
		}
		readings, err := s.repo.ListMeterReadings(ctx, existing.ID)
		if err != nil {
			return domain.CarryOverResponse{}, err
		}
		s.logAudit(ctx, sctx.Station.ID, "shift_carry_over", "shift", existing.ID, fmt.Sprintf("from=%s,backfill=true", req.ClosedShiftID))
		return domain.CarryOverResponse{NextShift: *existing, Readings: readings}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CarryOverResponse{}, err
	}

	next := domain.Shift{
		ID:                   xid.New("shift"),
		DailyRecordID:        nextRecordID,
		ShiftNumber:          nextNumber,
		Status:               domain.ShiftStatusOpen,
		CarryOverFromShiftID: sctx.Shift.ID,
		OpeningStock:         req.ClosingStock,
		OpenedBy:             actor.Username,
		OpenedAt:             s.now(),
	}

	readings := make([]domain.MeterReading, 0, sctx.Station.NozzleCount)
	for nozzle := 1; nozzle <= sctx.Station.NozzleCount; nozzle++ {
		start := decimal.Zero
		if carry, exists := carryByNozzle[nozzle]; exists {
			start = carry
		}
		readings = append(readings, domain.MeterReading{
			ID:           xid.New("meter"),
			ShiftID:      next.ID,
			NozzleNumber: nozzle,
			StartReading: start,
		})
	}

	created, err := s.repo.CreateShiftWithReadings(ctx, next, readings)
	if err != nil {
		return domain.CarryOverResponse{}, err
	}
	saved, err := s.repo.ListMeterReadings(ctx, created.ID)
	if err != nil {
		return domain.CarryOverResponse{}, err
	}

	s.logAudit(ctx, sctx.Station.ID, "shift_carry_over", "shift", created.ID, fmt.Sprintf("from=%s,number=%d", req.ClosedShiftID, nextNumber))
	return domain.CarryOverResponse{NextShift: *created, Readings: saved}, nil
}

// successorSlot resolves where the next shift lives: shift 1 hands over to
// shift 2 of the same day, shift 2 to shift 1 of the next calendar day.
func (s *Service) successorSlot(ctx context.Context, sctx domain.ShiftContext) (string, int, error) {
	if sctx.Shift.ShiftNumber == domain.ShiftNumberMorning {
		return sctx.DailyRecord.ID, domain.ShiftNumberAfternoon, nil
	}

	day, err := time.Parse(domain.DateLayout, sctx.DailyRecord.Date)
	if err != nil {
		return "", 0, fmt.Errorf("daily record %s has malformed date %q", sctx.DailyRecord.ID, sctx.DailyRecord.Date)
	}
	nextDate := day.AddDate(0, 0, 1).Format(domain.DateLayout)

	record, err := s.repo.GetOrCreateDailyRecord(ctx, sctx.Station.ID, nextDate, domain.DayPrices{
		Retail:    sctx.DailyRecord.RetailPrice,
		Wholesale: sctx.DailyRecord.WholesalePrice,
		Gas:       sctx.DailyRecord.GasPrice,
	})
	if err != nil {
		return "", 0, err
	}
	return record.ID, domain.ShiftNumberMorning, nil
}

func blankReadings(shiftID string, nozzleCount int) []domain.MeterReading {
	readings := make([]domain.MeterReading, 0, nozzleCount)
	for nozzle := 1; nozzle <= nozzleCount; nozzle++ {
		readings = append(readings, domain.MeterReading{
			ID:           xid.New("meter"),
			ShiftID:      shiftID,
			NozzleNumber: nozzle,
			StartReading: decimal.Zero,
		})
	}
	return readings
}
