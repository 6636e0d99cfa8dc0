package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/metermath"
	"spbukita/backend/internal/store"
)

// SaveMeterReading validates and upserts one nozzle's reading pair for an open
// shift. The continuity result against the predecessor shift is advisory and
// travels back in the response instead of blocking the save.
func (s *Service) SaveMeterReading(ctx context.Context, req domain.MeterSaveRequest) (domain.MeterSaveResponse, error) {
	actor, _ := ActorFromContext(ctx)

	sctx, err := s.repo.GetShiftContext(ctx, req.ShiftID)
	if err != nil {
		return domain.MeterSaveResponse{}, err
	}
	// Closed and locked shifts keep their meters as reconciled; there is no
	// override role.
	if sctx.Shift.Status == domain.ShiftStatusLocked {
		return domain.MeterSaveResponse{}, store.ErrShiftLocked
	}
	if sctx.Shift.Status != domain.ShiftStatusOpen {
		return domain.MeterSaveResponse{}, store.ErrShiftNotOpen
	}
	if !domain.StationRequiresMetering(sctx.Station.Type) {
		return domain.MeterSaveResponse{}, fmt.Errorf("station %s has no dispenser meters: %w", sctx.Station.ID, store.ErrInvalidInput)
	}
	if req.NozzleNumber < 1 || req.NozzleNumber > sctx.Station.NozzleCount {
		return domain.MeterSaveResponse{}, fmt.Errorf("nozzle %d out of range 1..%d: %w", req.NozzleNumber, sctx.Station.NozzleCount, store.ErrInvalidInput)
	}

	reading, err := metermath.PrepareMeterSaveData(req, actor.Username, s.now())
	if err != nil {
		return domain.MeterSaveResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, err)
	}

	saved, err := s.repo.UpsertMeterReading(ctx, reading)
	if err != nil {
		return domain.MeterSaveResponse{}, err
	}

	continuous, gap := true, decimal.Zero
	if previousEnd, err := s.predecessorEndReading(ctx, *sctx, req.NozzleNumber); err == nil {
		continuous, gap = metermath.CheckMeterContinuity(previousEnd, req.StartReading)
	}

	resp := domain.MeterSaveResponse{Reading: *saved, Continuous: continuous}
	if !continuous {
		resp.Gap = gap.String()
	}

	s.logAudit(ctx, sctx.Station.ID, "meter_save", "meter_reading", saved.ID,
		fmt.Sprintf("nozzle=%d,start=%s,end=%s", saved.NozzleNumber, saved.StartReading, endLabel(saved.EndReading)))
	return resp, nil
}

func (s *Service) ListMeterReadings(ctx context.Context, shiftID string) ([]domain.MeterReading, error) {
	return s.repo.ListMeterReadings(ctx, shiftID)
}

// predecessorEndReading resolves the same nozzle's end reading on the shift
// immediately before this one: shift 2 looks at shift 1 of the same day,
// shift 1 at shift 2 of the previous day. Nil means no predecessor reading.
func (s *Service) predecessorEndReading(ctx context.Context, sctx domain.ShiftContext, nozzleNumber int) (*decimal.Decimal, error) {
	var recordID string
	var number int

	if sctx.Shift.ShiftNumber == domain.ShiftNumberAfternoon {
		recordID = sctx.DailyRecord.ID
		number = domain.ShiftNumberMorning
	} else {
		day, err := time.Parse(domain.DateLayout, sctx.DailyRecord.Date)
		if err != nil {
			return nil, err
		}
		previousDate := day.AddDate(0, 0, -1).Format(domain.DateLayout)
		record, err := s.findDailyRecord(ctx, sctx.Station.ID, previousDate)
		if err != nil {
			return nil, err
		}
		recordID = record.ID
		number = domain.ShiftNumberAfternoon
	}

	previous, err := s.repo.FindShift(ctx, recordID, number)
	if err != nil {
		return nil, err
	}
	readings, err := s.repo.ListMeterReadings(ctx, previous.ID)
	if err != nil {
		return nil, err
	}
	for _, reading := range readings {
		if reading.NozzleNumber == nozzleNumber {
			return reading.EndReading, nil
		}
	}
	return nil, store.ErrNotFound
}

// findDailyRecord resolves a (station, date) record through the upsert,
// seeding current day prices on a miss.
func (s *Service) findDailyRecord(ctx context.Context, stationID string, date string) (*domain.DailyRecord, error) {
	station, err := s.repo.GetStation(ctx, stationID)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.GetOrCreateDailyRecord(ctx, stationID, date, s.dayPricesFor(ctx, *station))
	if err != nil {
		return nil, err
	}
	return record, nil
}

func endLabel(end *decimal.Decimal) string {
	if end == nil {
		return "pending"
	}
	return end.String()
}
