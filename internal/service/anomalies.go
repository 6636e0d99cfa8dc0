package service

import (
	"context"
	"fmt"

	"spbukita/backend/internal/domain"
)

// CheckShiftAnomalies screens the shift's readings without persisting
// anything. Close-time persistence goes through CheckAndSaveAnomalies or the
// close path itself.
func (s *Service) CheckShiftAnomalies(ctx context.Context, shiftID string) (domain.AnomalyCheckResult, error) {
	sctx, err := s.repo.GetShiftContext(ctx, shiftID)
	if err != nil {
		return domain.AnomalyCheckResult{}, err
	}
	return s.detector.EvaluateShift(ctx, sctx.Shift, sctx.Station.ID, sctx.Readings)
}

// CheckAndSaveAnomalies screens the shift and persists whatever it finds,
// stamping the supplied note on every flagged row. A critical deviation
// cannot be saved without a note; nothing is written in that case.
func (s *Service) CheckAndSaveAnomalies(ctx context.Context, shiftID string, note string) (domain.AnomalyCheckResult, error) {
	result, err := s.CheckShiftAnomalies(ctx, shiftID)
	if err != nil {
		return domain.AnomalyCheckResult{}, err
	}
	if !result.HasAnomalies {
		return result, nil
	}
	if result.RequiresNote && note == "" {
		return domain.AnomalyCheckResult{}, ErrAnomalyNoteRequired
	}

	for i := range result.Anomalies {
		result.Anomalies[i].Note = note
	}
	if err := s.repo.CreateMeterAnomalies(ctx, result.Anomalies); err != nil {
		return domain.AnomalyCheckResult{}, err
	}

	s.logAudit(ctx, result.Anomalies[0].StationID, "anomaly_flag", "shift", shiftID, fmt.Sprintf("count=%d", len(result.Anomalies)))
	return result, nil
}

func (s *Service) GetPendingAnomalies(ctx context.Context, stationID string, limit int) ([]domain.MeterAnomaly, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListPendingAnomalies(ctx, stationID, limit)
}

func (s *Service) MarkAnomalyReviewed(ctx context.Context, anomalyID string) (domain.MeterAnomaly, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.MeterAnomaly{}, fmt.Errorf("admin role required")
	}

	reviewed, err := s.repo.MarkAnomalyReviewed(ctx, anomalyID, actor.Username, s.now())
	if err != nil {
		return domain.MeterAnomaly{}, err
	}

	s.logAudit(ctx, reviewed.StationID, "anomaly_review", "meter_anomaly", reviewed.ID, reviewed.Severity)
	return *reviewed, nil
}
