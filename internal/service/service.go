package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"spbukita/backend/internal/anomaly"
	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Policy errors surfaced to the API layer. Handlers map these to 422 so the
// client can prompt for the missing note instead of showing a generic failure.
var (
	ErrVarianceNoteRequired = errors.New("variance note required to close shift")
	ErrAnomalyNoteRequired  = errors.New("anomaly note required to close shift")
	ErrNoPriceConfigured    = errors.New("no price configured for product type")
	ErrCloseValidation      = errors.New("shift failed close validation")
)

type Service struct {
	repo       store.Repository
	detector   *anomaly.Detector
	thresholds domain.Thresholds
	now        func() time.Time
}

func New(repo store.Repository, detector *anomaly.Detector, thresholds domain.Thresholds) *Service {
	return &Service{
		repo:       repo,
		detector:   detector,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the service clock for tests.
func (s *Service) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) CreateStation(ctx context.Context, req domain.StationCreateRequest) (domain.Station, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Station{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Station{}, store.ErrInvalidInput
	}
	switch req.Type {
	case domain.StationTypeFull, domain.StationTypeSimple, domain.StationTypeGas:
	default:
		return domain.Station{}, store.ErrInvalidInput
	}
	if domain.StationRequiresMetering(req.Type) && req.NozzleCount < 1 {
		return domain.Station{}, store.ErrInvalidInput
	}
	if !domain.StationRequiresMetering(req.Type) {
		req.NozzleCount = 0
	}

	created, err := s.repo.CreateStation(ctx, domain.Station{
		ID:          xid.New("st"),
		Name:        req.Name,
		Type:        req.Type,
		NozzleCount: req.NozzleCount,
		Active:      true,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Station{}, err
	}

	s.logAudit(ctx, created.ID, "station_create", "station", created.ID, fmt.Sprintf("name=%s,type=%s,nozzles=%d", created.Name, created.Type, created.NozzleCount))
	return *created, nil
}

func (s *Service) ListStations(ctx context.Context) ([]domain.Station, error) {
	return s.repo.ListStations(ctx)
}

func (s *Service) GetStation(ctx context.Context, id string) (domain.Station, error) {
	station, err := s.repo.GetStation(ctx, id)
	if err != nil {
		return domain.Station{}, err
	}
	return *station, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, stationID string, date string, limit int) ([]domain.AuditLog, error) {
	if date == "" {
		date = s.now().Format(domain.DateLayout)
	}
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return nil, store.ErrInvalidInput
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, stationID, day, day.AddDate(0, 0, 1), limit)
}

// logAudit records the action best-effort. Audit persistence failures never
// fail the business operation.
func (s *Service) logAudit(ctx context.Context, stationID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StationID:     stationID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
