package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrShiftNotOpen      = errors.New("shift is not open")
	ErrShiftNotClosed    = errors.New("shift is not closed")
	ErrShiftLocked       = errors.New("shift is locked")
)

// Repository is the injected data-access handle. The postgres implementation
// backs production; the memory implementation backs dev mode and tests.
// Methods that touch more than one row for a single business fact
// (CloseShift, CreateShiftWithReadings, RotatePrice, AdjustInventory) apply
// all statements in one atomic unit or none at all.
type Repository interface {
	// Stations.
	CreateStation(ctx context.Context, station domain.Station) (*domain.Station, error)
	GetStation(ctx context.Context, id string) (*domain.Station, error)
	ListStations(ctx context.Context) ([]domain.Station, error)

	// Daily records. GetOrCreateDailyRecord upserts the (station, date) row,
	// seeding prices from defaults only when the row is created.
	GetDailyRecordByID(ctx context.Context, id string) (*domain.DailyRecord, error)
	GetOrCreateDailyRecord(ctx context.Context, stationID string, date string, defaults domain.DayPrices) (*domain.DailyRecord, error)

	// Shifts. CreateShiftWithReadings inserts the shift and its initial meter
	// readings atomically and rejects a duplicate (dailyRecord, shiftNumber).
	CreateShiftWithReadings(ctx context.Context, shift domain.Shift, readings []domain.MeterReading) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	FindShift(ctx context.Context, dailyRecordID string, shiftNumber int) (*domain.Shift, error)
	GetShiftContext(ctx context.Context, id string) (*domain.ShiftContext, error)
	// CloseShift flips status open->closed, inserts the reconciliation
	// snapshot, and persists the supplied anomalies in one atomic unit.
	// Anomalies whose (shift, nozzle) pair is already flagged are skipped.
	// Returns ErrShiftNotOpen when the guarded update matches no open row.
	CloseShift(ctx context.Context, shiftID string, closedBy string, varianceNote string, closedAt time.Time, recon domain.ShiftReconciliation, anomalies []domain.MeterAnomaly) (*domain.Shift, error)
	LockShift(ctx context.Context, shiftID string, lockedBy string, lockedAt time.Time) (*domain.Shift, error)
	GetReconciliation(ctx context.Context, shiftID string) (*domain.ShiftReconciliation, error)

	// Meter readings.
	UpsertMeterReading(ctx context.Context, reading domain.MeterReading) (*domain.MeterReading, error)
	ListMeterReadings(ctx context.Context, shiftID string) ([]domain.MeterReading, error)
	// BackfillMeterStart sets a nozzle's start reading only while it is still
	// at its default zero, so staff-entered readings are never clobbered.
	BackfillMeterStart(ctx context.Context, shiftID string, nozzleNumber int, start decimal.Decimal) error
	// ListSoldQtyHistory returns sold quantities for the nozzle across
	// closed/locked shifts of the station since the given instant.
	ListSoldQtyHistory(ctx context.Context, stationID string, nozzleNumber int, since time.Time) ([]decimal.Decimal, error)

	// Anomalies. CreateMeterAnomalies skips rows whose (shift, nozzle) pair
	// is already flagged, so repeated screening never duplicates a finding.
	CreateMeterAnomalies(ctx context.Context, anomalies []domain.MeterAnomaly) error
	ListPendingAnomalies(ctx context.Context, stationID string, limit int) ([]domain.MeterAnomaly, error)
	MarkAnomalyReviewed(ctx context.Context, anomalyID string, reviewedBy string, reviewedAt time.Time) (*domain.MeterAnomaly, error)

	// Transactions.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// ListTransactions returns the station's non-voided transactions inside
	// [from, to).
	ListTransactions(ctx context.Context, stationID string, from time.Time, to time.Time) ([]domain.Transaction, error)
	VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error)

	// Products and inventory. AdjustInventory is the only stock mutation path
	// and rejects adjustments that would drive quantity negative.
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, stationID string) ([]domain.Product, error)
	GetInventory(ctx context.Context, stationID string, productID string) (*domain.ProductInventory, error)
	AdjustInventory(ctx context.Context, stationID string, productID string, delta decimal.Decimal) (*domain.ProductInventory, error)
	ListInventory(ctx context.Context, stationID string) ([]domain.ProductInventory, error)

	// Price book. RotatePrice closes the open-ended entry for the same
	// (productType, stationID) and inserts the new entry atomically.
	RotatePrice(ctx context.Context, entry domain.PriceEntry) (*domain.PriceEntry, error)
	// FindPriceAt returns the entry whose window contains at, falling back to
	// the most recent entry by effectiveFrom when no window matches.
	FindPriceAt(ctx context.Context, productType string, stationID string, at time.Time) (*domain.PriceEntry, error)
	ListPriceEntries(ctx context.Context, productType string, stationID string, limit int) ([]domain.PriceEntry, error)

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Auth accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
