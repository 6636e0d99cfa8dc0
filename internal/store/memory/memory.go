package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	stations         map[string]domain.Station
	dailyRecords     map[string]domain.DailyRecord
	dailyByKey       map[string]string         // stationID|date -> dailyRecordID
	shifts           map[string]domain.Shift
	shiftByDayNumber map[string]string         // dailyRecordID|shiftNumber -> shiftID
	readings         map[string]map[int]domain.MeterReading
	reconciliations  map[string]domain.ShiftReconciliation
	anomalies        map[string]domain.MeterAnomaly
	transactions     map[string]domain.Transaction
	products         map[string]domain.Product
	inventory        map[string]domain.ProductInventory // stationID|productID
	priceEntries     []domain.PriceEntry
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; unset
// variables fall back to dev defaults with a warning. Production deployments
// run against PostgreSQL and never reach this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	stations := []domain.Station{
		{ID: "st-pusat", Name: "SPBU Pusat", Type: domain.StationTypeFull, NozzleCount: 4, Active: true, CreatedAt: now},
		{ID: "st-gas", Name: "Stasiun Gas Timur", Type: domain.StationTypeGas, NozzleCount: 2, Active: true, CreatedAt: now},
		{ID: "st-kios", Name: "Kios LPG Selatan", Type: domain.StationTypeSimple, NozzleCount: 0, Active: true, CreatedAt: now},
	}

	products := []domain.Product{
		{ID: "prd-lpg-3kg", Name: "Tabung LPG 3kg", Type: domain.ProductTypeLPG, Unit: "tabung", Active: true, CreatedAt: now},
		{ID: "prd-lpg-12kg", Name: "Tabung LPG 12kg", Type: domain.ProductTypeLPG, Unit: "tabung", Active: true, CreatedAt: now},
		{ID: "prd-oli-1l", Name: "Oli Mesin 1L", Type: domain.ProductTypeLubricant, Unit: "botol", Active: true, CreatedAt: now},
		{ID: "prd-air-600", Name: "Air Mineral 600ml", Type: domain.ProductTypeShop, Unit: "botol", Active: true, CreatedAt: now},
	}

	stationMap := make(map[string]domain.Station, len(stations))
	for _, st := range stations {
		stationMap[st.ID] = st
	}
	productMap := make(map[string]domain.Product, len(products))
	inventory := make(map[string]domain.ProductInventory)
	for _, p := range products {
		productMap[p.ID] = p
		for _, st := range stations {
			inventory[st.ID+"|"+p.ID] = domain.ProductInventory{
				StationID:  st.ID,
				ProductID:  p.ID,
				Quantity:   decimal.NewFromInt(50),
				AlertLevel: decimal.NewFromInt(10),
				UpdatedAt:  now,
			}
		}
	}

	priceEntries := []domain.PriceEntry{
		{ID: xid.New("price"), ProductType: domain.ProductTypeFuel, RetailPrice: decimal.NewFromFloat(31.34), EffectiveFrom: now.AddDate(0, -1, 0)},
		{ID: xid.New("price"), ProductType: domain.ProductTypeLPG, RetailPrice: decimal.NewFromFloat(425.00), WholesalePrice: decimalPtr(decimal.NewFromFloat(400.00)), EffectiveFrom: now.AddDate(0, -1, 0)},
		{ID: xid.New("price"), ProductType: domain.ProductTypeLubricant, RetailPrice: decimal.NewFromFloat(65.00), EffectiveFrom: now.AddDate(0, -1, 0)},
	}

	return &Store{
		stations:         stationMap,
		dailyRecords:     make(map[string]domain.DailyRecord),
		dailyByKey:       make(map[string]string),
		shifts:           make(map[string]domain.Shift),
		shiftByDayNumber: make(map[string]string),
		readings:         make(map[string]map[int]domain.MeterReading),
		reconciliations:  make(map[string]domain.ShiftReconciliation),
		anomalies:        make(map[string]domain.MeterAnomaly),
		transactions:     make(map[string]domain.Transaction),
		products:         productMap,
		inventory:        inventory,
		priceEntries:     priceEntries,
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

func (s *Store) CreateStation(_ context.Context, station domain.Station) (*domain.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if station.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if station.ID == "" {
		station.ID = xid.New("st")
	}
	if _, exists := s.stations[station.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if station.CreatedAt.IsZero() {
		station.CreatedAt = time.Now().UTC()
	}
	station.Active = true
	s.stations[station.ID] = station
	created := station
	return &created, nil
}

func (s *Store) GetStation(_ context.Context, id string) (*domain.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	station, exists := s.stations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := station
	return &copied, nil
}

func (s *Store) ListStations(_ context.Context) ([]domain.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stations := make([]domain.Station, 0, len(s.stations))
	for _, st := range s.stations {
		stations = append(stations, st)
	}
	slices.SortFunc(stations, func(a, b domain.Station) int {
		return strings.Compare(a.Name, b.Name)
	})
	return stations, nil
}

func (s *Store) GetDailyRecordByID(_ context.Context, id string) (*domain.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.dailyRecords[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := record
	return &copied, nil
}

func (s *Store) GetOrCreateDailyRecord(_ context.Context, stationID string, date string, defaults domain.DayPrices) (*domain.DailyRecord, error) {
	if stationID == "" || date == "" {
		return nil, store.ErrInvalidInput
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stations[stationID]; !exists {
		return nil, store.ErrNotFound
	}

	key := stationID + "|" + date
	if id, exists := s.dailyByKey[key]; exists {
		record := s.dailyRecords[id]
		copied := record
		return &copied, nil
	}

	record := domain.DailyRecord{
		ID:             xid.New("day"),
		StationID:      stationID,
		Date:           date,
		RetailPrice:    defaults.Retail,
		WholesalePrice: defaults.Wholesale,
		GasPrice:       defaults.Gas,
		CreatedAt:      time.Now().UTC(),
	}
	s.dailyRecords[record.ID] = record
	s.dailyByKey[key] = record.ID
	copied := record
	return &copied, nil
}

func (s *Store) CreateShiftWithReadings(_ context.Context, shift domain.Shift, readings []domain.MeterReading) (*domain.Shift, error) {
	if shift.DailyRecordID == "" || (shift.ShiftNumber != domain.ShiftNumberMorning && shift.ShiftNumber != domain.ShiftNumberAfternoon) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dailyRecords[shift.DailyRecordID]; !exists {
		return nil, store.ErrNotFound
	}
	key := shiftKey(shift.DailyRecordID, shift.ShiftNumber)
	if _, exists := s.shiftByDayNumber[key]; exists {
		return nil, store.ErrInvalidInput
	}

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.LockedAt = nil

	byNozzle := make(map[int]domain.MeterReading, len(readings))
	for _, reading := range readings {
		if reading.NozzleNumber < 1 {
			return nil, store.ErrInvalidInput
		}
		if _, dup := byNozzle[reading.NozzleNumber]; dup {
			return nil, store.ErrInvalidInput
		}
		if reading.ID == "" {
			reading.ID = xid.New("meter")
		}
		reading.ShiftID = shift.ID
		byNozzle[reading.NozzleNumber] = reading
	}

	s.shifts[shift.ID] = shift
	s.shiftByDayNumber[key] = shift.ID
	s.readings[shift.ID] = byNozzle
	created := shift
	return &created, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shifts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := shift
	return &copied, nil
}

func (s *Store) FindShift(_ context.Context, dailyRecordID string, shiftNumber int) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.shiftByDayNumber[shiftKey(dailyRecordID, shiftNumber)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift := s.shifts[id]
	copied := shift
	return &copied, nil
}

func (s *Store) GetShiftContext(_ context.Context, id string) (*domain.ShiftContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.shiftContextLocked(id)
}

// shiftContextLocked hydrates the shift with its day, station, and readings,
// failing fast when any required relation is missing.
func (s *Store) shiftContextLocked(id string) (*domain.ShiftContext, error) {
	shift, exists := s.shifts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	record, exists := s.dailyRecords[shift.DailyRecordID]
	if !exists {
		return nil, fmt.Errorf("shift %s: daily record %s: %w", id, shift.DailyRecordID, store.ErrNotFound)
	}
	station, exists := s.stations[record.StationID]
	if !exists {
		return nil, fmt.Errorf("shift %s: station %s: %w", id, record.StationID, store.ErrNotFound)
	}

	readings := make([]domain.MeterReading, 0, len(s.readings[id]))
	for _, reading := range s.readings[id] {
		readings = append(readings, reading)
	}
	slices.SortFunc(readings, func(a, b domain.MeterReading) int {
		return a.NozzleNumber - b.NozzleNumber
	})

	return &domain.ShiftContext{
		Shift:       shift,
		DailyRecord: record,
		Station:     station,
		Readings:    readings,
	}, nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, closedBy string, varianceNote string, closedAt time.Time, recon domain.ShiftReconciliation, anomalies []domain.MeterAnomaly) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shifts[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrShiftNotOpen
	}
	if _, exists := s.reconciliations[shiftID]; exists {
		return nil, store.ErrShiftNotOpen
	}
	if err := s.insertAnomaliesLocked(anomalies); err != nil {
		return nil, err
	}

	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	at := closedAt.UTC()
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedBy = closedBy
	shift.VarianceNote = varianceNote
	shift.ClosedAt = &at

	recon.ShiftID = shiftID
	if recon.ComputedAt.IsZero() {
		recon.ComputedAt = at
	}

	s.shifts[shiftID] = shift
	s.reconciliations[shiftID] = recon
	copied := shift
	return &copied, nil
}

func (s *Store) LockShift(_ context.Context, shiftID string, lockedBy string, lockedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shifts[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	switch shift.Status {
	case domain.ShiftStatusLocked:
		return nil, store.ErrShiftLocked
	case domain.ShiftStatusOpen:
		return nil, store.ErrShiftNotClosed
	}

	if lockedAt.IsZero() {
		lockedAt = time.Now().UTC()
	}
	at := lockedAt.UTC()
	shift.Status = domain.ShiftStatusLocked
	shift.LockedBy = lockedBy
	shift.LockedAt = &at
	s.shifts[shiftID] = shift
	copied := shift
	return &copied, nil
}

func (s *Store) GetReconciliation(_ context.Context, shiftID string) (*domain.ShiftReconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recon, exists := s.reconciliations[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := recon
	return &copied, nil
}

func (s *Store) UpsertMeterReading(_ context.Context, reading domain.MeterReading) (*domain.MeterReading, error) {
	if reading.ShiftID == "" || reading.NozzleNumber < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shifts[reading.ShiftID]; !exists {
		return nil, store.ErrNotFound
	}

	byNozzle := s.readings[reading.ShiftID]
	if byNozzle == nil {
		byNozzle = make(map[int]domain.MeterReading)
		s.readings[reading.ShiftID] = byNozzle
	}

	if existing, exists := byNozzle[reading.NozzleNumber]; exists {
		reading.ID = existing.ID
	} else if reading.ID == "" {
		reading.ID = xid.New("meter")
	}
	byNozzle[reading.NozzleNumber] = reading
	copied := reading
	return &copied, nil
}

func (s *Store) ListMeterReadings(_ context.Context, shiftID string) ([]domain.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.shifts[shiftID]; !exists {
		return nil, store.ErrNotFound
	}

	readings := make([]domain.MeterReading, 0, len(s.readings[shiftID]))
	for _, reading := range s.readings[shiftID] {
		readings = append(readings, reading)
	}
	slices.SortFunc(readings, func(a, b domain.MeterReading) int {
		return a.NozzleNumber - b.NozzleNumber
	})
	return readings, nil
}

func (s *Store) BackfillMeterStart(_ context.Context, shiftID string, nozzleNumber int, start decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNozzle := s.readings[shiftID]
	reading, exists := byNozzle[nozzleNumber]
	if !exists {
		return store.ErrNotFound
	}
	// Zero is the "never touched" sentinel; staff-entered starts stay as-is.
	if !reading.StartReading.IsZero() {
		return nil
	}

	reading.StartReading = start
	if reading.EndReading != nil {
		sold := reading.EndReading.Sub(start)
		reading.SoldQty = &sold
	}
	byNozzle[nozzleNumber] = reading
	return nil
}

func (s *Store) ListSoldQtyHistory(_ context.Context, stationID string, nozzleNumber int, since time.Time) ([]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]decimal.Decimal, 0, 16)
	for shiftID, shift := range s.shifts {
		if shift.Status != domain.ShiftStatusClosed && shift.Status != domain.ShiftStatusLocked {
			continue
		}
		if shift.ClosedAt == nil || shift.ClosedAt.Before(since) {
			continue
		}
		record, exists := s.dailyRecords[shift.DailyRecordID]
		if !exists || record.StationID != stationID {
			continue
		}
		reading, exists := s.readings[shiftID][nozzleNumber]
		if !exists || reading.SoldQty == nil {
			continue
		}
		history = append(history, *reading.SoldQty)
	}
	return history, nil
}

func (s *Store) CreateMeterAnomalies(_ context.Context, anomalies []domain.MeterAnomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertAnomaliesLocked(anomalies)
}

// insertAnomaliesLocked validates every row before writing any, so a bad
// batch leaves the store untouched. A (shift, nozzle) pair that is already
// flagged is skipped rather than duplicated. Callers hold s.mu.
func (s *Store) insertAnomaliesLocked(anomalies []domain.MeterAnomaly) error {
	for _, anomaly := range anomalies {
		if anomaly.ShiftID == "" || anomaly.Severity == "" {
			return store.ErrInvalidInput
		}
	}

	for _, anomaly := range anomalies {
		if s.anomalyFlaggedLocked(anomaly.ShiftID, anomaly.NozzleNumber) {
			continue
		}
		if anomaly.ID == "" {
			anomaly.ID = xid.New("anom")
		}
		if anomaly.CreatedAt.IsZero() {
			anomaly.CreatedAt = time.Now().UTC()
		}
		s.anomalies[anomaly.ID] = anomaly
	}
	return nil
}

func (s *Store) anomalyFlaggedLocked(shiftID string, nozzleNumber int) bool {
	for _, existing := range s.anomalies {
		if existing.ShiftID == shiftID && existing.NozzleNumber == nozzleNumber {
			return true
		}
	}
	return false
}

func (s *Store) ListPendingAnomalies(_ context.Context, stationID string, limit int) ([]domain.MeterAnomaly, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.MeterAnomaly, 0, 16)
	for _, anomaly := range s.anomalies {
		if anomaly.ReviewedAt != nil {
			continue
		}
		if stationID != "" && anomaly.StationID != stationID {
			continue
		}
		pending = append(pending, anomaly)
	}
	slices.SortFunc(pending, func(a, b domain.MeterAnomaly) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) MarkAnomalyReviewed(_ context.Context, anomalyID string, reviewedBy string, reviewedAt time.Time) (*domain.MeterAnomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anomaly, exists := s.anomalies[anomalyID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if anomaly.ReviewedAt != nil {
		return nil, store.ErrInvalidInput
	}

	if reviewedAt.IsZero() {
		reviewedAt = time.Now().UTC()
	}
	at := reviewedAt.UTC()
	anomaly.ReviewedBy = reviewedBy
	anomaly.ReviewedAt = &at
	s.anomalies[anomalyID] = anomaly
	copied := anomaly
	return &copied, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.StationID == "" || tx.ShiftID == "" || domain.PaymentBucket(tx.PaymentMethod) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions[tx.ID] = tx
	copied := tx
	return &copied, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := tx
	return &copied, nil
}

func (s *Store) ListTransactions(_ context.Context, stationID string, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactions {
		if tx.Voided || tx.StationID != stationID {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		txs = append(txs, tx)
	}
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return txs, nil
}

func (s *Store) VoidTransaction(_ context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if tx.Voided {
		return nil, store.ErrInvalidInput
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	voidedAt := at.UTC()
	tx.Voided = true
	tx.VoidReason = reason
	tx.VoidedAt = &voidedAt
	s.transactions[id] = tx
	copied := tx
	return &copied, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Type == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) ListProducts(_ context.Context, stationID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if stationID != "" && p.StationID != "" && p.StationID != stationID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetInventory(_ context.Context, stationID string, productID string) (*domain.ProductInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.inventory[stationID+"|"+productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := inv
	return &copied, nil
}

func (s *Store) AdjustInventory(_ context.Context, stationID string, productID string, delta decimal.Decimal) (*domain.ProductInventory, error) {
	if stationID == "" || productID == "" {
		return nil, store.ErrInvalidInput
	}

	// The write lock is held across read-check-write so two concurrent
	// decrements cannot both pass the non-negative check on a stale value.
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stationID + "|" + productID
	inv, exists := s.inventory[key]
	if !exists {
		qty := delta
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		inv = domain.ProductInventory{
			StationID: stationID,
			ProductID: productID,
			Quantity:  qty,
			UpdatedAt: time.Now().UTC(),
		}
		s.inventory[key] = inv
		copied := inv
		return &copied, nil
	}

	newQty := inv.Quantity.Add(delta)
	if newQty.IsNegative() {
		return nil, fmt.Errorf("%w: have %s, requested %s", store.ErrInsufficientStock, inv.Quantity, delta.Neg())
	}
	inv.Quantity = newQty
	inv.UpdatedAt = time.Now().UTC()
	s.inventory[key] = inv
	copied := inv
	return &copied, nil
}

func (s *Store) ListInventory(_ context.Context, stationID string) ([]domain.ProductInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.ProductInventory, 0, 16)
	for _, inv := range s.inventory {
		if inv.StationID != stationID {
			continue
		}
		items = append(items, inv)
	}
	slices.SortFunc(items, func(a, b domain.ProductInventory) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return items, nil
}

func (s *Store) RotatePrice(_ context.Context, entry domain.PriceEntry) (*domain.PriceEntry, error) {
	if entry.ProductType == "" || !entry.RetailPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if entry.EffectiveFrom.IsZero() {
		entry.EffectiveFrom = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = xid.New("price")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Close the currently open-ended window, then insert, all under one
	// lock, so no observer ever sees zero or two "current" entries.
	for i := range s.priceEntries {
		current := &s.priceEntries[i]
		if current.ProductType != entry.ProductType || current.StationID != entry.StationID {
			continue
		}
		if current.EffectiveTo == nil {
			to := entry.EffectiveFrom
			current.EffectiveTo = &to
		}
	}
	s.priceEntries = append(s.priceEntries, entry)
	created := entry
	return &created, nil
}

func (s *Store) FindPriceAt(_ context.Context, productType string, stationID string, at time.Time) (*domain.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var windowMatch, latest *domain.PriceEntry
	for i := range s.priceEntries {
		entry := s.priceEntries[i]
		if entry.ProductType != productType {
			continue
		}
		if entry.StationID != "" && entry.StationID != stationID {
			continue
		}
		if latest == nil || betterCandidate(entry, *latest, stationID) {
			copied := entry
			latest = &copied
		}
		if entry.EffectiveFrom.After(at) {
			continue
		}
		if entry.EffectiveTo != nil && !at.Before(*entry.EffectiveTo) {
			continue
		}
		if windowMatch == nil || betterCandidate(entry, *windowMatch, stationID) {
			copied := entry
			windowMatch = &copied
		}
	}

	if windowMatch != nil {
		return windowMatch, nil
	}
	// Historical gap: fall back to the most recent entry regardless of window.
	if latest != nil {
		return latest, nil
	}
	return nil, store.ErrNotFound
}

// betterCandidate prefers station-specific entries over station-wide ones and
// newer effectiveFrom over older.
func betterCandidate(entry domain.PriceEntry, current domain.PriceEntry, stationID string) bool {
	entrySpecific := entry.StationID != "" && entry.StationID == stationID
	currentSpecific := current.StationID != "" && current.StationID == stationID
	if entrySpecific != currentSpecific {
		return entrySpecific
	}
	return entry.EffectiveFrom.After(current.EffectiveFrom)
}

func (s *Store) ListPriceEntries(_ context.Context, productType string, stationID string, limit int) ([]domain.PriceEntry, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.PriceEntry, 0, 16)
	for _, entry := range s.priceEntries {
		if entry.ProductType != productType {
			continue
		}
		if stationID != "" && entry.StationID != "" && entry.StationID != stationID {
			continue
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b domain.PriceEntry) int {
		return b.EffectiveFrom.Compare(a.EffectiveFrom)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, 32)
	for _, entry := range s.auditLogs {
		if stationID != "" && entry.StationID != stationID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func shiftKey(dailyRecordID string, shiftNumber int) string {
	return fmt.Sprintf("%s|%d", dailyRecordID, shiftNumber)
}
