package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/store"
	"spbukita/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateStation(ctx context.Context, station domain.Station) (*domain.Station, error) {
	if station.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if station.ID == "" {
		station.ID = xid.New("st")
	}
	if station.CreatedAt.IsZero() {
		station.CreatedAt = time.Now().UTC()
	}
	station.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (id, name, type, nozzle_count, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, station.ID, station.Name, station.Type, station.NozzleCount, station.Active, station.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := station
	return &created, nil
}

func (s *Store) GetStation(ctx context.Context, id string) (*domain.Station, error) {
	var station domain.Station
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, nozzle_count, active, created_at
		FROM stations
		WHERE id = $1
	`, id).Scan(&station.ID, &station.Name, &station.Type, &station.NozzleCount, &station.Active, &station.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &station, nil
}

func (s *Store) ListStations(ctx context.Context) ([]domain.Station, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, nozzle_count, active, created_at
		FROM stations
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]domain.Station, 0, 16)
	for rows.Next() {
		var station domain.Station
		if err := rows.Scan(&station.ID, &station.Name, &station.Type, &station.NozzleCount, &station.Active, &station.CreatedAt); err != nil {
			return nil, err
		}
		stations = append(stations, station)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stations, nil
}

func (s *Store) GetDailyRecordByID(ctx context.Context, id string) (*domain.DailyRecord, error) {
	record, err := scanDailyRecord(s.db.QueryRowContext(ctx, `
		SELECT id, station_id, date, retail_price, wholesale_price, gas_price, created_at
		FROM daily_records
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *Store) GetOrCreateDailyRecord(ctx context.Context, stationID string, date string, defaults domain.DayPrices) (*domain.DailyRecord, error) {
	if stationID == "" || date == "" {
		return nil, store.ErrInvalidInput
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return nil, store.ErrInvalidInput
	}
	if _, err := s.GetStation(ctx, stationID); err != nil {
		return nil, err
	}

	// ON CONFLICT DO NOTHING keeps concurrent openers of the same day from
	// racing: exactly one insert wins, everyone reads the same row back.
	id := xid.New("day")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_records (id, station_id, date, retail_price, wholesale_price, gas_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (station_id, date) DO NOTHING
	`, id, stationID, date, defaults.Retail, defaults.Wholesale, defaults.Gas)
	if err != nil {
		return nil, err
	}

	record, err := scanDailyRecord(s.db.QueryRowContext(ctx, `
		SELECT id, station_id, date, retail_price, wholesale_price, gas_price, created_at
		FROM daily_records
		WHERE station_id = $1 AND date = $2
	`, stationID, date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *Store) CreateShiftWithReadings(ctx context.Context, shift domain.Shift, readings []domain.MeterReading) (*domain.Shift, error) {
	if shift.DailyRecordID == "" || (shift.ShiftNumber != domain.ShiftNumberMorning && shift.ShiftNumber != domain.ShiftNumberAfternoon) {
		return nil, store.ErrInvalidInput
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shifts (id, daily_record_id, shift_number, status, carry_over_from_shift_id, opening_stock, opened_by, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, shift.ID, shift.DailyRecordID, shift.ShiftNumber, shift.Status, nullString(shift.CarryOverFromShiftID),
		decimalNull(shift.OpeningStock), shift.OpenedBy, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	for _, reading := range readings {
		if reading.NozzleNumber < 1 {
			return nil, store.ErrInvalidInput
		}
		if reading.ID == "" {
			reading.ID = xid.New("meter")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO meter_readings (id, shift_id, nozzle_number, start_reading, end_reading, sold_qty, recorded_by, recorded_at, photo_ref)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, reading.ID, shift.ID, reading.NozzleNumber, reading.StartReading, decimalNull(reading.EndReading),
			decimalNull(reading.SoldQty), reading.RecordedBy, timeNull(reading.RecordedAt), reading.PhotoRef)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrInvalidInput
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := shift
	return &created, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, shiftSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) FindShift(ctx context.Context, dailyRecordID string, shiftNumber int) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, shiftSelect+` WHERE daily_record_id = $1 AND shift_number = $2`, dailyRecordID, shiftNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetShiftContext(ctx context.Context, id string) (*domain.ShiftContext, error) {
	shift, err := s.GetShift(ctx, id)
	if err != nil {
		return nil, err
	}
	record, err := s.GetDailyRecordByID(ctx, shift.DailyRecordID)
	if err != nil {
		return nil, err
	}
	station, err := s.GetStation(ctx, record.StationID)
	if err != nil {
		return nil, err
	}
	readings, err := s.ListMeterReadings(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.ShiftContext{
		Shift:       *shift,
		DailyRecord: *record,
		Station:     *station,
		Readings:    readings,
	}, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, closedBy string, varianceNote string, closedAt time.Time, recon domain.ShiftReconciliation, anomalies []domain.MeterAnomaly) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// The status guard in the WHERE clause is what makes a double close lose:
	// the second transaction matches zero rows.
	shift, err := scanShift(tx.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closed_by = $2, variance_note = $3, closed_at = $4
		WHERE id = $1 AND status = 'open'
		RETURNING id, daily_record_id, shift_number, status, carry_over_from_shift_id, opening_stock, variance_note, opened_by, closed_by, locked_by, opened_at, closed_at, locked_at
	`, shiftID, closedBy, varianceNote, closedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetShift(ctx, shiftID); errors.Is(getErr, store.ErrNotFound) {
				return nil, store.ErrNotFound
			}
			return nil, store.ErrShiftNotOpen
		}
		return nil, err
	}

	recon.ShiftID = shiftID
	if recon.ComputedAt.IsZero() {
		recon.ComputedAt = closedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO shift_reconciliations (shift_id, expected_fuel_amount, expected_other_amount, total_expected, cash_received, credit_received, transfer_received, total_received, variance, variance_status, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, recon.ShiftID, recon.ExpectedFuelAmount, recon.ExpectedOtherAmount, recon.TotalExpected,
		recon.CashReceived, recon.CreditReceived, recon.TransferReceived, recon.TotalReceived,
		recon.Variance, recon.VarianceStatus, recon.ComputedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrShiftNotOpen
		}
		return nil, err
	}

	for _, anomaly := range anomalies {
		if err := insertAnomaly(ctx, tx, anomaly); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return shift, nil
}

func (s *Store) LockShift(ctx context.Context, shiftID string, lockedBy string, lockedAt time.Time) (*domain.Shift, error) {
	if lockedAt.IsZero() {
		lockedAt = time.Now().UTC()
	}

	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'locked', locked_by = $2, locked_at = $3
		WHERE id = $1 AND status = 'closed'
		RETURNING id, daily_record_id, shift_number, status, carry_over_from_shift_id, opening_stock, variance_note, opened_by, closed_by, locked_by, opened_at, closed_at, locked_at
	`, shiftID, lockedBy, lockedAt))
	if err == nil {
		return shift, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	existing, getErr := s.GetShift(ctx, shiftID)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status == domain.ShiftStatusLocked {
		return nil, store.ErrShiftLocked
	}
	return nil, store.ErrShiftNotClosed
}

func (s *Store) GetReconciliation(ctx context.Context, shiftID string) (*domain.ShiftReconciliation, error) {
	var recon domain.ShiftReconciliation
	err := s.db.QueryRowContext(ctx, `
		SELECT shift_id, expected_fuel_amount, expected_other_amount, total_expected, cash_received, credit_received, transfer_received, total_received, variance, variance_status, computed_at
		FROM shift_reconciliations
		WHERE shift_id = $1
	`, shiftID).Scan(&recon.ShiftID, &recon.ExpectedFuelAmount, &recon.ExpectedOtherAmount, &recon.TotalExpected,
		&recon.CashReceived, &recon.CreditReceived, &recon.TransferReceived, &recon.TotalReceived,
		&recon.Variance, &recon.VarianceStatus, &recon.ComputedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &recon, nil
}

func (s *Store) UpsertMeterReading(ctx context.Context, reading domain.MeterReading) (*domain.MeterReading, error) {
	if reading.ShiftID == "" || reading.NozzleNumber < 1 {
		return nil, store.ErrInvalidInput
	}
	if reading.ID == "" {
		reading.ID = xid.New("meter")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO meter_readings (id, shift_id, nozzle_number, start_reading, end_reading, sold_qty, recorded_by, recorded_at, photo_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (shift_id, nozzle_number) DO UPDATE
		SET start_reading = EXCLUDED.start_reading,
		    end_reading = EXCLUDED.end_reading,
		    sold_qty = EXCLUDED.sold_qty,
		    recorded_by = EXCLUDED.recorded_by,
		    recorded_at = EXCLUDED.recorded_at,
		    photo_ref = EXCLUDED.photo_ref
		RETURNING id
	`, reading.ID, reading.ShiftID, reading.NozzleNumber, reading.StartReading, decimalNull(reading.EndReading),
		decimalNull(reading.SoldQty), reading.RecordedBy, timeNull(reading.RecordedAt), reading.PhotoRef).Scan(&reading.ID)
	if err != nil {
		return nil, err
	}
	saved := reading
	return &saved, nil
}

func (s *Store) ListMeterReadings(ctx context.Context, shiftID string) ([]domain.MeterReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_id, nozzle_number, start_reading, end_reading, sold_qty, recorded_by, recorded_at, photo_ref
		FROM meter_readings
		WHERE shift_id = $1
		ORDER BY nozzle_number
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]domain.MeterReading, 0, 8)
	for rows.Next() {
		var reading domain.MeterReading
		var end, sold decimal.NullDecimal
		var recordedAt sql.NullTime
		if err := rows.Scan(&reading.ID, &reading.ShiftID, &reading.NozzleNumber, &reading.StartReading,
			&end, &sold, &reading.RecordedBy, &recordedAt, &reading.PhotoRef); err != nil {
			return nil, err
		}
		reading.EndReading = nullDecimalPtr(end)
		reading.SoldQty = nullDecimalPtr(sold)
		reading.RecordedAt = nullTimePtr(recordedAt)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

func (s *Store) BackfillMeterStart(ctx context.Context, shiftID string, nozzleNumber int, start decimal.Decimal) error {
	// The start_reading = 0 guard keeps staff-entered values untouched; the
	// derived sold quantity is recomputed when an end reading already exists.
	res, err := s.db.ExecContext(ctx, `
		UPDATE meter_readings
		SET start_reading = $3,
		    sold_qty = CASE WHEN end_reading IS NULL THEN NULL ELSE end_reading - $3 END
		WHERE shift_id = $1 AND nozzle_number = $2 AND start_reading = 0
	`, shiftID, nozzleNumber, start)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM meter_readings WHERE shift_id = $1 AND nozzle_number = $2)
	`, shiftID, nozzleNumber).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListSoldQtyHistory(ctx context.Context, stationID string, nozzleNumber int, since time.Time) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mr.sold_qty
		FROM meter_readings mr
		JOIN shifts sh ON sh.id = mr.shift_id
		JOIN daily_records dr ON dr.id = sh.daily_record_id
		WHERE dr.station_id = $1
		  AND mr.nozzle_number = $2
		  AND mr.sold_qty IS NOT NULL
		  AND sh.status IN ('closed','locked')
		  AND sh.closed_at >= $3
	`, stationID, nozzleNumber, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]decimal.Decimal, 0, 16)
	for rows.Next() {
		var qty decimal.Decimal
		if err := rows.Scan(&qty); err != nil {
			return nil, err
		}
		history = append(history, qty)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Store) CreateMeterAnomalies(ctx context.Context, anomalies []domain.MeterAnomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, anomaly := range anomalies {
		if err := insertAnomaly(ctx, tx, anomaly); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertAnomaly writes one anomaly row inside the caller's transaction. The
// NOT EXISTS guard keeps a (shift, nozzle) pair from being flagged twice when
// a pre-close screening already saved it.
func insertAnomaly(ctx context.Context, tx *sql.Tx, anomaly domain.MeterAnomaly) error {
	if anomaly.ShiftID == "" || anomaly.Severity == "" {
		return store.ErrInvalidInput
	}
	if anomaly.ID == "" {
		anomaly.ID = xid.New("anom")
	}
	if anomaly.CreatedAt.IsZero() {
		anomaly.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meter_anomalies (id, shift_id, station_id, nozzle_number, sold_qty, average_qty, percent_diff, severity, note, reviewed_by, reviewed_at, created_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
		WHERE NOT EXISTS (
			SELECT 1 FROM meter_anomalies WHERE shift_id = $2 AND nozzle_number = $4
		)
	`, anomaly.ID, anomaly.ShiftID, anomaly.StationID, anomaly.NozzleNumber, anomaly.SoldQty,
		anomaly.AverageQty, anomaly.PercentDiff, anomaly.Severity, anomaly.Note,
		anomaly.ReviewedBy, timeNull(anomaly.ReviewedAt), anomaly.CreatedAt)
	return err
}

func (s *Store) ListPendingAnomalies(ctx context.Context, stationID string, limit int) ([]domain.MeterAnomaly, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shift_id, station_id, nozzle_number, sold_qty, average_qty, percent_diff, severity, note, reviewed_by, reviewed_at, created_at
		FROM meter_anomalies
		WHERE reviewed_at IS NULL AND ($1 = '' OR station_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	anomalies := make([]domain.MeterAnomaly, 0, limit)
	for rows.Next() {
		anomaly, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, *anomaly)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return anomalies, nil
}

func (s *Store) MarkAnomalyReviewed(ctx context.Context, anomalyID string, reviewedBy string, reviewedAt time.Time) (*domain.MeterAnomaly, error) {
	if reviewedAt.IsZero() {
		reviewedAt = time.Now().UTC()
	}

	anomaly, err := scanAnomaly(s.db.QueryRowContext(ctx, `
		UPDATE meter_anomalies
		SET reviewed_by = $2, reviewed_at = $3
		WHERE id = $1 AND reviewed_at IS NULL
		RETURNING id, shift_id, station_id, nozzle_number, sold_qty, average_qty, percent_diff, severity, note, reviewed_by, reviewed_at, created_at
	`, anomalyID, reviewedBy, reviewedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if existsErr := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM meter_anomalies WHERE id = $1)`, anomalyID).Scan(&exists); existsErr != nil {
				return nil, existsErr
			}
			if exists {
				return nil, store.ErrInvalidInput
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return anomaly, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.StationID == "" || tx.ShiftID == "" || domain.PaymentBucket(tx.PaymentMethod) == "" {
		return nil, store.ErrInvalidInput
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, station_id, daily_record_id, shift_id, kind, product_id, quantity, amount, payment_method, voided, void_reason, voided_at, recorded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, tx.ID, tx.StationID, tx.DailyRecordID, tx.ShiftID, tx.Kind, tx.ProductID, tx.Quantity, tx.Amount,
		tx.PaymentMethod, tx.Voided, tx.VoidReason, timeNull(tx.VoidedAt), tx.RecordedBy, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := tx
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, transactionSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, stationID string, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, transactionSelect+`
		WHERE station_id = $1 AND voided = false AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`, stationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `
		UPDATE transactions
		SET voided = true, void_reason = $2, voided_at = $3
		WHERE id = $1 AND voided = false
		RETURNING id, station_id, daily_record_id, shift_id, kind, product_id, quantity, amount, payment_method, voided, void_reason, voided_at, recorded_by, created_at
	`, id, reason, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetTransaction(ctx, id); errors.Is(getErr, store.ErrNotFound) {
				return nil, store.ErrNotFound
			}
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return tx, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Type == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, station_id, name, type, unit, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.StationID, product.Name, product.Type, product.Unit, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, name, type, unit, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.StationID, &product.Name, &product.Type, &product.Unit, &product.Active, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, stationID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, name, type, unit, active, created_at
		FROM products
		WHERE active = true AND ($1 = '' OR station_id = '' OR station_id = $1)
		ORDER BY name
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.StationID, &product.Name, &product.Type, &product.Unit, &product.Active, &product.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetInventory(ctx context.Context, stationID string, productID string) (*domain.ProductInventory, error) {
	var inv domain.ProductInventory
	err := s.db.QueryRowContext(ctx, `
		SELECT station_id, product_id, quantity, alert_level, updated_at
		FROM product_inventory
		WHERE station_id = $1 AND product_id = $2
	`, stationID, productID).Scan(&inv.StationID, &inv.ProductID, &inv.Quantity, &inv.AlertLevel, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) AdjustInventory(ctx context.Context, stationID string, productID string, delta decimal.Decimal) (*domain.ProductInventory, error) {
	if stationID == "" || productID == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var inv domain.ProductInventory
	err = tx.QueryRowContext(ctx, `
		SELECT station_id, product_id, quantity, alert_level, updated_at
		FROM product_inventory
		WHERE station_id = $1 AND product_id = $2
		FOR UPDATE
	`, stationID, productID).Scan(&inv.StationID, &inv.ProductID, &inv.Quantity, &inv.AlertLevel, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		qty := delta
		if qty.IsNegative() {
			qty = decimal.Zero
		}
		inv = domain.ProductInventory{StationID: stationID, ProductID: productID, Quantity: qty, UpdatedAt: time.Now().UTC()}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO product_inventory (station_id, product_id, quantity, alert_level, updated_at)
			VALUES ($1,$2,$3,0,$4)
		`, inv.StationID, inv.ProductID, inv.Quantity, inv.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &inv, nil
	}
	if err != nil {
		return nil, err
	}

	newQty := inv.Quantity.Add(delta)
	if newQty.IsNegative() {
		return nil, fmt.Errorf("%w: have %s, requested %s", store.ErrInsufficientStock, inv.Quantity, delta.Neg())
	}

	inv.Quantity = newQty
	inv.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE product_inventory
		SET quantity = $3, updated_at = $4
		WHERE station_id = $1 AND product_id = $2
	`, stationID, productID, inv.Quantity, inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) ListInventory(ctx context.Context, stationID string) ([]domain.ProductInventory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT station_id, product_id, quantity, alert_level, updated_at
		FROM product_inventory
		WHERE station_id = $1
		ORDER BY product_id
	`, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ProductInventory, 0, 16)
	for rows.Next() {
		var inv domain.ProductInventory
		if err := rows.Scan(&inv.StationID, &inv.ProductID, &inv.Quantity, &inv.AlertLevel, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) RotatePrice(ctx context.Context, entry domain.PriceEntry) (*domain.PriceEntry, error) {
	if entry.ProductType == "" || !entry.RetailPrice.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if entry.EffectiveFrom.IsZero() {
		entry.EffectiveFrom = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = xid.New("price")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE price_entries
		SET effective_to = $3
		WHERE product_type = $1 AND station_id = $2 AND effective_to IS NULL
	`, entry.ProductType, entry.StationID, entry.EffectiveFrom)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO price_entries (id, product_type, station_id, retail_price, wholesale_price, effective_from, effective_to, set_by)
		VALUES ($1,$2,$3,$4,$5,$6,NULL,$7)
	`, entry.ID, entry.ProductType, entry.StationID, entry.RetailPrice, decimalNull(entry.WholesalePrice),
		entry.EffectiveFrom, entry.SetBy)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := entry
	return &created, nil
}

func (s *Store) FindPriceAt(ctx context.Context, productType string, stationID string, at time.Time) (*domain.PriceEntry, error) {
	entry, err := scanPriceEntry(s.db.QueryRowContext(ctx, `
		SELECT id, product_type, station_id, retail_price, wholesale_price, effective_from, effective_to, set_by
		FROM price_entries
		WHERE product_type = $1 AND (station_id = '' OR station_id = $2)
		  AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
		ORDER BY (station_id = $2 AND station_id <> '') DESC, effective_from DESC
		LIMIT 1
	`, productType, stationID, at))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// No window covers the instant; fall back to the most recent entry.
	entry, err = scanPriceEntry(s.db.QueryRowContext(ctx, `
		SELECT id, product_type, station_id, retail_price, wholesale_price, effective_from, effective_to, set_by
		FROM price_entries
		WHERE product_type = $1 AND (station_id = '' OR station_id = $2)
		ORDER BY (station_id = $2 AND station_id <> '') DESC, effective_from DESC
		LIMIT 1
	`, productType, stationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListPriceEntries(ctx context.Context, productType string, stationID string, limit int) ([]domain.PriceEntry, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_type, station_id, retail_price, wholesale_price, effective_from, effective_to, set_by
		FROM price_entries
		WHERE product_type = $1 AND ($2 = '' OR station_id = '' OR station_id = $2)
		ORDER BY effective_from DESC
		LIMIT $3
	`, productType, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PriceEntry, 0, limit)
	for rows.Next() {
		entry, err := scanPriceEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, station_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StationID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, stationID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR station_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, stationID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StationID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const shiftSelect = `
	SELECT id, daily_record_id, shift_number, status, carry_over_from_shift_id, opening_stock, variance_note, opened_by, closed_by, locked_by, opened_at, closed_at, locked_at
	FROM shifts
`

const transactionSelect = `
	SELECT id, station_id, daily_record_id, shift_id, kind, product_id, quantity, amount, payment_method, voided, void_reason, voided_at, recorded_by, created_at
	FROM transactions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var carryOver, varianceNote, closedBy, lockedBy sql.NullString
	var openingStock decimal.NullDecimal
	var closedAt, lockedAt sql.NullTime
	err := row.Scan(&shift.ID, &shift.DailyRecordID, &shift.ShiftNumber, &shift.Status,
		&carryOver, &openingStock, &varianceNote, &shift.OpenedBy, &closedBy, &lockedBy,
		&shift.OpenedAt, &closedAt, &lockedAt)
	if err != nil {
		return nil, err
	}
	shift.CarryOverFromShiftID = carryOver.String
	shift.VarianceNote = varianceNote.String
	shift.ClosedBy = closedBy.String
	shift.LockedBy = lockedBy.String
	shift.OpeningStock = nullDecimalPtr(openingStock)
	shift.ClosedAt = nullTimePtr(closedAt)
	shift.LockedAt = nullTimePtr(lockedAt)
	return &shift, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var voidedAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.StationID, &tx.DailyRecordID, &tx.ShiftID, &tx.Kind, &tx.ProductID,
		&tx.Quantity, &tx.Amount, &tx.PaymentMethod, &tx.Voided, &tx.VoidReason, &voidedAt,
		&tx.RecordedBy, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.VoidedAt = nullTimePtr(voidedAt)
	return &tx, nil
}

func scanAnomaly(row rowScanner) (*domain.MeterAnomaly, error) {
	var anomaly domain.MeterAnomaly
	var reviewedAt sql.NullTime
	err := row.Scan(&anomaly.ID, &anomaly.ShiftID, &anomaly.StationID, &anomaly.NozzleNumber,
		&anomaly.SoldQty, &anomaly.AverageQty, &anomaly.PercentDiff, &anomaly.Severity,
		&anomaly.Note, &anomaly.ReviewedBy, &reviewedAt, &anomaly.CreatedAt)
	if err != nil {
		return nil, err
	}
	anomaly.ReviewedAt = nullTimePtr(reviewedAt)
	return &anomaly, nil
}

func scanPriceEntry(row rowScanner) (*domain.PriceEntry, error) {
	var entry domain.PriceEntry
	var wholesale decimal.NullDecimal
	var effectiveTo sql.NullTime
	err := row.Scan(&entry.ID, &entry.ProductType, &entry.StationID, &entry.RetailPrice,
		&wholesale, &entry.EffectiveFrom, &effectiveTo, &entry.SetBy)
	if err != nil {
		return nil, err
	}
	entry.WholesalePrice = nullDecimalPtr(wholesale)
	entry.EffectiveTo = nullTimePtr(effectiveTo)
	return &entry, nil
}

func scanDailyRecord(row rowScanner) (*domain.DailyRecord, error) {
	var record domain.DailyRecord
	err := row.Scan(&record.ID, &record.StationID, &record.Date, &record.RetailPrice,
		&record.WholesalePrice, &record.GasPrice, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func decimalNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	value := d.Decimal
	return &value
}

func timeNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time.UTC()
	return &value
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
