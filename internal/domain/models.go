package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Station types. Full-service and gas stations have dispenser meters and are
// subject to meter-completeness checks at shift close; simple stations sell
// pre-packaged product only.
const (
	StationTypeFull   = "full"
	StationTypeSimple = "simple"
	StationTypeGas    = "gas"
)

// Shift lifecycle is strictly linear: open -> closed -> locked.
const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
	ShiftStatusLocked = "locked"
)

const (
	ShiftNumberMorning   = 1
	ShiftNumberAfternoon = 2
)

const (
	AnomalySeverityWarning  = "warning"
	AnomalySeverityCritical = "critical"
)

const (
	VarianceStatusGreen  = "green"
	VarianceStatusYellow = "yellow"
	VarianceStatusRed    = "red"
)

const (
	TxKindFuel    = "fuel"
	TxKindProduct = "product"
)

// Payment methods, partitioned into the three reconciliation buckets.
const (
	PaymentCash          = "cash"
	PaymentCredit        = "credit"
	PaymentDeferred      = "deferred"
	PaymentInstitutional = "institutional"
	PaymentTransfer      = "transfer"
	PaymentCard          = "card"
)

const (
	ProductTypeFuel      = "fuel"
	ProductTypeLPG       = "lpg"
	ProductTypeLubricant = "lubricant"
	ProductTypeShop      = "shop"
)

const DateLayout = "2006-01-02"

type Station struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	NozzleCount int       `json:"nozzle_count"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type StationCreateRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	NozzleCount int    `json:"nozzle_count"`
}

// DailyRecord holds one station-local calendar day and its configured prices.
// Created lazily when the first shift of the day opens; never deleted once it
// has shifts.
type DailyRecord struct {
	ID             string          `json:"id"`
	StationID      string          `json:"station_id"`
	Date           string          `json:"date"` // station-local, DateLayout
	RetailPrice    decimal.Decimal `json:"retail_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	GasPrice       decimal.Decimal `json:"gas_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

// DayPrices carries a day's configured prices, used when upserting the
// successor DailyRecord during carry-over.
type DayPrices struct {
	Retail    decimal.Decimal `json:"retail"`
	Wholesale decimal.Decimal `json:"wholesale"`
	Gas       decimal.Decimal `json:"gas"`
}

type Shift struct {
	ID                   string           `json:"id"`
	DailyRecordID        string           `json:"daily_record_id"`
	ShiftNumber          int              `json:"shift_number"`
	Status               string           `json:"status"`
	CarryOverFromShiftID string           `json:"carry_over_from_shift_id,omitempty"`
	OpeningStock         *decimal.Decimal `json:"opening_stock,omitempty"`
	VarianceNote         string           `json:"variance_note,omitempty"`
	OpenedBy             string           `json:"opened_by"`
	ClosedBy             string           `json:"closed_by,omitempty"`
	LockedBy             string           `json:"locked_by,omitempty"`
	OpenedAt             time.Time        `json:"opened_at"`
	ClosedAt             *time.Time       `json:"closed_at,omitempty"`
	LockedAt             *time.Time       `json:"locked_at,omitempty"`
}

type ShiftOpenRequest struct {
	StationID   string `json:"station_id"`
	Date        string `json:"date,omitempty"` // defaults to today
	ShiftNumber int    `json:"shift_number"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

// MeterReading belongs to one shift, one nozzle. SoldQty is always derived
// from EndReading - StartReading, never written independently.
type MeterReading struct {
	ID           string           `json:"id"`
	ShiftID      string           `json:"shift_id"`
	NozzleNumber int              `json:"nozzle_number"`
	StartReading decimal.Decimal  `json:"start_reading"`
	EndReading   *decimal.Decimal `json:"end_reading,omitempty"`
	SoldQty      *decimal.Decimal `json:"sold_qty,omitempty"`
	RecordedBy   string           `json:"recorded_by,omitempty"`
	RecordedAt   *time.Time       `json:"recorded_at,omitempty"`
	PhotoRef     string           `json:"photo_ref,omitempty"`
}

type MeterSaveRequest struct {
	ShiftID      string           `json:"shift_id"`
	NozzleNumber int              `json:"nozzle_number"`
	StartReading decimal.Decimal  `json:"start_reading"`
	EndReading   *decimal.Decimal `json:"end_reading,omitempty"`
	PhotoRef     string           `json:"photo_ref,omitempty"`
}

type MeterSaveResponse struct {
	Reading    MeterReading `json:"reading"`
	Continuous bool         `json:"continuous"`
	Gap        string       `json:"gap,omitempty"`
}

type MeterAnomaly struct {
	ID           string          `json:"id"`
	ShiftID      string          `json:"shift_id"`
	StationID    string          `json:"station_id"`
	NozzleNumber int             `json:"nozzle_number"`
	SoldQty      decimal.Decimal `json:"sold_qty"`
	AverageQty   decimal.Decimal `json:"average_qty"`
	PercentDiff  float64         `json:"percent_diff"`
	Severity     string          `json:"severity"`
	Note         string          `json:"note,omitempty"`
	ReviewedBy   string          `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type AnomalySaveRequest struct {
	Note string `json:"note,omitempty"`
}

type AnomalyCheckResult struct {
	HasAnomalies bool           `json:"has_anomalies"`
	Anomalies    []MeterAnomaly `json:"anomalies"`
	RequiresNote bool           `json:"requires_note"`
}

// ShiftReconciliation is the write-once snapshot stored at close time. It is
// never recomputed retroactively.
type ShiftReconciliation struct {
	ShiftID             string          `json:"shift_id"`
	ExpectedFuelAmount  decimal.Decimal `json:"expected_fuel_amount"`
	ExpectedOtherAmount decimal.Decimal `json:"expected_other_amount"`
	TotalExpected       decimal.Decimal `json:"total_expected"`
	CashReceived        decimal.Decimal `json:"cash_received"`
	CreditReceived      decimal.Decimal `json:"credit_received"`
	TransferReceived    decimal.Decimal `json:"transfer_received"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	Variance            decimal.Decimal `json:"variance"`
	VarianceStatus      string          `json:"variance_status"`
	ComputedAt          time.Time       `json:"computed_at"`
}

type CloseValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type CloseShiftRequest struct {
	ShiftID      string `json:"shift_id"`
	VarianceNote string `json:"variance_note,omitempty"`
}

type CloseShiftResponse struct {
	Shift          Shift               `json:"shift"`
	Reconciliation ShiftReconciliation `json:"reconciliation"`
}

type CarryOverRequest struct {
	ClosedShiftID string           `json:"closed_shift_id"`
	ClosingStock  *decimal.Decimal `json:"closing_stock,omitempty"`
}

type CarryOverResponse struct {
	NextShift Shift          `json:"next_shift"`
	Readings  []MeterReading `json:"readings"`
}

type ModifiableResult struct {
	CanModify bool   `json:"can_modify"`
	Reason    string `json:"reason,omitempty"`
}

type ProductInventory struct {
	StationID  string          `json:"station_id"`
	ProductID  string          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	AlertLevel decimal.Decimal `json:"alert_level"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type InventoryUpdateRequest struct {
	StationID string          `json:"station_id"`
	ProductID string          `json:"product_id"`
	Delta     decimal.Decimal `json:"delta"`
}

type InventoryUpdateResponse struct {
	Inventory ProductInventory `json:"inventory"`
}

type InventorySummaryItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	AlertLevel  decimal.Decimal `json:"alert_level"`
	LowStock    bool            `json:"low_stock"`
}

type InventorySummary struct {
	StationID string                 `json:"station_id"`
	Items     []InventorySummaryItem `json:"items"`
	LowCount  int                    `json:"low_count"`
}

type Product struct {
	ID        string    `json:"id"`
	StationID string    `json:"station_id,omitempty"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Unit      string    `json:"unit"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	StationID string `json:"station_id,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Unit      string `json:"unit"`
}

// PriceEntry is one window of a non-overlapping, time-ordered price history
// per (product type, station). A nil EffectiveTo means "still current".
type PriceEntry struct {
	ID             string           `json:"id"`
	ProductType    string           `json:"product_type"`
	StationID      string           `json:"station_id,omitempty"` // "" = all stations
	RetailPrice    decimal.Decimal  `json:"retail_price"`
	WholesalePrice *decimal.Decimal `json:"wholesale_price,omitempty"`
	EffectiveFrom  time.Time        `json:"effective_from"`
	EffectiveTo    *time.Time       `json:"effective_to,omitempty"`
	SetBy          string           `json:"set_by,omitempty"`
}

type PriceSetRequest struct {
	ProductType    string           `json:"product_type"`
	StationID      string           `json:"station_id,omitempty"`
	RetailPrice    decimal.Decimal  `json:"retail_price"`
	WholesalePrice *decimal.Decimal `json:"wholesale_price,omitempty"`
	EffectiveFrom  *time.Time       `json:"effective_from,omitempty"`
}

type AmountRequest struct {
	ProductType string          `json:"product_type"`
	StationID   string          `json:"station_id,omitempty"`
	Liters      decimal.Decimal `json:"liters"`
	IsWholesale bool            `json:"is_wholesale"`
}

type AmountResponse struct {
	ProductType string          `json:"product_type"`
	Liters      decimal.Decimal `json:"liters"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Transaction is a recorded payment event within a shift. Reconciliation reads
// only non-voided rows; voiding is the sanctioned correction path.
type Transaction struct {
	ID            string          `json:"id"`
	StationID     string          `json:"station_id"`
	DailyRecordID string          `json:"daily_record_id"`
	ShiftID       string          `json:"shift_id"`
	Kind          string          `json:"kind"`
	ProductID     string          `json:"product_id,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Voided        bool            `json:"voided"`
	VoidReason    string          `json:"void_reason,omitempty"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty"`
	RecordedBy    string          `json:"recorded_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TransactionCreateRequest struct {
	ShiftID       string          `json:"shift_id"`
	Kind          string          `json:"kind"`
	ProductID     string          `json:"product_id,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

type VoidTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// ShiftContext is a hydrated shift with every relation the calculators need.
// Loading it fails fast if any required relation is absent, instead of
// defaulting deep inside calculation logic.
type ShiftContext struct {
	Shift       Shift          `json:"shift"`
	DailyRecord DailyRecord    `json:"daily_record"`
	Station     Station        `json:"station"`
	Readings    []MeterReading `json:"readings"`
}

// Thresholds is the single named configuration structure injected into the
// anomaly detector and the reconciliation calculator.
type Thresholds struct {
	VarianceYellow         decimal.Decimal
	VarianceRed            decimal.Decimal
	AnomalyWarningPercent  float64
	AnomalyCriticalPercent float64
	AnomalyWindowDays      int
	ContinuityTolerance    decimal.Decimal
	FallbackFuelPrice      decimal.Decimal
}

type AuditLog struct {
	ID            string    `json:"id"`
	StationID     string    `json:"station_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// PaymentBucket resolves a payment method into one of the three
// reconciliation buckets: cash, credit (includes deferred and institutional
// payers), or transfer (includes card).
func PaymentBucket(method string) string {
	switch method {
	case PaymentCash:
		return "cash"
	case PaymentCredit, PaymentDeferred, PaymentInstitutional:
		return "credit"
	case PaymentTransfer, PaymentCard:
		return "transfer"
	default:
		return ""
	}
}

// StationRequiresMetering reports whether the station type carries dispenser
// meters that must be complete before a shift can close.
func StationRequiresMetering(stationType string) bool {
	return stationType == StationTypeFull || stationType == StationTypeGas
}
