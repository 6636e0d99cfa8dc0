package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"spbukita/backend/internal/anomaly"
	"spbukita/backend/internal/cache"
	"spbukita/backend/internal/domain"
	"spbukita/backend/internal/service"
	"spbukita/backend/internal/store/memory"

	"github.com/shopspring/decimal"
)

func testThresholds() domain.Thresholds {
	return domain.Thresholds{
		VarianceYellow:         decimal.NewFromInt(200),
		VarianceRed:            decimal.NewFromInt(500),
		AnomalyWarningPercent:  50,
		AnomalyCriticalPercent: 100,
		AnomalyWindowDays:      7,
		FallbackFuelPrice:      decimal.NewFromFloat(31.34),
	}
}

// newTestAPI stands up the full HTTP surface over the seeded memory store.
func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()

	repo := memory.NewSeeded()
	detector := anomaly.NewDetector(repo, cache.NoopAverageCache{}, time.Minute, testThresholds())
	svc := service.New(repo, detector, testThresholds())
	auth := NewAuthManager("test-secret-key-not-for-production", time.Hour, repo)
	api := New(svc, auth, "http://localhost:5173")
	return api, api.Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, csrf, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func loginAsAdmin(t *testing.T, handler http.Handler) string {
	return loginAs(t, handler, "admin", "admin123")
}

func loginAsStaff(t *testing.T, handler http.Handler) string {
	return loginAs(t, handler, "staff", "staff123")
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch csrf token: status %d", rec.Code)
	}
	var resp struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return resp.Token
}

func TestListStationsRequiresAuth(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/stations", "", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestListStations(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAsStaff(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/stations", token, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Stations []domain.Station `json:"stations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Stations) != 3 {
		t.Fatalf("expected 3 seeded stations, got %d", len(resp.Stations))
	}
}

func TestMutationWithoutCSRFTokenRejected(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAsStaff(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", token, "",
		`{"station_id":"st-kios","date":"2025-06-10","shift_number":1}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	admin := loginAsAdmin(t, handler)
	csrf := fetchCSRFToken(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf,
		`{"station_id":"st-kios","date":"2025-06-10","shift_number":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("open: status %d body %s", rec.Code, rec.Body.String())
	}
	var opened domain.ShiftResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode open: %v", err)
	}
	shiftID := opened.Shift.ID

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/shifts/"+shiftID+"/validate-close", staff, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: status %d", rec.Code)
	}
	var validation domain.CloseValidation
	if err := json.Unmarshal(rec.Body.Bytes(), &validation); err != nil {
		t.Fatalf("decode validation: %v", err)
	}
	if !validation.Valid {
		t.Fatalf("kiosk shift must validate, errors: %v", validation.Errors)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shifts/close", staff, csrf,
		`{"shift_id":"`+shiftID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: status %d body %s", rec.Code, rec.Body.String())
	}

	// Staff cannot lock.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shifts/"+shiftID+"/lock", staff, csrf, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff lock: status %d, want 403", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shifts/"+shiftID+"/lock", admin, csrf, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin lock: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/shifts/"+shiftID+"/reconciliation", staff, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reconciliation: status %d", rec.Code)
	}
}

func TestCloseShiftWithUnreadNozzlesIs422(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	csrf := fetchCSRFToken(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf,
		`{"station_id":"st-pusat","date":"2025-06-10","shift_number":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("open: status %d", rec.Code)
	}
	var opened domain.ShiftResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shifts/close", staff, csrf,
		`{"shift_id":"`+opened.Shift.ID+`"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("close: status %d, want 422", rec.Code)
	}
}

func TestSaveMeterReadingOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	csrf := fetchCSRFToken(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf,
		`{"station_id":"st-gas","date":"2025-06-10","shift_number":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("open: status %d", rec.Code)
	}
	var opened domain.ShiftResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/meters", staff, csrf,
		`{"shift_id":"`+opened.Shift.ID+`","nozzle_number":1,"start_reading":"100","end_reading":"150.5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save meter: status %d body %s", rec.Code, rec.Body.String())
	}

	var saved domain.MeterSaveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved.Reading.SoldQty == nil || !saved.Reading.SoldQty.Equal(decimal.NewFromFloat(50.5)) {
		t.Fatalf("sold qty = %v, want 50.5", saved.Reading.SoldQty)
	}

	// Nozzle 9 does not exist on a 2-nozzle station.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/meters", staff, csrf,
		`{"shift_id":"`+opened.Shift.ID+`","nozzle_number":9,"start_reading":"0"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range nozzle: status %d, want 400", rec.Code)
	}
}

func TestAnomaliesAdminOnly(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	admin := loginAsAdmin(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/anomalies", staff, "", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff anomalies: status %d, want 403", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/anomalies", admin, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin anomalies: status %d", rec.Code)
	}
}

// openGasShift opens a shift on the 2-nozzle gas station and fills both end
// readings, returning the shift id.
func openGasShift(t *testing.T, handler http.Handler, staff, csrf, date, end string) string {
	t.Helper()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf,
		`{"station_id":"st-gas","date":"`+date+`","shift_number":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("open %s: status %d body %s", date, rec.Code, rec.Body.String())
	}
	var opened domain.ShiftResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode: %v", err)
	}

	for nozzle := 1; nozzle <= 2; nozzle++ {
		rec = doRequest(t, handler, http.MethodPost, "/api/v1/meters", staff, csrf,
			`{"shift_id":"`+opened.Shift.ID+`","nozzle_number":`+strconv.Itoa(nozzle)+`,"start_reading":"0","end_reading":"`+end+`"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("save meter nozzle %d: status %d body %s", nozzle, rec.Code, rec.Body.String())
		}
	}
	return opened.Shift.ID
}

func TestShiftAnomalyScreeningOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	admin := loginAsAdmin(t, handler)
	csrf := fetchCSRFToken(t, handler)

	// A closed first day gives the detector its baseline.
	day1 := openGasShift(t, handler, staff, csrf, "2025-06-10", "10")
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/close", staff, csrf,
		`{"shift_id":"`+day1+`","variance_note":"first day of records"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("close day one: status %d body %s", rec.Code, rec.Body.String())
	}

	day2 := openGasShift(t, handler, staff, csrf, "2025-06-11", "100")

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/shifts/"+day2+"/anomalies", staff, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("screen: status %d body %s", rec.Code, rec.Body.String())
	}
	var check domain.AnomalyCheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !check.HasAnomalies || !check.RequiresNote || len(check.Anomalies) != 2 {
		t.Fatalf("screening = %+v, want both nozzles flagged critical", check)
	}

	// Critical deviations cannot be saved without a justification.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shifts/"+day2+"/anomalies", staff, csrf, `{"note":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("save without note: status %d, want 422", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/shifts/"+day2+"/anomalies", staff, csrf,
		`{"note":"holiday convoy, verified by supervisor"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save with note: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/anomalies?station_id=st-gas", admin, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending: status %d", rec.Code)
	}
	var pending struct {
		Anomalies []domain.MeterAnomaly `json:"anomalies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pending.Anomalies) != 2 {
		t.Fatalf("expected 2 persisted anomalies, got %d", len(pending.Anomalies))
	}
}

func TestRecordAndVoidTransactionOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	csrf := fetchCSRFToken(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf,
		`{"station_id":"st-kios","date":"2025-06-10","shift_number":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("open: status %d", rec.Code)
	}
	var opened domain.ShiftResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &opened); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/transactions", staff, csrf,
		`{"shift_id":"`+opened.Shift.ID+`","kind":"product","product_id":"prd-lpg-3kg","quantity":"2","amount":"850","payment_method":"cash"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("record: status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Voiding without a reason is a 400.
	rec = doRequest(t, handler, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/void", staff, csrf, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("void without reason: status %d, want 400", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/transactions/"+created.Transaction.ID+"/void", staff, csrf,
		`{"reason":"wrong amount keyed in"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("void: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestInventorySummaryOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/inventory?station_id=st-kios", staff, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: status %d body %s", rec.Code, rec.Body.String())
	}

	var summary domain.InventorySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summary.Items) != 4 {
		t.Fatalf("expected 4 seeded products, got %d", len(summary.Items))
	}
}

func TestSetPriceStaffForbidden(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	csrf := fetchCSRFToken(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/prices", staff, csrf,
		`{"product_type":"fuel","retail_price":"31.34"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff set price: status %d, want 403", rec.Code)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	csrf := fetchCSRFToken(t, handler)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf,
		`{"station_id":"st-kios","shift_number":1,"bogus":"field"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
