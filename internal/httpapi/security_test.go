package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}

	headers := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Referrer-Policy":            "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestOptionsPreflightShortCircuits(t *testing.T) {
	_, handler := newTestAPI(t)

	rec := doRequest(t, handler, http.MethodOptions, "/api/v1/stations", "", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	_, handler := newTestAPI(t)

	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"username":"admin","password":"wrong-password"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt status = %d, want 429", last)
	}
}

func TestOversizeBodyRejected(t *testing.T) {
	_, handler := newTestAPI(t)
	staff := loginAsStaff(t, handler)
	csrf := fetchCSRFToken(t, handler)

	padding := strings.Repeat("x", 2<<20)
	body := `{"station_id":"` + padding + `","shift_number":1}`
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/shifts/open", staff, csrf, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	api, handler := newTestAPI(t)

	token := fetchCSRFToken(t, handler)
	if !api.validateCSRFToken(token) {
		t.Fatalf("freshly issued token must validate")
	}
	if api.validateCSRFToken("not-a-real-token") {
		t.Fatalf("arbitrary token must not validate")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("empty token must not validate")
	}
}
