package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadThresholdDefaults(t *testing.T) {
	t.Setenv("VARIANCE_YELLOW", "")
	t.Setenv("VARIANCE_RED", "")
	t.Setenv("ANOMALY_WARNING_PERCENT", "")
	t.Setenv("ANOMALY_CRITICAL_PERCENT", "")

	cfg := Load()
	if got := cfg.Thresholds.VarianceYellow.String(); got != "200" {
		t.Fatalf("VarianceYellow default = %s, want 200", got)
	}
	if got := cfg.Thresholds.VarianceRed.String(); got != "500" {
		t.Fatalf("VarianceRed default = %s, want 500", got)
	}
	if cfg.Thresholds.AnomalyWarningPercent != 50 {
		t.Fatalf("AnomalyWarningPercent default = %v, want 50", cfg.Thresholds.AnomalyWarningPercent)
	}
	if cfg.Thresholds.AnomalyCriticalPercent != 100 {
		t.Fatalf("AnomalyCriticalPercent default = %v, want 100", cfg.Thresholds.AnomalyCriticalPercent)
	}
	if cfg.Thresholds.AnomalyWindowDays != 7 {
		t.Fatalf("AnomalyWindowDays default = %d, want 7", cfg.Thresholds.AnomalyWindowDays)
	}
}

func TestLoadRejectsMalformedThresholds(t *testing.T) {
	t.Setenv("VARIANCE_YELLOW", "not-a-number")
	t.Setenv("ANOMALY_WARNING_PERCENT", "-5")

	cfg := Load()
	if got := cfg.Thresholds.VarianceYellow.String(); got != "200" {
		t.Fatalf("malformed VARIANCE_YELLOW should fall back to 200, got %s", got)
	}
	if cfg.Thresholds.AnomalyWarningPercent != 50 {
		t.Fatalf("negative ANOMALY_WARNING_PERCENT should fall back to 50, got %v", cfg.Thresholds.AnomalyWarningPercent)
	}
}
