package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradewind.yaml")

	yaml := `
storage:
  data_dir: /data
  sqlite_path: /data/tradewind.db
alpaca:
  api_key: file-key
  api_secret: file-secret
logging:
  level: debug
risk:
  max_daily_loss_pct: 0.03
  cooldown_minutes: 10
execution:
  duration_minutes: 120
  max_participation_rate: 0.05
reconcile:
  tolerance_pct: 0.02
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/data")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Risk.MaxDailyLossPct != 0.03 {
		t.Errorf("Risk.MaxDailyLossPct = %v, want 0.03", cfg.Risk.MaxDailyLossPct)
	}
	if cfg.Risk.CooldownMinutes != 10 {
		t.Errorf("Risk.CooldownMinutes = %v, want 10", cfg.Risk.CooldownMinutes)
	}
	if cfg.Execution.DurationMinutes != 120 {
		t.Errorf("Execution.DurationMinutes = %v, want 120", cfg.Execution.DurationMinutes)
	}
	if cfg.Reconcile.TolerancePct != 0.02 {
		t.Errorf("Reconcile.TolerancePct = %v, want 0.02", cfg.Reconcile.TolerancePct)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradewind.yaml")

	if err := os.WriteFile(path, []byte("storage:\n  data_dir: /data\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Alpaca.BaseURL != "https://paper-api.alpaca.markets" {
		t.Errorf("default Alpaca.BaseURL = %q", cfg.Alpaca.BaseURL)
	}
	if cfg.Execution.SliceIntervalMinutes != 30 {
		t.Errorf("default SliceIntervalMinutes = %v, want 30", cfg.Execution.SliceIntervalMinutes)
	}
	if cfg.Execution.CatchUpThreshold != 0.20 {
		t.Errorf("default CatchUpThreshold = %v, want 0.20", cfg.Execution.CatchUpThreshold)
	}
	if cfg.Execution.UrgencyFactor != 1.5 {
		t.Errorf("default UrgencyFactor = %v, want 1.5", cfg.Execution.UrgencyFactor)
	}
	if cfg.Risk.MaxDailyLossPct != 0.05 {
		t.Errorf("default Risk.MaxDailyLossPct = %v, want 0.05", cfg.Risk.MaxDailyLossPct)
	}
	if cfg.Reconcile.IntervalSeconds != 300 {
		t.Errorf("default Reconcile.IntervalSeconds = %v, want 300", cfg.Reconcile.IntervalSeconds)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradewind.yaml")

	yaml := `
alpaca:
  api_key: file-key
  api_secret: file-secret
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want env override %q", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "env-secret" {
		t.Errorf("Alpaca.APISecret = %q, want env override %q", cfg.Alpaca.APISecret, "env-secret")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want env override %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/tradewind.yaml"); err == nil {
		t.Error("Load on a missing file should return an error")
	}
}
