// Package config loads the YAML configuration for the tradewind engine and
// applies environment-variable overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradewind engine.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Slippage  SlippageConfig  `yaml:"slippage"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RiskConfig defines circuit-breaker thresholds and recovery timing.
type RiskConfig struct {
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
	MaxVaRPct            float64 `yaml:"max_var_pct"`
	MaxVolatility        float64 `yaml:"max_volatility"`
	MaxPositionValue     float64 `yaml:"max_position_value"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxAPIErrors         int     `yaml:"max_api_errors"`
	CooldownMinutes      int     `yaml:"cooldown_minutes"`
	HalfOpenMinutes      int     `yaml:"half_open_minutes"`
	AllowClosingTrades   bool    `yaml:"allow_closing_trades"`
}

// ExecutionConfig defines VWAP scheduler defaults.
type ExecutionConfig struct {
	DurationMinutes      int     `yaml:"duration_minutes"`
	SliceIntervalMinutes int     `yaml:"slice_interval_minutes"`
	MaxParticipationRate float64 `yaml:"max_participation_rate"`
	MinSliceQty          float64 `yaml:"min_slice_qty"`
	LimitOffsetPct       float64 `yaml:"limit_offset_pct"`
	AggressiveOffsetPct  float64 `yaml:"aggressive_offset_pct"`
	CatchUpThreshold     float64 `yaml:"catch_up_threshold"`
	UrgencyFactor        float64 `yaml:"urgency_factor"`
	UseLimitOrders       bool    `yaml:"use_limit_orders"`
	AdaptToMarket        bool    `yaml:"adapt_to_market"`
}

// SlippageConfig holds coefficients for the market-impact models.
type SlippageConfig struct {
	FixedRateBps   float64 `yaml:"fixed_rate_bps"`
	TemporaryCoeff float64 `yaml:"temporary_coeff"`
	PermanentCoeff float64 `yaml:"permanent_coeff"`
}

// ReconcileConfig controls the position reconciler.
type ReconcileConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	TolerancePct    float64 `yaml:"tolerance_pct"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns a Config with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills unset fields with engine defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}

	if cfg.Risk.MaxDrawdownPct == 0 {
		cfg.Risk.MaxDrawdownPct = 0.10
	}
	if cfg.Risk.MaxDailyLossPct == 0 {
		cfg.Risk.MaxDailyLossPct = 0.05
	}
	if cfg.Risk.MaxConsecutiveLosses == 0 {
		cfg.Risk.MaxConsecutiveLosses = 5
	}
	if cfg.Risk.MaxAPIErrors == 0 {
		cfg.Risk.MaxAPIErrors = 10
	}
	if cfg.Risk.CooldownMinutes == 0 {
		cfg.Risk.CooldownMinutes = 30
	}
	if cfg.Risk.HalfOpenMinutes == 0 {
		cfg.Risk.HalfOpenMinutes = 15
	}

	if cfg.Execution.DurationMinutes == 0 {
		cfg.Execution.DurationMinutes = 240
	}
	if cfg.Execution.SliceIntervalMinutes == 0 {
		cfg.Execution.SliceIntervalMinutes = 30
	}
	if cfg.Execution.MaxParticipationRate == 0 {
		cfg.Execution.MaxParticipationRate = 0.10
	}
	if cfg.Execution.LimitOffsetPct == 0 {
		cfg.Execution.LimitOffsetPct = 0.001
	}
	if cfg.Execution.AggressiveOffsetPct == 0 {
		cfg.Execution.AggressiveOffsetPct = 0.005
	}
	if cfg.Execution.CatchUpThreshold == 0 {
		cfg.Execution.CatchUpThreshold = 0.20
	}
	if cfg.Execution.UrgencyFactor == 0 {
		cfg.Execution.UrgencyFactor = 1.5
	}

	if cfg.Slippage.FixedRateBps == 0 {
		cfg.Slippage.FixedRateBps = 2.0
	}
	if cfg.Slippage.TemporaryCoeff == 0 {
		cfg.Slippage.TemporaryCoeff = 0.1
	}
	if cfg.Slippage.PermanentCoeff == 0 {
		cfg.Slippage.PermanentCoeff = 0.05
	}

	if cfg.Reconcile.IntervalSeconds == 0 {
		cfg.Reconcile.IntervalSeconds = 300
	}
	if cfg.Reconcile.TolerancePct == 0 {
		cfg.Reconcile.TolerancePct = 0.01
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
