// Package config loads and validates the engine's YAML configuration: a
// nested struct tree, env-var expansion, Normalize()-then-Validate() on
// Load, and typed accessors rather than ad-hoc map lookups.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/errs"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/monitor"
)

// Defaults applied by Normalize for fields the file omits.
const (
	defaultPollingIntervalSeconds = 10
	defaultSignalCooldownSeconds  = 300
	defaultMissedGraceSeconds     = 300
	defaultMaxConcurrentPositions = 3
	defaultWindowHours            = 48
	defaultMinCandles             = 20
	defaultReconcileIntervalSecs  = 60
	defaultSnapshotIntervalMins   = 15
	defaultSnapshotRetain         = 100
	defaultBeAtR                  = 0.6
	defaultExpiryForceHour        = 14
	defaultExpiryForceMinute      = 45
	defaultExpiryPartialHour      = 13
	defaultExpiryPartialMinute    = 0
	defaultExpiryPartialRatio     = 0.5
	defaultLegacyStopLossPct      = 0.35
	defaultLegacyLock1Pct         = 0.60
	defaultLegacyLock2Pct         = 0.80
	defaultLegacyLock3Pct         = 1.00
)

// Config is the complete engine configuration, loaded from a single YAML
// file, environment variables expanded in-place.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	Runner      RunnerConfig      `yaml:"runner"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Storage     StorageConfig     `yaml:"storage"`
	Control     ControlConfig     `yaml:"control"`
}

// EnvironmentConfig selects the run mode and logging verbosity.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // live | backtest
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig selects and authenticates the broker adapter. The concrete
// wire format is adapter-specific; the core only needs the provider
// name and credentials to construct one.
type BrokerConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	AccountID string `yaml:"account_id"`
}

// MarketDataConfig selects and configures the market-data adapter.
type MarketDataConfig struct {
	Provider    string `yaml:"provider"`
	WindowHours int    `yaml:"window_hours"`
	MinCandles  int    `yaml:"min_candles"`
}

// RunnerConfig is the live runner's tunables plus the control-loop cadence
// and gate thresholds. Only the fields carried by models.RunnerTunables are
// live-updatable; the rest take effect on restart.
type RunnerConfig struct {
	Symbol                   string  `yaml:"symbol"`
	PollingIntervalSeconds   int     `yaml:"polling_interval_seconds"`
	SignalCooldownSeconds    int     `yaml:"signal_cooldown_seconds"`
	MissedGraceSeconds       int     `yaml:"missed_grace_seconds"`
	MaxConcurrentPositions   int     `yaml:"max_concurrent_positions"`
	ReconcileIntervalSeconds int     `yaml:"reconcile_interval_seconds"`
	InitialCapital           float64 `yaml:"initial_capital"`

	SLPoints          float64 `yaml:"sl_points"`
	TrailPoints       float64 `yaml:"trail_points"`
	OrderLots         int     `yaml:"order_lots"`
	AtmOffset         int     `yaml:"atm_offset"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	LotSize           int     `yaml:"lot_size"`
	RRRatio           float64 `yaml:"rr_ratio"`

	ExecutionArmed bool `yaml:"execution_armed"`
}

// MonitorConfig is the per-position Rules captured at spawn time.
type MonitorConfig struct {
	Book1Points float64 `yaml:"book1_points"`
	Book2Points float64 `yaml:"book2_points"`
	Book1Ratio  float64 `yaml:"book1_ratio"`
	BeAtR       float64 `yaml:"be_at_r"`

	ExpiryForceExitHour   int `yaml:"expiry_force_exit_hour"`
	ExpiryForceExitMinute int `yaml:"expiry_force_exit_minute"`

	ExpiryPartialBookEnabled bool    `yaml:"expiry_partial_book_enabled"`
	ExpiryPartialBookHour    int     `yaml:"expiry_partial_book_hour"`
	ExpiryPartialBookMinute  int     `yaml:"expiry_partial_book_minute"`
	ExpiryPartialBookRatio   float64 `yaml:"expiry_partial_book_ratio"`
}

// ToRules converts the config's monitor section plus the runner's live
// tunables into a monitor.Rules snapshot for a newly spawned position.
func (m MonitorConfig) ToRules(slPoints, trailPoints float64, lotSize int) monitor.Rules {
	return monitor.Rules{
		SLPoints:                 slPoints,
		TrailPoints:              trailPoints,
		Book1Points:              m.Book1Points,
		Book2Points:              m.Book2Points,
		Book1Ratio:               m.Book1Ratio,
		BeAtR:                    m.BeAtR,
		LotSize:                  lotSize,
		ExpiryForceExitHour:      m.ExpiryForceExitHour,
		ExpiryForceExitMinute:    m.ExpiryForceExitMinute,
		ExpiryPartialBookEnabled: m.ExpiryPartialBookEnabled,
		ExpiryPartialBookHour:    m.ExpiryPartialBookHour,
		ExpiryPartialBookMinute:  m.ExpiryPartialBookMinute,
		ExpiryPartialBookRatio:   m.ExpiryPartialBookRatio,
	}
}

// BacktestConfig configures the walk-forward simulator. UseTieredExits
// defaults true; the legacy percentage-ladder path stays selectable.
type BacktestConfig struct {
	HistDBPath           string  `yaml:"hist_db_path"`
	UseTieredExits       bool    `yaml:"use_tiered_exits"`
	LegacyStopLossPct    float64 `yaml:"legacy_stop_loss_pct"`
	LegacyLock1Pct       float64 `yaml:"legacy_lock1_pct"`
	LegacyLock2Pct       float64 `yaml:"legacy_lock2_pct"`
	LegacyLock3Pct       float64 `yaml:"legacy_lock3_pct"`
	StrikeMode           string  `yaml:"strike_mode"` // ATM | ITM | OTM
	StrikeOffset         int     `yaml:"strike_offset"`
	ExpiryBlackoutHour   int     `yaml:"expiry_blackout_hour"`
	ExpiryBlackoutMinute int     `yaml:"expiry_blackout_minute"`
}

// StorageConfig locates the trade journal, event log, and state snapshots.
type StorageConfig struct {
	JournalPath             string `yaml:"journal_path"`
	MissedJournalPath       string `yaml:"missed_journal_path"`
	EventLogPath            string `yaml:"event_log_path"`
	SnapshotDir             string `yaml:"snapshot_dir"`
	SnapshotRetain          int    `yaml:"snapshot_retain"`
	SnapshotIntervalMinutes int    `yaml:"snapshot_interval_minutes"`
}

// ControlConfig configures the JSON control/metrics API.
type ControlConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads, expands, parses, normalizes, and validates the config file
// at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Config{Backtest: BacktestConfig{UseTieredExits: true}}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Normalize fills in defaults for every field the file omits.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.Mode) == "" {
		c.Environment.Mode = "live"
	}
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}
	if strings.TrimSpace(c.Runner.Symbol) == "" {
		c.Runner.Symbol = "NIFTY"
	}
	if c.Runner.PollingIntervalSeconds == 0 {
		c.Runner.PollingIntervalSeconds = defaultPollingIntervalSeconds
	}
	if c.Runner.SignalCooldownSeconds == 0 {
		c.Runner.SignalCooldownSeconds = defaultSignalCooldownSeconds
	}
	if c.Runner.MissedGraceSeconds == 0 {
		c.Runner.MissedGraceSeconds = defaultMissedGraceSeconds
	}
	if c.Runner.MaxConcurrentPositions == 0 {
		c.Runner.MaxConcurrentPositions = defaultMaxConcurrentPositions
	}
	if c.Runner.ReconcileIntervalSeconds == 0 {
		c.Runner.ReconcileIntervalSeconds = defaultReconcileIntervalSecs
	}
	if c.Runner.RRRatio == 0 {
		c.Runner.RRRatio = 1.8
	}
	if c.MarketData.WindowHours == 0 {
		c.MarketData.WindowHours = defaultWindowHours
	}
	if c.MarketData.MinCandles == 0 {
		c.MarketData.MinCandles = defaultMinCandles
	}
	if c.Monitor.BeAtR == 0 {
		c.Monitor.BeAtR = defaultBeAtR
	}
	if c.Monitor.ExpiryForceExitHour == 0 && c.Monitor.ExpiryForceExitMinute == 0 {
		c.Monitor.ExpiryForceExitHour = defaultExpiryForceHour
		c.Monitor.ExpiryForceExitMinute = defaultExpiryForceMinute
	}
	if c.Monitor.ExpiryPartialBookHour == 0 && c.Monitor.ExpiryPartialBookMinute == 0 {
		c.Monitor.ExpiryPartialBookHour = defaultExpiryPartialHour
		c.Monitor.ExpiryPartialBookMinute = defaultExpiryPartialMinute
	}
	if c.Monitor.ExpiryPartialBookRatio == 0 {
		c.Monitor.ExpiryPartialBookRatio = defaultExpiryPartialRatio
	}
	if strings.TrimSpace(c.Backtest.StrikeMode) == "" {
		c.Backtest.StrikeMode = "ATM"
	}
	if c.Backtest.LegacyStopLossPct == 0 {
		c.Backtest.LegacyStopLossPct = defaultLegacyStopLossPct
	}
	if c.Backtest.LegacyLock1Pct == 0 {
		c.Backtest.LegacyLock1Pct = defaultLegacyLock1Pct
	}
	if c.Backtest.LegacyLock2Pct == 0 {
		c.Backtest.LegacyLock2Pct = defaultLegacyLock2Pct
	}
	if c.Backtest.LegacyLock3Pct == 0 {
		c.Backtest.LegacyLock3Pct = defaultLegacyLock3Pct
	}
	if c.Backtest.ExpiryBlackoutHour == 0 && c.Backtest.ExpiryBlackoutMinute == 0 {
		c.Backtest.ExpiryBlackoutHour = 11
		c.Backtest.ExpiryBlackoutMinute = 30
	}
	if strings.TrimSpace(c.Storage.JournalPath) == "" {
		c.Storage.JournalPath = "data/trades.csv"
	}
	if strings.TrimSpace(c.Storage.MissedJournalPath) == "" {
		c.Storage.MissedJournalPath = "data/missed_trades.csv"
	}
	if strings.TrimSpace(c.Storage.EventLogPath) == "" {
		c.Storage.EventLogPath = "data/events.jsonl"
	}
	if strings.TrimSpace(c.Storage.SnapshotDir) == "" {
		c.Storage.SnapshotDir = "data/snapshots"
	}
	if c.Storage.SnapshotRetain == 0 {
		c.Storage.SnapshotRetain = defaultSnapshotRetain
	}
	if c.Storage.SnapshotIntervalMinutes == 0 {
		c.Storage.SnapshotIntervalMinutes = defaultSnapshotIntervalMins
	}
	if c.Control.Port == 0 {
		c.Control.Port = 8765
	}
}

// Validate enforces the tunable constraints plus basic sanity checks,
// failing loudly (Load's caller exits non-zero) rather than starting with
// a nonsensical configuration.
func (c *Config) Validate() error {
	if c.Environment.Mode != "live" && c.Environment.Mode != "backtest" {
		return fmt.Errorf("environment.mode must be 'live' or 'backtest'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}
	if c.Environment.Mode == "live" {
		if strings.TrimSpace(c.Broker.APIKey) == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if strings.TrimSpace(c.Broker.AccountID) == "" {
			return fmt.Errorf("broker.account_id is required in live mode")
		}
	}
	if err := ValidateTunables(c.Runner.SLPoints, c.Runner.TrailPoints, c.Runner.OrderLots, c.Runner.LotSize, c.Runner.DailyLossLimitPct); err != nil {
		return err
	}
	if c.Runner.InitialCapital <= 0 {
		return fmt.Errorf("runner.initial_capital must be > 0")
	}
	if c.Monitor.Book1Ratio <= 0 || c.Monitor.Book1Ratio > 1 {
		return fmt.Errorf("monitor.book1_ratio must be in (0,1]")
	}
	if c.Backtest.UseTieredExits {
		if c.Monitor.Book1Points <= 0 || c.Monitor.Book2Points <= 0 {
			return fmt.Errorf("monitor.book1_points/book2_points must be > 0 when tiered exits are enabled")
		}
	} else if c.Backtest.LegacyStopLossPct <= 0 || c.Backtest.LegacyStopLossPct >= 1 {
		return fmt.Errorf("backtest.legacy_stop_loss_pct must be in (0,1)")
	}
	return nil
}

// ValidateTunables enforces the control-call constraints: slPoints > 0,
// trailPoints > 0, orderLots > 0, lotSize > 0, dailyLossLimitPct > 0. A
// failing mutation is rejected and the previous value kept.
func ValidateTunables(slPoints, trailPoints float64, orderLots, lotSize int, dailyLossLimitPct float64) error {
	if slPoints <= 0 {
		return fmt.Errorf("%w: sl_points must be > 0", errs.ErrInvalid)
	}
	if trailPoints <= 0 {
		return fmt.Errorf("%w: trail_points must be > 0", errs.ErrInvalid)
	}
	if orderLots <= 0 {
		return fmt.Errorf("%w: order_lots must be > 0", errs.ErrInvalid)
	}
	if lotSize <= 0 {
		return fmt.Errorf("%w: lot_size must be > 0", errs.ErrInvalid)
	}
	if dailyLossLimitPct <= 0 {
		return fmt.Errorf("%w: daily_loss_limit_pct must be > 0", errs.ErrInvalid)
	}
	return nil
}

// PollingInterval returns the runner cycle cadence as a duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Runner.PollingIntervalSeconds) * time.Second
}

// SignalCooldown returns the duplicate-suppression window as a duration.
func (c *Config) SignalCooldown() time.Duration {
	return time.Duration(c.Runner.SignalCooldownSeconds) * time.Second
}

// MissedGrace returns the missed-trade classification grace window.
func (c *Config) MissedGrace() time.Duration {
	return time.Duration(c.Runner.MissedGraceSeconds) * time.Second
}

// ReconcileInterval returns the broker-reconciliation cadence.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Runner.ReconcileIntervalSeconds) * time.Second
}
