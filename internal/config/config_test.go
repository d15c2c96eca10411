package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validBacktestConfig = `
environment:
  mode: backtest
runner:
  symbol: NIFTY
  initial_capital: 100000
  sl_points: 30
  trail_points: 10
  order_lots: 1
  lot_size: 75
  daily_loss_limit_pct: 5
monitor:
  book1_points: 40
  book2_points: 54
  book1_ratio: 0.5
backtest:
  use_tiered_exits: true
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBacktestConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Environment.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.PollingInterval())
	assert.Equal(t, 300*time.Second, cfg.SignalCooldown())
	assert.Equal(t, 300*time.Second, cfg.MissedGrace())
	assert.Equal(t, 48, cfg.MarketData.WindowHours)
	assert.Equal(t, 20, cfg.MarketData.MinCandles)
	assert.Equal(t, 0.6, cfg.Monitor.BeAtR)
	assert.Equal(t, "data/trades.csv", cfg.Storage.JournalPath)
	assert.Equal(t, "data/missed_trades.csv", cfg.Storage.MissedJournalPath)
	assert.Equal(t, 100, cfg.Storage.SnapshotRetain)
	assert.Equal(t, 8765, cfg.Control.Port)
	assert.False(t, cfg.Runner.ExecutionArmed) // interlock defaults off
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "key-from-env")
	body := validBacktestConfig + `
broker:
  api_key: ${TEST_BROKER_KEY}
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Broker.APIKey)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, validBacktestConfig+"\nnot_a_section:\n  x: 1\n"))
	require.Error(t, err)
}

func TestLoad_LiveModeRequiresBrokerCredentials(t *testing.T) {
	body := `
environment:
  mode: live
runner:
  initial_capital: 100000
  sl_points: 30
  trail_points: 10
  order_lots: 1
  lot_size: 75
  daily_loss_limit_pct: 5
monitor:
  book1_points: 40
  book2_points: 54
  book1_ratio: 0.5
backtest:
  use_tiered_exits: true
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidateTunables(t *testing.T) {
	require.NoError(t, ValidateTunables(30, 10, 1, 75, 5))

	for _, bad := range []func() error{
		func() error { return ValidateTunables(0, 10, 1, 75, 5) },
		func() error { return ValidateTunables(30, 0, 1, 75, 5) },
		func() error { return ValidateTunables(30, 10, 0, 75, 5) },
		func() error { return ValidateTunables(30, 10, 1, 0, 5) },
		func() error { return ValidateTunables(30, 10, 1, 75, 0) },
	} {
		err := bad()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrInvalid))
	}
}

func TestToRules_CarriesMonitorSection(t *testing.T) {
	m := MonitorConfig{
		Book1Points: 40, Book2Points: 54, Book1Ratio: 0.5, BeAtR: 0.8,
		ExpiryForceExitHour: 14, ExpiryForceExitMinute: 45,
	}
	r := m.ToRules(30, 10, 75)
	assert.Equal(t, 30.0, r.SLPoints)
	assert.Equal(t, 10.0, r.TrailPoints)
	assert.Equal(t, 75, r.LotSize)
	assert.Equal(t, 40.0, r.Book1Points)
	assert.Equal(t, 0.8, r.BeAtR)
	assert.Equal(t, 14, r.ExpiryForceExitHour)
}
