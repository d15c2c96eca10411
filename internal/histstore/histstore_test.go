package histstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open(driverName, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(Schema)
	require.NoError(t, err)

	base := time.Date(2026, 3, 5, 3, 45, 0, 0, time.UTC) // 09:15 IST
	_, err = db.Exec(`INSERT INTO spot_bars (symbol, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"NIFTY", base.Unix(), 22000.0, 22050.0, 21980.0, 22030.0, 1000)
	require.NoError(t, err)

	expiry := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	_, err = db.Exec(`INSERT INTO option_bars (underlying, expiry, strike, side, ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"NIFTY", expiry.Unix(), 22000, "CE", base.Unix(), 120.0, 130.0, 115.0, 125.0, 500)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO expiries (underlying, expiry) VALUES (?, ?)`, "NIFTY", expiry.Unix())
	require.NoError(t, err)
}

func TestStore_SpotOHLC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.db")
	seedDB(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	bars, err := s.SpotOHLC(context.Background(), "NIFTY",
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 22030.0, bars[0].Close)
}

func TestStore_OptionOHLC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.db")
	seedDB(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	expiry := time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	bars, err := s.OptionOHLC(context.Background(), "NIFTY", expiry, 22000, models.SideCE,
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 125.0, bars[0].Close)
}

func TestStore_Expiries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.db")
	seedDB(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	expiries, err := s.Expiries(context.Background(), "NIFTY",
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, expiries, 1)
	assert.Equal(t, 2026, expiries[0].Year())
}
