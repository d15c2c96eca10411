// Package histstore is the read-only SQLite-backed historical data store
// feeding the backtest engine's inputs: aligned spot OHLC, option OHLC by
// (expiry, strike, side), and the expiries calendar.
//
// One row per bar, indexed by symbol and timestamp. The engine never
// writes through this package; data is loaded by an out-of-band importer.
package histstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/candle"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// Store is a read-only handle onto the historical SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path (read-only). It does not check
// that the expected schema is present; a missing table surfaces as an
// error from the first query against it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("histstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite single-writer/reader discipline
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Schema is the DDL an importer is expected to have created; Open does not
// run it (the store is read-only), but tests and local setup tooling use it.
const Schema = `
CREATE TABLE IF NOT EXISTS spot_bars (
	symbol    TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	open      REAL NOT NULL,
	high      REAL NOT NULL,
	low       REAL NOT NULL,
	close     REAL NOT NULL,
	volume    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS option_bars (
	underlying TEXT NOT NULL,
	expiry     INTEGER NOT NULL,
	strike     INTEGER NOT NULL,
	side       TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	open       REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	close      REAL NOT NULL,
	volume     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (underlying, expiry, strike, side, ts)
);

CREATE TABLE IF NOT EXISTS expiries (
	underlying TEXT NOT NULL,
	expiry     INTEGER NOT NULL,
	PRIMARY KEY (underlying, expiry)
);
`

// SpotOHLC returns 1-minute (or finer) raw bars for symbol between from and
// to (inclusive), ordered by timestamp, ready for candle.Align.
func (s *Store) SpotOHLC(ctx context.Context, symbol string, from, to time.Time) ([]candle.RawBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM spot_bars
		WHERE symbol = ? AND ts BETWEEN ? AND ?
		ORDER BY ts ASC`, symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("histstore: spot query: %w", err)
	}
	defer rows.Close()

	var out []candle.RawBar
	for rows.Next() {
		var ts int64
		var b candle.RawBar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("histstore: spot scan: %w", err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// OptionOHLC returns raw bars for a single option contract identified by
// (underlying, expiry, strike, side).
func (s *Store) OptionOHLC(ctx context.Context, underlying string, expiry time.Time, strike int, side models.Side, from, to time.Time) ([]candle.RawBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM option_bars
		WHERE underlying = ? AND expiry = ? AND strike = ? AND side = ?
		  AND ts BETWEEN ? AND ?
		ORDER BY ts ASC`,
		underlying, expiry.Unix(), strike, string(side), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("histstore: option query: %w", err)
	}
	defer rows.Close()

	var out []candle.RawBar
	for rows.Next() {
		var ts int64
		var b candle.RawBar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("histstore: option scan: %w", err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListedStrikes returns the distinct strikes with stored option OHLC for
// (underlying, expiry, side), ascending, for the backtest engine's
// nearest-listed fallback.
func (s *Store) ListedStrikes(ctx context.Context, underlying string, expiry time.Time, side models.Side) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT strike FROM option_bars
		WHERE underlying = ? AND expiry = ? AND side = ?
		ORDER BY strike ASC`, underlying, expiry.Unix(), string(side))
	if err != nil {
		return nil, fmt.Errorf("histstore: listed strikes query: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var strike int
		if err := rows.Scan(&strike); err != nil {
			return nil, fmt.Errorf("histstore: listed strikes scan: %w", err)
		}
		out = append(out, strike)
	}
	return out, rows.Err()
}

// Expiries returns the listed expiry calendar for underlying between from
// and to, ascending.
func (s *Store) Expiries(ctx context.Context, underlying string, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT expiry FROM expiries
		WHERE underlying = ? AND expiry BETWEEN ? AND ?
		ORDER BY expiry ASC`, underlying, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("histstore: expiries query: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("histstore: expiries scan: %w", err)
		}
		out = append(out, time.Unix(ts, 0).UTC())
	}
	return out, rows.Err()
}
