package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "trades.csv"))
	require.NoError(t, err)
	return j
}

func sampleEntry() Entry {
	return Entry{
		Timestamp:     time.Date(2026, 3, 5, 10, 15, 0, 0, time.UTC),
		Symbol:        "NIFTY",
		Tradingsymbol: "NIFTY28MAR2622500CE",
		Strike:        22500,
		Direction:     "CE",
		OrderID:       "ord-1",
		Entry:         120.5,
		SL:            90,
		TP:            180,
		Status:        models.TradeStatusOpen,
		PreReason:     "breakout_confirmed",
		Quantity:      75,
	}
}

func TestJournal_AppendAndRead(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Append(sampleEntry()))

	entries, err := j.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ord-1", entries[0].OrderID)
	assert.Equal(t, models.TradeStatusOpen, entries[0].Status)
	assert.Nil(t, entries[0].Exit)
}

func TestJournal_UpdateExit_IsIdempotent(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Append(sampleEntry()))

	require.NoError(t, j.UpdateExit("ord-1", 150, 29.5*75, "tp1_hit"))
	require.NoError(t, j.UpdateExit("ord-1", 150, 29.5*75, "tp1_hit"))

	entries, err := j.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.TradeStatusClosed, entries[0].Status)
	require.NotNil(t, entries[0].Exit)
	assert.Equal(t, 150.0, *entries[0].Exit)
	assert.Equal(t, "tp1_hit", entries[0].PostOutcome)
}

func TestJournal_UpdateExit_UnknownOrderIDErrors(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Append(sampleEntry()))
	err := j.UpdateExit("does-not-exist", 1, 1, "x")
	assert.Error(t, err)
}

func TestJournal_OpenTrades(t *testing.T) {
	j := newJournal(t)
	require.NoError(t, j.Append(sampleEntry()))
	second := sampleEntry()
	second.OrderID = "ord-2"
	require.NoError(t, j.Append(second))
	require.NoError(t, j.UpdateExit("ord-2", 100, -15*75, "sl_hit"))

	open, err := j.OpenTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ord-1", open[0].OrderID)
}

func TestJournal_ComputeStats(t *testing.T) {
	j := newJournal(t)
	e1 := sampleEntry()
	e1.OrderID = "ord-1"
	e2 := sampleEntry()
	e2.OrderID = "ord-2"
	require.NoError(t, j.Append(e1))
	require.NoError(t, j.Append(e2))
	require.NoError(t, j.UpdateExit("ord-1", 150, 2200, "tp1_hit"))
	require.NoError(t, j.UpdateExit("ord-2", 90, -1100, "sl_hit"))

	stats, err := j.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, 1100.0, stats.TotalPnL, 0.001)
	assert.InDelta(t, 50.0, stats.WinRate, 0.001)
}

func TestJournal_ReopenTolerantOfExtraColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(sampleEntry()))

	j2, err := Open(path)
	require.NoError(t, err)
	entries, err := j2.AllEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
