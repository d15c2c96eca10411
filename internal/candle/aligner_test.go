package candle

import (
	"testing"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBar(h, m int, o, hi, lo, c float64) RawBar {
	return RawBar{
		Timestamp: time.Date(2026, 7, 31, h, m, 0, 0, IST),
		Open:      o, High: hi, Low: lo, Close: c, Volume: 1,
	}
}

func TestAlign_BucketsAndAggregates(t *testing.T) {
	bars := []RawBar{
		mkBar(9, 15, 100, 101, 99, 100.5),
		mkBar(9, 45, 100.5, 105, 99.5, 104),
		mkBar(10, 20, 104, 106, 103, 105),
	}
	out := Align(bars, time.Date(2026, 7, 31, 11, 0, 0, 0, IST))
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, 9, first.Timestamp.Hour())
	assert.Equal(t, 15, first.Timestamp.Minute())
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 105.0, first.High)
	assert.Equal(t, 99.0, first.Low)
	assert.Equal(t, 104.0, first.Close)
	assert.False(t, first.Forming)

	second := out[1]
	assert.Equal(t, 10, second.Timestamp.Hour())
	assert.True(t, second.Forming, "closes at 11:15, after now=11:00")
}

func TestAlign_FormingFlag(t *testing.T) {
	bars := []RawBar{mkBar(14, 20, 100, 101, 99, 100)}
	now := time.Date(2026, 7, 31, 14, 40, 0, 0, IST)
	out := Align(bars, now)
	require.Len(t, out, 1)
	assert.True(t, out[0].Forming, "closes at 15:15 which is after now")
}

func TestAlign_DropsEmptyBuckets(t *testing.T) {
	bars := []RawBar{
		mkBar(9, 15, 100, 101, 99, 100),
		mkBar(12, 20, 110, 111, 109, 110),
	}
	out := Align(bars, time.Date(2026, 7, 31, 13, 0, 0, 0, IST))
	require.Len(t, out, 2, "no bucket produced for the gap between 10:15 and 12:15")
}

func TestMergeSnapshot_RaisesHighLowersLowSetsClose(t *testing.T) {
	candles := []models.Candle{{Open: 100, High: 105, Low: 99, Close: 102, Forming: true}}
	MergeSnapshot(candles, 107)
	assert.Equal(t, 107.0, candles[0].High)
	assert.Equal(t, 107.0, candles[0].Close)

	MergeSnapshot(candles, 95)
	assert.Equal(t, 95.0, candles[0].Low)
	assert.Equal(t, 95.0, candles[0].Close)
}

func TestMergeSnapshot_NoOpWhenComplete(t *testing.T) {
	candles := []models.Candle{{Open: 100, High: 105, Low: 99, Close: 102, Forming: false}}
	MergeSnapshot(candles, 200)
	assert.Equal(t, 105.0, candles[0].High)
	assert.Equal(t, 102.0, candles[0].Close)
}

func TestRequireMinimum(t *testing.T) {
	bars := make([]RawBar, 0)
	for h := 9; h < 15; h++ {
		bars = append(bars, mkBar(h, 15, 100, 101, 99, 100))
	}
	out := Align(bars, time.Date(2026, 7, 31, 16, 0, 0, 0, IST))
	assert.NoError(t, RequireMinimum(out, 6))
	assert.ErrorIs(t, RequireMinimum(out, 20), ErrInsufficientData)
}
