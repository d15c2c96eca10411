// Package candle aggregates raw OHLC bars into NSE-aligned 1h candles.
//
// NSE trading hours run 09:15-15:30 IST; 1h buckets therefore open at
// XX:15 and close at (XX+1):15, giving six buckets a day ending at 10:15,
// 11:15, 12:15, 13:15, 14:15 and 15:15 IST.
package candle

import (
	"errors"
	"sort"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// IST is the trading calendar's fixed timezone. time.LoadLocation can fail in
// minimal container images lacking a tzdata database, so a fixed offset is
// used as the grounded default (IST has no DST).
var IST = time.FixedZone("IST", 5*3600+30*60)

// ErrInsufficientData is returned when fewer than the configured minimum
// number of 1h candles can be produced from the raw feed.
var ErrInsufficientData = errors.New("candle: insufficient aligned data")

// DefaultMinCandles is the default minimum aligned-candle count the runner
// requires before running pattern detection.
const DefaultMinCandles = 20

// RawBar is an input OHLC bar at any nominative interval (1m, 15m, 1h).
type RawBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// bucketStart returns the start of the 1h NSE-aligned bucket containing t.
func bucketStart(t time.Time) time.Time {
	t = t.In(IST)
	// Anchor buckets to the 00:15 boundary: b(t) = floor((t-00:15)/1h).
	anchor := time.Date(t.Year(), t.Month(), t.Day(), 0, 15, 0, 0, IST)
	delta := t.Sub(anchor)
	bucket := delta / time.Hour
	if delta < 0 {
		bucket--
	}
	return anchor.Add(bucket * time.Hour)
}

// Align aggregates raw bars into NSE-aligned 1h candles. Buckets containing
// no observations are dropped, never imputed. A candle whose close time is
// <= now is marked complete; otherwise it is marked Forming.
func Align(bars []RawBar, now time.Time) []models.Candle {
	if len(bars) == 0 {
		return nil
	}
	type acc struct {
		open, high, low, close, volume float64
		set                            bool
	}
	buckets := make(map[time.Time]*acc)
	for _, b := range bars {
		start := bucketStart(b.Timestamp)
		a, ok := buckets[start]
		if !ok {
			a = &acc{}
			buckets[start] = a
		}
		if !a.set {
			a.open = b.Open
			a.high = b.High
			a.low = b.Low
			a.set = true
		} else {
			if b.High > a.high {
				a.high = b.High
			}
			if b.Low < a.low {
				a.low = b.Low
			}
		}
		a.close = b.Close
		a.volume += b.Volume
	}

	starts := make([]time.Time, 0, len(buckets))
	for s := range buckets {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	out := make([]models.Candle, 0, len(starts))
	for _, s := range starts {
		a := buckets[s]
		closeTime := s.Add(time.Hour)
		out = append(out, models.Candle{
			Timestamp: s,
			Open:      a.open,
			High:      a.high,
			Low:       a.low,
			Close:     a.close,
			Volume:    a.volume,
			Forming:   closeTime.After(now),
		})
	}
	return out
}

// MergeSnapshot updates the trailing forming candle in place from a live
// last-traded-price quote, as described in the aligner's snapshot-merge
// policy. If the last candle is not forming, or the slice is empty, it is a
// no-op.
func MergeSnapshot(candles []models.Candle, ltp float64) {
	if len(candles) == 0 {
		return
	}
	last := &candles[len(candles)-1]
	if !last.Forming {
		return
	}
	if ltp > last.High {
		last.High = ltp
	}
	if ltp < last.Low {
		last.Low = ltp
	}
	last.Close = ltp
}

// CompleteOnly filters out any forming candle, for use by pattern detection
// and the backtest engine, which never operate on a forming bar.
func CompleteOnly(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if !c.Forming {
			out = append(out, c)
		}
	}
	return out
}

// RequireMinimum returns ErrInsufficientData if candles has fewer than min
// complete entries.
func RequireMinimum(candles []models.Candle, min int) error {
	n := 0
	for _, c := range candles {
		if !c.Forming {
			n++
		}
	}
	if n < min {
		return ErrInsufficientData
	}
	return nil
}
