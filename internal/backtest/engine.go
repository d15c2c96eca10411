// Package backtest implements the walk-forward simulator: it replays
// stored 1h spot candles through the same inside-bar detector and breakout
// checker the live runner uses, resolves a strike per contract, and walks
// the resulting option OHLC (real or synthetic) through internal/monitor's
// exit rules. Unlike the monitor's tick, the stop is tested before the
// profit tiers within a bar.
//
// Deliberately takes no wall-clock or randomness input: every field of
// Inputs is supplied by the caller, so Run is a pure function of its
// arguments.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/pattern"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/strike"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/util"
)

// IST is the fixed India Standard Time offset, matching the candle aligner
// and monitor's zone (no tzdata dependency).
var IST = time.FixedZone("IST", 5*3600+30*60)

const syntheticDelta = 0.5
const syntheticFloor = 0.05

// Rules is the walk-forward simulator's exit-rule set: the tiered fields
// mirror monitor.Rules exactly; the Legacy* fields back the percentage-ladder
// fallback used when tiered exits are disabled.
type Rules struct {
	UseTieredExits bool

	SLPoints    float64
	TrailPoints float64
	Book1Points float64
	Book2Points float64
	Book1Ratio  float64
	BeAtR       float64
	LotSize     int // contracts per lot
	TotalLots   int // lots bought at entry; 0 means 1

	LegacyStopLossPct float64
	LegacyLock1Pct    float64
	LegacyLock2Pct    float64
	LegacyLock3Pct    float64

	StrikeMode   strike.Mode
	StrikeOffset int
	StrikeStep   int // 0 means derive from strike.Step(symbol)

	ExpiryBlackoutHour, ExpiryBlackoutMinute int // default 11, 30
}

// DefaultRules returns the documented defaults for every rule field.
func DefaultRules() Rules {
	return Rules{
		UseTieredExits:       true,
		BeAtR:                0.6,
		StrikeMode:           strike.ModeATM,
		LegacyStopLossPct:    0.35,
		LegacyLock1Pct:       0.60,
		LegacyLock2Pct:       0.80,
		LegacyLock3Pct:       1.00,
		ExpiryBlackoutHour:   11,
		ExpiryBlackoutMinute: 30,
	}
}

// ChainLookup resolves a contract's stored 1h OHLC series. ok is false when
// no chain data exists for the contract at all, signaling the synthetic
// premium fallback.
type ChainLookup func(contract models.OptionContract) (candles []models.Candle, ok bool)

// ListedStrikesLookup resolves the listed strikes for (expiry, side) from
// the historical store, for the nearest-listed fallback.
type ListedStrikesLookup func(expiry time.Time, side models.Side) []int

// Inputs bundles everything the walk-forward simulator needs.
type Inputs struct {
	Symbol         string
	SpotCandles    []models.Candle // aligned, complete-only, ascending
	Expiries       []time.Time     // ascending
	InitialCapital float64
	Chain          ChainLookup
	ListedStrikes  ListedStrikesLookup
}

// Trade is one simulated closed position.
type Trade struct {
	EntryTime       time.Time
	ExitTime        time.Time
	Direction       models.Side
	RequestedStrike int
	Strike          int
	StrikeFallback  bool
	Expiry          time.Time
	Entry           float64
	Exit            float64
	StopLoss        float64
	PnL             float64
	CapitalRequired float64
	ExitReason      string
	Synthetic       bool
}

// EquityPoint is one capital mark recorded after a trade closes.
type EquityPoint struct {
	Time    time.Time
	Capital float64
}

// Stats aggregates the simulation's summary numbers.
type Stats struct {
	TotalTrades      int
	Winners          int
	Losers           int
	WinRate          float64
	AvgWin           float64
	AvgLoss          float64
	MaxDrawdown      float64
	MaxWinStreak     int
	MaxLossStreak    int
	CapitalExhausted bool
	AvgCapitalReq    float64
	TrailExitShare   float64 // share of winning trades that exited via TRAIL_EXIT
	FinalCapital     float64
}

// Result is the walk-forward simulator's output.
type Result struct {
	Trades []Trade
	Equity []EquityPoint
	Stats  Stats
}

// Run executes the walk-forward simulation.
func Run(in Inputs, rules Rules) (Result, error) {
	if rules.LotSize <= 0 {
		return Result{}, fmt.Errorf("backtest: LotSize must be positive")
	}
	step := rules.StrikeStep
	if step == 0 {
		step = strike.Step(in.Symbol)
	}

	occurrences := pattern.ScanAll(in.SpotCandles)

	capital := in.InitialCapital
	var trades []Trade
	var equity []EquityPoint
	capitalExhausted := false

	for _, ib := range occurrences {
		sig := pattern.Signal{RangeHigh: ib.RangeHigh, RangeLow: ib.RangeLow, InsideBarTime: ib.InsideBarTime}
		ev, ok := pattern.CheckBreakout(in.SpotCandles, sig)
		if !ok {
			continue
		}

		breakoutIdx := indexOf(in.SpotCandles, ev.BreakoutCandleTime)
		if breakoutIdx < 0 || breakoutIdx+1 >= len(in.SpotCandles) {
			continue
		}
		entryCandle := in.SpotCandles[breakoutIdx+1]
		entryTime := entryCandle.Timestamp

		expiry, ok := resolveExpiry(in.Expiries, entryTime, rules)
		if !ok {
			continue
		}

		requestedStrike := strike.Resolve(ev.BreakoutClose, ev.Direction, rules.StrikeOffset, rules.StrikeMode, step)
		usedStrike := requestedStrike
		fallback := false

		contract := models.OptionContract{Symbol: in.Symbol, Expiry: expiry, Strike: requestedStrike, Side: ev.Direction}
		optionCandles, haveChain := lookupChain(in, contract)
		if !haveChain && in.ListedStrikes != nil {
			if listed := in.ListedStrikes(expiry, ev.Direction); len(listed) > 0 {
				if nearest, didFallback := strike.NearestListed(requestedStrike, listed); didFallback {
					usedStrike = nearest
					fallback = true
					contract.Strike = usedStrike
					optionCandles, haveChain = lookupChain(in, contract)
				}
			}
		}

		var entryPremium float64
		var walkCandles []models.Candle
		synthetic := true
		if haveChain {
			idx := indexOf(optionCandles, entryTime)
			if idx >= 0 {
				entryPremium = optionCandles[idx].Open
				walkCandles = optionCandles[idx:]
				synthetic = false
			}
		}
		if synthetic {
			spotBase := entryCandle.Open
			entryPremium = util.RoundToTick(math.Max(50, 0.005*spotBase), util.PremiumTick)
			walkCandles = syntheticOptionCandles(in.SpotCandles[breakoutIdx+1:], ev.Direction, entryPremium, spotBase)
		}
		if len(walkCandles) == 0 {
			continue
		}

		required := entryPremium * float64(rules.LotSize)
		if capital < required {
			continue
		}

		trade := simulatePosition(walkCandles, entryPremium, rules)
		trade.Direction = ev.Direction
		trade.RequestedStrike = requestedStrike
		trade.Strike = usedStrike
		trade.StrikeFallback = fallback
		trade.Expiry = expiry
		trade.CapitalRequired = required
		trade.Synthetic = synthetic

		capital += trade.PnL
		trades = append(trades, trade)
		equity = append(equity, EquityPoint{Time: trade.ExitTime, Capital: capital})
		if capital <= 0 {
			capitalExhausted = true
		}
	}

	return Result{Trades: trades, Equity: equity, Stats: computeStats(trades, in.InitialCapital, capital, capitalExhausted)}, nil
}

// resolveExpiry picks the next listed expiry on or after entryTime and
// applies the expiry-day blackout: no new entries on expiry day after
// ExpiryBlackoutHour:Minute IST.
func resolveExpiry(expiries []time.Time, entryTime time.Time, rules Rules) (time.Time, bool) {
	var expiry time.Time
	found := false
	for _, e := range expiries {
		if !e.Before(entryTime) {
			expiry, found = e, true
			break
		}
	}
	if !found {
		return time.Time{}, false
	}

	entryIST := entryTime.In(IST)
	expiryIST := expiry.In(IST)
	if sameDay(entryIST, expiryIST) {
		blackoutAt := time.Date(entryIST.Year(), entryIST.Month(), entryIST.Day(), rules.ExpiryBlackoutHour, rules.ExpiryBlackoutMinute, 0, 0, IST)
		if !entryIST.Before(blackoutAt) {
			return time.Time{}, false
		}
	}
	return expiry, true
}

// syntheticOptionCandles derives a forward premium path from spot deltas
// with delta ≈ 0.5, signed by side. spotBase is the spot
// price at entry (spot[0].Open), so transform(spotBase) == entryPremium
// exactly: the entry bar's synthetic open always equals the fill price.
func syntheticOptionCandles(spot []models.Candle, side models.Side, entryPremium, spotBase float64) []models.Candle {
	sign := 1.0
	if side == models.SidePE {
		sign = -1.0
	}
	transform := func(px float64) float64 {
		v := entryPremium + sign*syntheticDelta*(px-spotBase)
		if v < syntheticFloor {
			v = syntheticFloor
		}
		return util.RoundToTick(v, util.PremiumTick)
	}

	out := make([]models.Candle, len(spot))
	for i, c := range spot {
		hi, lo := transform(c.High), transform(c.Low)
		if sign < 0 {
			hi, lo = transform(c.Low), transform(c.High)
		}
		out[i] = models.Candle{
			Timestamp: c.Timestamp,
			Open:      transform(c.Open),
			High:      hi,
			Low:       lo,
			Close:     transform(c.Close),
			Volume:    c.Volume,
		}
	}
	return out
}

// simulatePosition walks a single contract's 1h OHLC forward from entry,
// applying the live monitor's exit rules (tiered) or the legacy percentage
// ladder, whichever UseTieredExits selects. Exit priority within a bar is
// SL/trail, then take-profit tiers, then the expiry/time exit, identical
// for both codepaths so the chain-based and synthetic paths produce the
// same bookkeeping shape.
func simulatePosition(bars []models.Candle, entry float64, rules Rules) Trade {
	legacy := !rules.UseTieredExits
	lotSize := float64(rules.LotSize)
	totalLots := rules.TotalLots
	if totalLots <= 0 {
		totalLots = 1
	}

	stopLoss := entry - rules.SLPoints
	initialStopLoss := stopLoss
	if legacy {
		stopLoss = entry * (1 - rules.LegacyStopLossPct)
		initialStopLoss = stopLoss
	}
	trailAnchor := entry
	book1Done, book2Done, beLocked := false, false, false
	remaining := totalLots // lots still held
	realized := 0.0

	legacyLocks := []struct{ gainPct, lockPct float64 }{
		{rules.LegacyLock1Pct, rules.LegacyLock1Pct * 0.5},
		{rules.LegacyLock2Pct, rules.LegacyLock2Pct * 0.5},
		{rules.LegacyLock3Pct, rules.LegacyLock3Pct * 0.5},
	}

	trade := Trade{EntryTime: bars[0].Timestamp, Entry: entry}

	for i, bar := range bars {
		ltp := bar.Close

		if !legacy {
			if rules.TrailPoints > 0 {
				if advance := ltp - trailAnchor; advance >= rules.TrailPoints {
					steps := math.Floor(advance / rules.TrailPoints)
					trailAnchor += steps * rules.TrailPoints
					if newSL := trailAnchor - rules.SLPoints; newSL > stopLoss {
						stopLoss = newSL
					}
				}
			}
			if !beLocked && rules.BeAtR > 0 {
				if threshold := entry + rules.BeAtR*rules.SLPoints; ltp >= threshold {
					if entry > stopLoss {
						stopLoss = entry
					}
					beLocked = true
				}
			}
		} else {
			for _, lock := range legacyLocks {
				target := entry * (1 + lock.gainPct)
				if newSL := entry * (1 + lock.lockPct); bar.High >= target && newSL > stopLoss {
					stopLoss = newSL
				}
			}
		}
		trade.StopLoss = stopLoss

		if bar.Low <= stopLoss {
			trade.ExitTime, trade.Exit = bar.Timestamp, stopLoss
			realized += (trade.Exit - entry) * float64(remaining) * lotSize
			if legacy || stopLoss == initialStopLoss {
				trade.ExitReason = "SL_HIT"
			} else {
				trade.ExitReason = "TRAIL_EXIT"
			}
			trade.PnL = realized
			return trade
		}

		if !legacy {
			if !book1Done && bar.High >= entry+rules.Book1Points {
				qty := int(math.Round(float64(remaining) * rules.Book1Ratio))
				if qty > 0 {
					if qty > remaining {
						qty = remaining
					}
					realized += (ltp - entry) * float64(qty) * lotSize
					remaining -= qty
					book1Done = true
					if remaining == 0 {
						trade.ExitTime, trade.Exit, trade.ExitReason = bar.Timestamp, ltp, "TIER1_BOOK"
						trade.PnL = realized
						return trade
					}
				}
			}
			if !book2Done && bar.High >= entry+rules.Book2Points {
				realized += (ltp - entry) * float64(remaining) * lotSize
				remaining = 0
				trade.ExitTime, trade.Exit, trade.ExitReason = bar.Timestamp, ltp, "TIER2_BOOK"
				trade.PnL = realized
				return trade
			}
		}

		if i == len(bars)-1 {
			trade.ExitTime, trade.Exit = bar.Timestamp, bar.Close
			realized += (trade.Exit - entry) * float64(remaining) * lotSize
			if legacy {
				trade.ExitReason = "TIME_EXIT"
			} else {
				trade.ExitReason = "EXPIRY_FORCE_EXIT"
			}
			trade.PnL = realized
			return trade
		}
	}

	// Unreachable: the loop above always returns on its last iteration.
	trade.PnL = realized
	return trade
}

func computeStats(trades []Trade, initialCapital, finalCapital float64, exhausted bool) Stats {
	stats := Stats{FinalCapital: finalCapital, CapitalExhausted: exhausted, TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	var winSum, lossSum, capReqSum float64
	var trailWinners int
	peak, running := initialCapital, initialCapital
	var maxDD float64
	curWinStreak, curLossStreak := 0, 0

	for _, t := range trades {
		capReqSum += t.CapitalRequired
		running += t.PnL
		if running > peak {
			peak = running
		}
		if dd := peak - running; dd > maxDD {
			maxDD = dd
		}

		switch {
		case t.PnL > 0:
			stats.Winners++
			winSum += t.PnL
			curWinStreak++
			curLossStreak = 0
			if curWinStreak > stats.MaxWinStreak {
				stats.MaxWinStreak = curWinStreak
			}
			if t.ExitReason == "TRAIL_EXIT" {
				trailWinners++
			}
		case t.PnL < 0:
			stats.Losers++
			lossSum += t.PnL
			curLossStreak++
			curWinStreak = 0
			if curLossStreak > stats.MaxLossStreak {
				stats.MaxLossStreak = curLossStreak
			}
		default:
			curWinStreak, curLossStreak = 0, 0
		}
	}

	n := float64(len(trades))
	stats.WinRate = float64(stats.Winners) / n
	stats.MaxDrawdown = maxDD
	stats.AvgCapitalReq = capReqSum / n
	if stats.Winners > 0 {
		stats.AvgWin = winSum / float64(stats.Winners)
		stats.TrailExitShare = float64(trailWinners) / float64(stats.Winners)
	}
	if stats.Losers > 0 {
		stats.AvgLoss = lossSum / float64(stats.Losers)
	}
	return stats
}

func lookupChain(in Inputs, contract models.OptionContract) ([]models.Candle, bool) {
	if in.Chain == nil {
		return nil, false
	}
	return in.Chain(contract)
}

func indexOf(candles []models.Candle, t time.Time) int {
	for i, c := range candles {
		if c.Timestamp.Equal(t) {
			return i
		}
	}
	return -1
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
