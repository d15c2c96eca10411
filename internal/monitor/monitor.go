// Package monitor implements the per-position risk-management loop:
// trailing stop, breakeven lock, tiered profit booking, stop
// loss, and expiry-day forced exit.
//
// RemainingQtyLots only changes after a SELL order succeeds, so it always
// reflects actual broker state; a quote-fetch failure skips the whole tick.
// Rule order within a tick is fixed: trail → breakeven → tier-1 → tier-2
// → SL → expiry. Trailing raises the stop before the stop is tested.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/broker"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/errs"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/eventbus"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/util"
)

// IST is the fixed India Standard Time offset, consistent with the candle
// aligner's zone (no tzdata dependency).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Rules is the set of tunables captured at monitor spawn. Existing
// monitors retain their rules-at-spawn even if runner tunables change later.
type Rules struct {
	SLPoints    float64
	TrailPoints float64
	Book1Points float64
	Book2Points float64
	Book1Ratio  float64
	BeAtR       float64 // R units of gain (multiples of SLPoints) that trigger breakeven lock
	LotSize     int

	ExpiryForceExitHour, ExpiryForceExitMinute int // default 14, 45

	ExpiryPartialBookEnabled                       bool
	ExpiryPartialBookHour, ExpiryPartialBookMinute int     // default 13, 0
	ExpiryPartialBookRatio                         float64 // default 0.5
}

// DefaultRules returns the defaults for every field not explicitly set by
// the caller's config.
func DefaultRules() Rules {
	return Rules{
		BeAtR:                    0.6,
		ExpiryForceExitHour:      14,
		ExpiryForceExitMinute:    45,
		ExpiryPartialBookEnabled: false,
		ExpiryPartialBookHour:    13,
		ExpiryPartialBookMinute:  0,
		ExpiryPartialBookRatio:   0.5,
	}
}

// ExitReason classifies why a position flattened.
type ExitReason string

const (
	ReasonTier1             ExitReason = "TIER1_BOOK"
	ReasonTier2             ExitReason = "TIER2_BOOK"
	ReasonSLHit             ExitReason = "SL_HIT"
	ReasonTrailExit         ExitReason = "TRAIL_EXIT"
	ReasonExpiryForceExit   ExitReason = "EXPIRY_FORCE_EXIT"
	ReasonExpiryPartialBook ExitReason = "EXPIRY_PARTIAL_BOOK"
)

// PositionClosedPayload is the data carried by an eventbus.PositionClosed
// event.
type PositionClosedPayload struct {
	OrderID   string
	ExitPrice float64
	TotalPnl  float64
	Reason    ExitReason
}

// Monitor exclusively owns one OpenPosition; nothing else mutates it.
type Monitor struct {
	broker broker.Broker
	bus    *eventbus.Bus
	pos    *models.OpenPosition
	rules  Rules
	now    func() time.Time

	initialStopLoss     float64
	expiryPartialBooked bool

	// fill accumulators for the volume-weighted exit price reported on close
	fillQtyLots  int
	fillNotional float64
}

// New returns a Monitor for pos, with rules captured at spawn time.
func New(b broker.Broker, bus *eventbus.Bus, pos *models.OpenPosition, rules Rules) *Monitor {
	return &Monitor{
		broker:          b,
		bus:             bus,
		pos:             pos,
		rules:           rules,
		now:             time.Now,
		initialStopLoss: pos.StopLoss,
	}
}

// Tick performs one monitoring cycle. It fetches the current LTP and, in
// order, applies trailing, breakeven, tier-1, tier-2, stop-loss, and expiry
// rules. A quote-fetch failure skips the whole tick.
func (m *Monitor) Tick(ctx context.Context) error {
	if m.pos.Closed {
		return nil
	}

	ltp, err := m.broker.GetOptionPrice(ctx, m.pos.Symbol, m.pos.Strike, broker.Side(m.pos.Side), m.pos.Expiry)
	if err != nil {
		return nil
	}

	m.trailingUpdate(ltp)
	m.breakevenLock(ltp)

	if err := m.tier1Booking(ctx, ltp); err != nil {
		return err
	}
	if err := m.tier2Booking(ctx, ltp); err != nil {
		return err
	}
	if err := m.stopLossCheck(ctx, ltp); err != nil {
		return err
	}
	if err := m.expiryProtocol(ctx, ltp); err != nil {
		return err
	}

	if !m.pos.Valid() {
		return fmt.Errorf("%w: position %s remaining=%d total=%d closed=%v",
			errs.ErrFatal, m.pos.OrderID, m.pos.RemainingQtyLots, m.pos.TotalQtyLots, m.pos.Closed)
	}
	return nil
}

// trailingUpdate advances trailAnchor in whole TrailPoints steps and raises
// stopLoss accordingly; stopLoss never decreases.
func (m *Monitor) trailingUpdate(ltp float64) {
	if m.rules.TrailPoints <= 0 {
		return
	}
	advance := ltp - m.pos.TrailAnchor
	if advance < m.rules.TrailPoints {
		return
	}
	steps := math.Floor(advance / m.rules.TrailPoints)
	if steps <= 0 {
		return
	}
	m.pos.TrailAnchor += steps * m.rules.TrailPoints
	newSL := m.pos.TrailAnchor - m.rules.SLPoints
	if newSL > m.pos.StopLoss {
		m.pos.StopLoss = newSL
	}
}

// breakevenLock raises stopLoss to entry once gain reaches BeAtR*SLPoints.
func (m *Monitor) breakevenLock(ltp float64) {
	if m.pos.BeLocked || m.rules.BeAtR <= 0 {
		return
	}
	threshold := m.pos.EntryPrice + m.rules.BeAtR*m.rules.SLPoints
	if ltp < threshold {
		return
	}
	if m.pos.EntryPrice > m.pos.StopLoss {
		m.pos.StopLoss = m.pos.EntryPrice
	}
	m.pos.BeLocked = true
}

func (m *Monitor) tier1Booking(ctx context.Context, ltp float64) error {
	if m.pos.Book1Done || ltp < m.pos.EntryPrice+m.rules.Book1Points {
		return nil
	}
	qty := int(math.Round(float64(m.pos.RemainingQtyLots) * m.rules.Book1Ratio))
	if qty <= 0 {
		return nil
	}
	filled, err := m.sell(ctx, qty, ltp)
	if err != nil {
		return err
	}
	if filled {
		m.pos.Book1Done = true
		if m.pos.RemainingQtyLots == 0 {
			m.closePosition(ReasonTier1)
		}
	}
	return nil
}

func (m *Monitor) tier2Booking(ctx context.Context, ltp float64) error {
	if m.pos.Book2Done || ltp < m.pos.EntryPrice+m.rules.Book2Points {
		return nil
	}
	qty := m.pos.RemainingQtyLots
	if qty <= 0 {
		return nil
	}
	filled, err := m.sell(ctx, qty, ltp)
	if err != nil {
		return err
	}
	if filled {
		m.pos.Book2Done = true
		m.closePosition(ReasonTier2)
	}
	return nil
}

func (m *Monitor) stopLossCheck(ctx context.Context, ltp float64) error {
	if ltp > m.pos.StopLoss {
		return nil
	}
	qty := m.pos.RemainingQtyLots
	if qty <= 0 {
		return nil
	}
	filled, err := m.sell(ctx, qty, ltp)
	if err != nil {
		return err
	}
	if filled {
		reason := ReasonTrailExit
		if m.pos.StopLoss == m.initialStopLoss {
			reason = ReasonSLHit
		}
		m.closePosition(reason)
	}
	return nil
}

func (m *Monitor) expiryProtocol(ctx context.Context, ltp float64) error {
	if m.pos.Expiry.IsZero() || m.pos.Closed {
		return nil
	}
	now := m.now().In(IST)
	expiry := m.pos.Expiry.In(IST)
	if now.Year() != expiry.Year() || now.YearDay() != expiry.YearDay() {
		return nil
	}

	forceAt := time.Date(now.Year(), now.Month(), now.Day(), m.rules.ExpiryForceExitHour, m.rules.ExpiryForceExitMinute, 0, 0, IST)
	if !now.Before(forceAt) {
		qty := m.pos.RemainingQtyLots
		if qty <= 0 {
			return nil
		}
		filled, err := m.sell(ctx, qty, ltp)
		if err != nil {
			return err
		}
		if filled {
			m.closePosition(ReasonExpiryForceExit)
		}
		return nil
	}

	if m.rules.ExpiryPartialBookEnabled && !m.expiryPartialBooked {
		partialAt := time.Date(now.Year(), now.Month(), now.Day(), m.rules.ExpiryPartialBookHour, m.rules.ExpiryPartialBookMinute, 0, 0, IST)
		if !now.Before(partialAt) {
			qty := int(math.Round(float64(m.pos.RemainingQtyLots) * m.rules.ExpiryPartialBookRatio))
			if qty > 0 {
				filled, err := m.sell(ctx, qty, ltp)
				if err != nil {
					return err
				}
				if filled {
					m.expiryPartialBooked = true
					if m.pos.RemainingQtyLots == 0 {
						m.closePosition(ReasonExpiryPartialBook)
					}
				}
			}
		}
	}
	return nil
}

// sell places a market SELL for qty lots. It never mutates RemainingQtyLots
// on failure; the caller retries on the next tick. The fill price is the
// quoted ltp floored to the premium tick, since the broker contract does
// not report per-fill execution price; each fill is accumulated for the
// volume-weighted exit price reported on close.
func (m *Monitor) sell(ctx context.Context, qty int, ltp float64) (bool, error) {
	if qty <= 0 || m.pos.RemainingQtyLots <= 0 || m.pos.Closed {
		return false, nil
	}
	if qty > m.pos.RemainingQtyLots {
		qty = m.pos.RemainingQtyLots
	}
	result, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:    m.pos.Symbol,
		Strike:    m.pos.Strike,
		Side:      broker.Side(m.pos.Side),
		Lots:      qty,
		OrderType: broker.OrderTypeMarket,
		Txn:       broker.TxnSell,
		Expiry:    m.pos.Expiry,
	})
	if err != nil {
		return false, nil // transient order failure: skip, retry next tick
	}
	if !result.OK {
		return false, nil
	}

	fill := util.FloorToTick(ltp, util.PremiumTick)
	m.pos.RemainingQtyLots -= qty
	m.pos.RealizedPnl += (fill - m.pos.EntryPrice) * float64(qty) * float64(m.pos.LotSize)
	m.fillQtyLots += qty
	m.fillNotional += fill * float64(qty)
	return true, nil
}

// closePosition emits PositionClosed with the volume-weighted exit price
// across every booking fill, not just the final one.
func (m *Monitor) closePosition(reason ExitReason) {
	m.pos.Closed = true
	if m.bus == nil {
		return
	}
	var exit float64
	if m.fillQtyLots > 0 {
		exit = m.fillNotional / float64(m.fillQtyLots)
	}
	m.bus.Publish(eventbus.PositionClosed, PositionClosedPayload{
		OrderID:   m.pos.OrderID,
		ExitPrice: exit,
		TotalPnl:  m.pos.RealizedPnl,
		Reason:    reason,
	})
}

// Run drives Tick on a fixed cadence until ctx is cancelled or the position
// closes.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				return fmt.Errorf("monitor: tick: %w", err)
			}
			if m.pos.Closed {
				return nil
			}
		}
	}
}
