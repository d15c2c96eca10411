// Package runner implements the live control loop: it
// composes the candle aligner, inside-bar detector, breakout checker, and
// signal state machine, applies the ordered pre-trade gates, and dispatches
// buy orders through a broker.Broker, spawning a monitor.Monitor for each
// fill.
//
// Each cycle runs a fixed sequence: market-schedule check, data fetch and
// alignment, signal evaluation, then the pre-trade gate chain. A failing
// step aborts the rest of the cycle.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/broker"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/candle"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/eventbus"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/journal"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/marketdata"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/monitor"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/pattern"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/signal"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/statestore"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/strike"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/symbolcodec"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/util"
)

// IST is the fixed India Standard Time offset, matching the candle aligner
// and position monitor's zone (no tzdata dependency).
var IST = time.FixedZone("IST", 5*3600+30*60)

// orderGrace is how long the runner waits after placing a BUY order before
// polling its status once.
const orderGrace = 2 * time.Second

// monitorTick is the per-position cadence a spawned monitor ticks at.
const monitorTick = 10 * time.Second

// Static configuration fixed for the life of the runner; only the fields
// mirrored in models.RunnerTunables are live-updatable.
type StaticConfig struct {
	Symbol         string
	WindowHours    int
	MinCandles     int
	MissedGrace    time.Duration
	StrikeMode     strike.Mode
	RRRatio        float64
	InitialCapital float64
	MonitorRules   func(slPoints, trailPoints float64, lotSize int) monitor.Rules
}

// Runner drives one symbol's live control loop. Single writer of the signal
// state machine and RecentSignals.
type Runner struct {
	cfg StaticConfig

	broker broker.Broker
	market marketdata.Adapter
	bus    *eventbus.Bus
	store  *statestore.Store
	trades *journal.Journal
	missed *journal.Journal

	machine *signal.Machine

	mu    sync.Mutex
	state *models.RunnerState

	now func() time.Time

	group   *errgroup.Group
	groupMu sync.Mutex

	monitorFactory MonitorSpawnFunc
}

// New constructs a Runner. tunables is the initial live-updatable snapshot;
// state.RecentSignals/ActiveMonitors are initialized empty.
func New(cfg StaticConfig, b broker.Broker, market marketdata.Adapter, bus *eventbus.Bus, store *statestore.Store, trades *journal.Journal, tunables models.RunnerTunables) *Runner {
	state := models.NewRunnerState(tunables)
	state.MaxConcurrentPositions = 3
	state.SignalCooldownSeconds = int(cfg.MissedGrace.Seconds())
	return &Runner{
		cfg:     cfg,
		broker:  b,
		market:  market,
		bus:     bus,
		store:   store,
		trades:  trades,
		machine: signal.NewMachine(cfg.MissedGrace),
		state:   state,
		now:     time.Now,
	}
}

// SetExecutionArmed flips the safety interlock; every transition is
// logged via the event bus's state_changed event.
func (r *Runner) SetExecutionArmed(armed bool) {
	r.mu.Lock()
	prev := r.state.ExecutionArmed
	r.state.ExecutionArmed = armed
	r.mu.Unlock()
	if prev != armed && r.bus != nil {
		r.bus.Publish(eventbus.StateChanged, map[string]any{"field": "execution_armed", "value": armed})
	}
}

// ExecutionArmed reports the current interlock state.
func (r *Runner) ExecutionArmed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ExecutionArmed
}

// UpdateTunables validates and applies a live tunables mutation;
// takes effect on the next cycle and newly spawned monitors only.
func (r *Runner) UpdateTunables(validate func() error, t models.RunnerTunables) error {
	if err := validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.state.Tunables = t
	r.mu.Unlock()
	return nil
}

// SetMissedJournal installs a dedicated journal for refused and missed
// signals. When unset, refusals are appended to the trade journal instead.
// Must be called before Run.
func (r *Runner) SetMissedJournal(j *journal.Journal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missed = j
}

// Tunables returns a copy of the current live tunables snapshot.
func (r *Runner) Tunables() models.RunnerTunables {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Tunables
}

// Snapshot returns a shallow copy of the runner's daily PnL and active
// monitor count, for the control API and state-store projection.
type Snapshot struct {
	DailyPnl       float64
	DailyPnlDate   time.Time
	ActiveCount    int
	ExecutionArmed bool
	Tunables       models.RunnerTunables
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		DailyPnl:       r.state.DailyPnl,
		DailyPnlDate:   r.state.DailyPnlDate,
		ActiveCount:    len(r.state.ActiveMonitors),
		ExecutionArmed: r.state.ExecutionArmed,
		Tunables:       r.state.Tunables,
	}
}

// Run drives RunCycle on pollingInterval until ctx is cancelled, honoring
// the stop signal within one tick.
func (r *Runner) Run(ctx context.Context, pollingInterval time.Duration) error {
	g := &errgroup.Group{}
	r.groupMu.Lock()
	r.group = g
	r.groupMu.Unlock()

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				return fmt.Errorf("runner: cycle: %w", err)
			}
		}
	}
}

// RunCycle executes exactly one control-loop cycle. A failing gate or
// data condition aborts the remainder of the
// cycle; the cycle never returns an error for ordinary refusals, only for
// fatal invariant violations.
func (r *Runner) RunCycle(ctx context.Context) error {
	now := r.now().In(IST)

	if !isMarketHours(now) {
		return nil
	}

	complete, err := r.fetchAligned(ctx, now)
	if err != nil {
		return nil // insufficient/transient: skip cycle
	}

	r.resetDailyPnlIfNewDay(now)

	detect := func() (models.InsideBar, bool) { return pattern.LatestActive(complete) }
	breakoutFn := func(sig models.ActiveSignal) (models.BreakoutEvent, bool) {
		return pattern.CheckBreakout(complete, pattern.Signal{
			RangeHigh: sig.RangeHigh, RangeLow: sig.RangeLow, InsideBarTime: sig.InsideBarTime,
		})
	}

	result, err := r.machine.Evaluate(now, detect, breakoutFn)
	if err != nil {
		return fmt.Errorf("runner: signal machine invariant violation: %w", err)
	}

	switch result.Outcome {
	case signal.OutcomeMissedExpired:
		r.appendFailed(now, result, 0, "missed_grace")
		return nil
	case signal.OutcomeConsumed:
		r.handleConsumed(ctx, now, complete, result)
	}
	return nil
}

func isMarketHours(now time.Time) bool {
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IST)
	closeT := time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, IST)
	return !now.Before(open) && now.Before(closeT)
}

// fetchAligned fetches the candle window, aligns it with a live LTP
// snapshot merged into the forming bar, validate the minimum candle count
// once with a doubled window, then drop the forming bar for detection.
func (r *Runner) fetchAligned(ctx context.Context, now time.Time) ([]models.Candle, error) {
	aligned, err := r.fetchOnce(ctx, now, r.cfg.WindowHours)
	if err == nil {
		if verr := candle.RequireMinimum(aligned, r.cfg.MinCandles); verr == nil {
			return candle.CompleteOnly(aligned), nil
		}
	}
	aligned, err = r.fetchOnce(ctx, now, r.cfg.WindowHours*2)
	if err != nil {
		return nil, err
	}
	if verr := candle.RequireMinimum(aligned, r.cfg.MinCandles); verr != nil {
		return nil, verr
	}
	return candle.CompleteOnly(aligned), nil
}

func (r *Runner) fetchOnce(ctx context.Context, now time.Time, windowHours int) ([]models.Candle, error) {
	bars, err := r.market.Fetch1h(ctx, windowHours, true)
	if err != nil {
		return nil, err
	}
	aligned := candle.Align(bars, now)
	snap, err := r.market.FetchOHLCSnapshot(ctx, r.cfg.Symbol)
	if err == nil && snap.Close > 0 {
		candle.MergeSnapshot(aligned, snap.Close)
	}
	return aligned, nil
}

func (r *Runner) resetDailyPnlIfNewDay(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.DailyPnlDate.IsZero() || r.state.DailyPnlDate.YearDay() != now.YearDay() || r.state.DailyPnlDate.Year() != now.Year() {
		r.state.DailyPnl = 0
		r.state.DailyPnlDate = now
	}
}

// handleConsumed runs the pre-trade gate chain in order, aborting at the
// first refusal.
func (r *Runner) handleConsumed(ctx context.Context, now time.Time, complete []models.Candle, result signal.Result) {
	ev := result.Breakout
	sig := result.Signal
	lastClose := complete[len(complete)-1].Close

	tunables := r.Tunables()
	reqStrike := strike.Resolve(lastClose, ev.Direction, tunables.AtmOffset, r.cfg.StrikeMode, strike.Step(r.cfg.Symbol))
	fp := signal.Fingerprint(ev, reqStrike, sig.RangeHigh, sig.RangeLow)

	r.mu.Lock()
	cooldown := time.Duration(r.state.SignalCooldownSeconds) * time.Second
	dup := signal.Seen(r.state.RecentSignals, fp, now, cooldown)
	r.mu.Unlock()
	if dup {
		r.appendFailed(now, result, reqStrike, "cooldown")
		return
	}

	if r.dailyLossBreached(tunables) {
		r.appendFailed(now, result, reqStrike, "daily_loss_limit")
		if r.bus != nil {
			r.bus.Publish(eventbus.DailyLossBreached, map[string]any{"daily_pnl": r.Snapshot().DailyPnl})
		}
		return
	}

	if r.activeMonitorCount() >= r.maxConcurrentPositions() {
		r.appendFailed(now, result, reqStrike, "max_concurrent_positions")
		return
	}

	expiry, ok := r.resolveExpiry(ctx, now)
	if !ok {
		r.appendFailed(now, result, reqStrike, "expiry_unavailable")
		return
	}

	price, err := r.broker.GetOptionPrice(ctx, r.cfg.Symbol, reqStrike, broker.Side(ev.Direction), expiry)
	if err != nil {
		r.appendFailed(now, result, reqStrike, "price_unavailable")
		return
	}

	// A market BUY fills at or above the quote; never understate the entry.
	entry := util.CeilToTick(price, util.PremiumTick)
	sl := entry - tunables.SLPoints
	tp := entry + tunables.SLPoints*r.cfg.RRRatio

	required := entry * float64(tunables.OrderLots) * float64(tunables.LotSize)
	available, err := r.broker.GetAvailableMargin(ctx)
	if err != nil || available < required {
		r.appendFailed(now, result, reqStrike, "margin_insufficient")
		return
	}

	if !r.ExecutionArmed() {
		r.appendFailed(now, result, reqStrike, "execution_not_armed")
		return
	}

	orderResult, err := r.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol: r.cfg.Symbol, Strike: reqStrike, Side: broker.Side(ev.Direction),
		Lots: tunables.OrderLots, OrderType: broker.OrderTypeMarket, Txn: broker.TxnBuy, Expiry: expiry,
	})
	if err != nil || !orderResult.OK {
		r.appendFailed(now, result, reqStrike, "order_rejected")
		return
	}

	time.Sleep(orderGrace)
	if status, serr := r.broker.GetOrderStatus(ctx, orderResult.OrderID); serr == nil {
		switch status.Status {
		case broker.StatusComplete, broker.StatusOpen, broker.StatusFilled:
		default:
			// proceed optimistically on the returned order id; reconciliation
			// will correct the projection.
		}
	}

	pos := &models.OpenPosition{
		OrderID: orderResult.OrderID, Tradingsymbol: orderResult.Tradingsymbol, Symbol: r.cfg.Symbol,
		Strike: reqStrike, Side: ev.Direction, EntryPrice: entry,
		TotalQtyLots: tunables.OrderLots, RemainingQtyLots: tunables.OrderLots, LotSize: tunables.LotSize,
		StopLoss: sl, TrailAnchor: entry, Expiry: expiry, EntryTime: now,
	}

	r.appendOpen(now, result, pos, sl, tp)

	r.mu.Lock()
	signal.Record(r.state.RecentSignals, fp, now)
	r.state.ActiveMonitors[pos.OrderID] = pos
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(eventbus.TradeExecuted, pos)
	}

	rules := r.cfg.MonitorRules(tunables.SLPoints, tunables.TrailPoints, tunables.LotSize)
	r.spawnMonitor(pos, rules)
}

func (r *Runner) dailyLossBreached(t models.RunnerTunables) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := -t.DailyLossLimitPct / 100 * r.cfg.InitialCapital
	return r.state.DailyPnl <= limit
}

func (r *Runner) activeMonitorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.ActiveMonitors)
}

// ActivePositions returns a snapshot of the runner's currently tracked open
// positions, keyed in no particular order. It satisfies
// reconcile.PositionSource without handing out the live map.
func (r *Runner) ActivePositions() []models.OpenPosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.OpenPosition, 0, len(r.state.ActiveMonitors))
	for _, pos := range r.state.ActiveMonitors {
		out = append(out, *pos)
	}
	return out
}

func (r *Runner) maxConcurrentPositions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.MaxConcurrentPositions
}

// resolveExpiry implements the expiry gate: the nearest future expiry
// must exist, with at least 1 DTE, or be same-day only before 14:00 IST.
func (r *Runner) resolveExpiry(ctx context.Context, now time.Time) (time.Time, bool) {
	expiries, err := r.broker.GetOptionExpiries(ctx, r.cfg.Symbol)
	if err != nil || len(expiries) == 0 {
		return time.Time{}, false
	}
	var nearest time.Time
	for _, e := range expiries {
		if e.After(now) && (nearest.IsZero() || e.Before(nearest)) {
			nearest = e
		}
	}
	if nearest.IsZero() {
		return time.Time{}, false
	}
	dte := nearest.In(IST).Sub(now.In(IST)).Hours() / 24
	if dte < 1 {
		if nearest.In(IST).YearDay() == now.In(IST).YearDay() && nearest.In(IST).Year() == now.In(IST).Year() {
			cutoff := time.Date(now.Year(), now.Month(), now.Day(), 14, 0, 0, 0, IST)
			if now.After(cutoff) {
				return time.Time{}, false
			}
		} else {
			return time.Time{}, false
		}
	}
	return nearest, true
}

// MonitorSpawnFunc constructs a monitor.Monitor for a newly opened position.
// cmd/engine may install a custom factory (e.g. to wrap the broker per
// position); the zero value falls back to monitor.New(r.broker, r.bus, ...).
type MonitorSpawnFunc func(pos *models.OpenPosition, rules monitor.Rules) *monitor.Monitor

// SetMonitorFactory installs the function used to construct monitors for
// newly opened positions. Must be called before Run.
func (r *Runner) SetMonitorFactory(f MonitorSpawnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitorFactory = f
}

func (r *Runner) spawnMonitor(pos *models.OpenPosition, rules monitor.Rules) {
	r.mu.Lock()
	factory := r.monitorFactory
	r.mu.Unlock()

	var m *monitor.Monitor
	if factory != nil {
		m = factory(pos, rules)
	} else {
		m = monitor.New(r.broker, r.bus, pos, rules)
	}

	r.groupMu.Lock()
	g := r.group
	r.groupMu.Unlock()

	run := func(ctx context.Context) error {
		err := m.Run(ctx, monitorTick)
		r.mu.Lock()
		delete(r.state.ActiveMonitors, pos.OrderID)
		r.mu.Unlock()
		if err != nil && err != context.Canceled {
			return nil // monitor errors never raise; logged by caller via event bus
		}
		return nil
	}

	if g != nil {
		g.Go(func() error { return run(context.Background()) })
	} else {
		go func() { _ = run(context.Background()) }()
	}
}

func (r *Runner) appendOpen(now time.Time, result signal.Result, pos *models.OpenPosition, sl, tp float64) {
	if r.trades == nil {
		return
	}
	_ = r.trades.Append(journal.Entry{
		Timestamp: now, Symbol: r.cfg.Symbol, Tradingsymbol: pos.Tradingsymbol, Strike: pos.Strike,
		Direction: string(pos.Side), OrderID: pos.OrderID, Entry: pos.EntryPrice, SL: sl, TP: tp,
		Status: models.TradeStatusOpen, Quantity: pos.TotalQtyLots,
	})
}

func (r *Runner) appendFailed(now time.Time, result signal.Result, strikeVal int, reason string) {
	r.mu.Lock()
	j := r.missed
	r.mu.Unlock()
	if j == nil {
		j = r.trades
	}
	if j == nil {
		return
	}
	_ = j.Append(journal.Entry{
		Timestamp: now, Symbol: r.cfg.Symbol, Strike: strikeVal,
		Direction: string(result.Breakout.Direction), Status: models.TradeStatusFailed, PreReason: reason,
	})
}

// Recover implements the process-restart recovery protocol: open journal
// rows are matched against broker-reported positions by tradingsymbol. A
// matched row gets a monitor re-spawned with state reconstructed from the
// journal's entry/sl and the runner's current tunables (the journal does not
// persist tunables-at-spawn, so the current snapshot is the best available
// reconstruction). An unmatched row is reconciled to closed with
// reason=manual_exit and a zero PnL, since the last-known exit fill is
// unavailable once the broker no longer reports the position.
func (r *Runner) Recover(ctx context.Context) error {
	if r.trades == nil {
		return nil
	}
	openRows, err := r.trades.OpenTrades()
	if err != nil {
		return fmt.Errorf("runner: recover: read journal: %w", err)
	}
	if len(openRows) == 0 {
		return nil
	}

	brokerPositions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("runner: recover: get broker positions: %w", err)
	}
	byTradingsymbol := make(map[string]broker.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		if bp.NetQty != 0 {
			byTradingsymbol[symbolcodec.Canonicalize(bp.Tradingsymbol)] = bp
		}
	}

	tunables := r.Tunables()
	rules := r.cfg.MonitorRules(tunables.SLPoints, tunables.TrailPoints, tunables.LotSize)

	for _, row := range openRows {
		bp, matched := byTradingsymbol[symbolcodec.Canonicalize(row.Tradingsymbol)]
		if !matched {
			_ = r.trades.UpdateExit(row.OrderID, 0, 0, "manual_exit")
			continue
		}

		lots := row.Quantity
		if lots <= 0 {
			lots = tunables.OrderLots
		}
		pos := &models.OpenPosition{
			OrderID:          row.OrderID,
			Tradingsymbol:    row.Tradingsymbol,
			Symbol:           row.Symbol,
			Strike:           row.Strike,
			Side:             models.Side(row.Direction),
			EntryPrice:       row.Entry,
			TotalQtyLots:     lots,
			RemainingQtyLots: lots,
			LotSize:          tunables.LotSize,
			StopLoss:         row.SL,
			TrailAnchor:      bp.LTP,
			EntryTime:        row.Timestamp,
		}
		if pos.TrailAnchor < pos.EntryPrice {
			pos.TrailAnchor = pos.EntryPrice
		}

		r.mu.Lock()
		r.state.ActiveMonitors[pos.OrderID] = pos
		r.mu.Unlock()

		r.spawnMonitor(pos, rules)
	}
	return nil
}

// HandlePositionClosed is wired to eventbus.PositionClosed so the runner can
// update dailyPnl and remove the finished position from ActiveMonitors and
// the trade journal.
func (r *Runner) HandlePositionClosed(payload monitor.PositionClosedPayload) {
	r.mu.Lock()
	r.state.DailyPnl += payload.TotalPnl
	delete(r.state.ActiveMonitors, payload.OrderID)
	r.mu.Unlock()
	if r.trades != nil {
		_ = r.trades.UpdateExit(payload.OrderID, payload.ExitPrice, payload.TotalPnl, string(payload.Reason))
	}
}
