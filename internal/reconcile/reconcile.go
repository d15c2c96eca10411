// Package reconcile implements the broker reconciliation companion task:
// it periodically compares broker-reported positions against the engine's
// tracked OpenPositions and publishes mismatch/success events. It never
// mutates OpenPosition state directly (only the owning position monitor
// may do that); reconciliation writes just the read-only broker_positions
// projection into the state store.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/broker"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/eventbus"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/statestore"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/symbolcodec"
)

// PositionSource supplies the engine's current view of open positions; the
// runner/monitor own the real data, this is a read-only accessor.
type PositionSource func() []models.OpenPosition

// MismatchKind classifies a single reconciliation discrepancy.
type MismatchKind string

const (
	MismatchBrokerOnly MismatchKind = "broker_only" // broker reports a position the engine isn't tracking
	MismatchLocalOnly  MismatchKind = "local_only"  // engine tracks a position the broker no longer reports
	MismatchQuantity   MismatchKind = "quantity"    // both track it but quantities disagree
)

// Mismatch describes one discrepancy found during a reconciliation pass.
type Mismatch struct {
	Kind          MismatchKind
	Tradingsymbol string
	BrokerQty     int
	LocalQty      int
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	At         time.Time
	Mismatches []Mismatch
}

// Reconciler runs periodic reconciliation passes.
type Reconciler struct {
	broker   broker.Broker
	source   PositionSource
	bus      *eventbus.Bus
	store    *statestore.Store
	interval time.Duration
}

// New returns a Reconciler that compares b's reported positions against the
// positions returned by source every interval, publishing outcomes on bus
// and writing the read-only "broker_positions" projection into store.
func New(b broker.Broker, source PositionSource, bus *eventbus.Bus, store *statestore.Store, interval time.Duration) *Reconciler {
	return &Reconciler{broker: b, source: source, bus: bus, store: store, interval: interval}
}

// Run executes reconciliation passes every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	result, err := r.Reconcile(ctx)
	if err != nil {
		return
	}
	if len(result.Mismatches) > 0 {
		r.bus.Publish(eventbus.PositionMismatchDetected, result)
	} else {
		r.bus.Publish(eventbus.PositionReconciliationOK, result)
	}
}

// Reconcile performs a single pass: fetches broker positions, compares
// against the local view, updates the broker_positions projection, and
// returns the discrepancies found without mutating any OpenPosition.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	brokerPositions, err := r.broker.GetPositions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: get broker positions: %w", err)
	}

	if r.store != nil {
		_ = r.store.Update("broker_positions", brokerPositions)
	}

	// Keyed by canonical tradingsymbol: broker position listings spell
	// option symbols differently from the order API.
	brokerQty := make(map[string]int, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerQty[symbolcodec.Canonicalize(p.Tradingsymbol)] += absInt(p.NetQty)
	}

	localQty := make(map[string]int)
	for _, p := range r.source() {
		if p.Closed {
			continue
		}
		localQty[symbolcodec.Canonicalize(p.Tradingsymbol)] += absInt(p.RemainingQtyLots)
	}

	result := Result{At: time.Now()}
	symbols := make(map[string]bool)
	for s := range brokerQty {
		symbols[s] = true
	}
	for s := range localQty {
		symbols[s] = true
	}

	var names []string
	for s := range symbols {
		names = append(names, s)
	}
	sort.Strings(names)

	for _, sym := range names {
		bq, lq := brokerQty[sym], localQty[sym]
		switch {
		case bq > 0 && lq == 0:
			result.Mismatches = append(result.Mismatches, Mismatch{Kind: MismatchBrokerOnly, Tradingsymbol: sym, BrokerQty: bq})
		case lq > 0 && bq == 0:
			result.Mismatches = append(result.Mismatches, Mismatch{Kind: MismatchLocalOnly, Tradingsymbol: sym, LocalQty: lq})
		case bq != lq:
			result.Mismatches = append(result.Mismatches, Mismatch{Kind: MismatchQuantity, Tradingsymbol: sym, BrokerQty: bq, LocalQty: lq})
		}
	}
	return result, nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
