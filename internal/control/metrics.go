package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/eventbus"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/monitor"
)

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed, by side.",
		},
		[]string{"side"},
	)

	positionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_positions_open",
			Help: "Currently open positions under active monitoring.",
		},
	)

	dailyPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_daily_pnl",
			Help: "Realized PnL accumulated for the current trading day.",
		},
	)

	gateRefusalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_gate_refusals_total",
			Help: "Pre-trade gate refusals, by gate name.",
		},
		[]string{"gate"},
	)

	exitReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Closed-position exits, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal, positionsOpen, dailyPnl, gateRefusalsTotal, exitReasonsTotal)
}

// WireMetrics subscribes the Prometheus collectors to the event bus so the
// counters track trade and exit activity without the runner or monitor
// importing this package.
func WireMetrics(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TradeExecuted, func(ev eventbus.Event) {
		if pos, ok := ev.Data.(*models.OpenPosition); ok {
			ordersTotal.WithLabelValues(string(pos.Side)).Inc()
		}
	})
	bus.Subscribe(eventbus.PositionClosed, func(ev eventbus.Event) {
		if payload, ok := ev.Data.(monitor.PositionClosedPayload); ok {
			exitReasonsTotal.WithLabelValues(string(payload.Reason)).Inc()
		}
	})
	bus.Subscribe(eventbus.DailyLossBreached, func(ev eventbus.Event) {
		gateRefusalsTotal.WithLabelValues("daily_loss_limit").Inc()
	})
}

// SetPositionsOpen reports the current active-monitor count.
func SetPositionsOpen(n int) { positionsOpen.Set(float64(n)) }

// SetDailyPnl reports the runner's current daily PnL.
func SetDailyPnl(v float64) { dailyPnl.Set(v) }
