package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/broker"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/config"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/control"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/eventbus"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/journal"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/marketdata"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/monitor"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/reconcile"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/runner"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/statestore"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/strike"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live control loop until interrupted",
	RunE:  runLive,
}

func init() {
	rootCmd.AddCommand(liveCmd)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Hot-path components log through a stdlib *log.Logger to keep the
	// tick path allocation-light.
	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("starting engine in %s mode for %s", cfg.Environment.Mode, cfg.Runner.Symbol)

	dashLogger := logrus.New()
	if cfg.Environment.Mode == "live" {
		dashLogger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		dashLogger.SetLevel(lvl)
	} else {
		dashLogger.SetLevel(logrus.InfoLevel)
	}

	// The concrete broker REST wire format and historical-data vendor HTTP
	// quirks live in external adapter products; the only concrete adapters
	// in this repo are in-memory doubles. A real adapter is dropped in
	// behind the same broker.Broker/marketdata.Adapter interfaces without
	// touching runner/monitor/reconcile.
	var rawBroker broker.Broker = &broker.MockBroker{
		Margin: cfg.Runner.InitialCapital,
	}
	rawBroker = broker.NewRetryingBroker(rawBroker, broker.DefaultRetryConfig)
	brk := broker.NewCircuitBreakerBroker(rawBroker)

	market := marketdata.NewCachedAdapter(&marketdata.MockAdapter{})

	bus := eventbus.New(dashLogger)
	if err := bus.EnablePersistence(cfg.Storage.EventLogPath); err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	store := statestore.New(cfg.Storage.SnapshotDir)

	trades, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	missed, err := journal.Open(cfg.Storage.MissedJournalPath)
	if err != nil {
		return fmt.Errorf("open missed journal: %w", err)
	}

	tunables := models.RunnerTunables{
		SLPoints:          cfg.Runner.SLPoints,
		TrailPoints:       cfg.Runner.TrailPoints,
		OrderLots:         cfg.Runner.OrderLots,
		AtmOffset:         cfg.Runner.AtmOffset,
		DailyLossLimitPct: cfg.Runner.DailyLossLimitPct,
		LotSize:           cfg.Runner.LotSize,
	}

	rcfg := runner.StaticConfig{
		Symbol:         cfg.Runner.Symbol,
		WindowHours:    cfg.MarketData.WindowHours,
		MinCandles:     cfg.MarketData.MinCandles,
		MissedGrace:    cfg.MissedGrace(),
		StrikeMode:     strike.Mode(cfg.Backtest.StrikeMode),
		RRRatio:        cfg.Runner.RRRatio,
		InitialCapital: cfg.Runner.InitialCapital,
		MonitorRules:   cfg.Monitor.ToRules,
	}
	r := runner.New(rcfg, brk, market, bus, store, trades, tunables)
	r.SetMissedJournal(missed)
	r.SetExecutionArmed(cfg.Runner.ExecutionArmed)

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := r.Recover(recoverCtx); err != nil {
		logger.Printf("startup recovery failed: %v", err)
	}
	recoverCancel()

	reconciler := reconcile.New(brk, r.ActivePositions, bus, store, cfg.ReconcileInterval())

	bus.Subscribe(eventbus.PositionClosed, func(ev eventbus.Event) {
		if payload, ok := ev.Data.(monitor.PositionClosedPayload); ok {
			r.HandlePositionClosed(payload)
		}
	})
	control.WireMetrics(bus)

	validate := func(t models.RunnerTunables) error {
		return config.ValidateTunables(t.SLPoints, t.TrailPoints, t.OrderLots, t.LotSize, t.DailyLossLimitPct)
	}

	var srv *control.Server
	if cfg.Control.Enabled {
		srv = control.New(control.Config{Port: cfg.Control.Port, AuthToken: cfg.Control.AuthToken}, r, bus, missed, dashLogger, validate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("shutdown signal received, stopping engine...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return r.Run(gctx, cfg.PollingInterval())
	})

	g.Go(func() error {
		reconciler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		sched := statestore.NewScheduler(store, time.Duration(cfg.Storage.SnapshotIntervalMinutes)*time.Minute, cfg.Storage.SnapshotRetain)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				_, _ = sched.Maybe(time.Now(), true)
				return nil
			case <-ticker.C:
				snap := r.Snapshot()
				control.SetPositionsOpen(snap.ActiveCount)
				control.SetDailyPnl(snap.DailyPnl)
				if err := store.Update("runner_state", snap); err != nil {
					logger.Printf("state update failed: %v", err)
					continue
				}
				if _, err := sched.Maybe(time.Now(), false); err != nil {
					logger.Printf("snapshot failed: %v", err)
				}
			}
		}
	})

	if srv != nil {
		g.Go(func() error {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("control server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Println("engine stopped")
	return nil
}
