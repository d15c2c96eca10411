package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/backtest"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/candle"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/config"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/histstore"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/strike"
)

var (
	btFrom string
	btTo   string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical candles through the pattern/exit engine",
	RunE:  runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "start date (2006-01-02), default: earliest stored bar")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "end date (2006-01-02), default: latest stored bar")
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := histstore.Open(cfg.Backtest.HistDBPath)
	if err != nil {
		return fmt.Errorf("open histstore: %w", err)
	}
	defer store.Close()

	from, to, err := parseRange(btFrom, btTo)
	if err != nil {
		return err
	}

	ctx := context.Background()
	spotBars, err := store.SpotOHLC(ctx, cfg.Runner.Symbol, from, to)
	if err != nil {
		return fmt.Errorf("load spot candles: %w", err)
	}
	// Aggregate the stored raw bars into complete NSE-aligned 1h candles;
	// the walk-forward engine never sees a forming bar.
	spotCandles := candle.CompleteOnly(candle.Align(spotBars, to))

	expiries, err := store.Expiries(ctx, cfg.Runner.Symbol, from, to)
	if err != nil {
		return fmt.Errorf("load expiries: %w", err)
	}

	rules := backtest.DefaultRules()
	rules.UseTieredExits = cfg.Backtest.UseTieredExits
	rules.SLPoints = cfg.Runner.SLPoints
	rules.TrailPoints = cfg.Runner.TrailPoints
	rules.Book1Points = cfg.Monitor.Book1Points
	rules.Book2Points = cfg.Monitor.Book2Points
	rules.Book1Ratio = cfg.Monitor.Book1Ratio
	rules.BeAtR = cfg.Monitor.BeAtR
	rules.LotSize = cfg.Runner.LotSize
	rules.TotalLots = cfg.Runner.OrderLots
	rules.LegacyStopLossPct = cfg.Backtest.LegacyStopLossPct
	rules.LegacyLock1Pct = cfg.Backtest.LegacyLock1Pct
	rules.LegacyLock2Pct = cfg.Backtest.LegacyLock2Pct
	rules.LegacyLock3Pct = cfg.Backtest.LegacyLock3Pct
	rules.StrikeMode = strike.Mode(cfg.Backtest.StrikeMode)
	rules.StrikeOffset = cfg.Backtest.StrikeOffset
	rules.ExpiryBlackoutHour = cfg.Backtest.ExpiryBlackoutHour
	rules.ExpiryBlackoutMinute = cfg.Backtest.ExpiryBlackoutMinute

	in := backtest.Inputs{
		Symbol:         cfg.Runner.Symbol,
		SpotCandles:    spotCandles,
		Expiries:       expiries,
		InitialCapital: cfg.Runner.InitialCapital,
		Chain: func(contract models.OptionContract) ([]models.Candle, bool) {
			bars, err := store.OptionOHLC(ctx, contract.Symbol, contract.Expiry, contract.Strike, contract.Side, from, to)
			if err != nil || len(bars) == 0 {
				return nil, false
			}
			out := make([]models.Candle, 0, len(bars))
			for _, b := range bars {
				out = append(out, rawBarToCandle(b))
			}
			return out, true
		},
		ListedStrikes: func(expiry time.Time, side models.Side) []int {
			strikes, err := store.ListedStrikes(ctx, cfg.Runner.Symbol, expiry, side)
			if err != nil {
				return nil
			}
			return strikes
		},
	}

	result, err := backtest.Run(in, rules)
	if err != nil {
		return fmt.Errorf("backtest run: %w", err)
	}

	backtest.PrintReport(os.Stdout, cfg.Runner.Symbol, result)
	return nil
}

func rawBarToCandle(b candle.RawBar) models.Candle {
	return models.Candle{
		Timestamp: b.Timestamp,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var fromT, toT time.Time
	var err error
	if from != "" {
		fromT, err = time.ParseInLocation("2006-01-02", from, backtest.IST)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	} else {
		fromT = time.Date(2000, 1, 1, 0, 0, 0, 0, backtest.IST)
	}
	if to != "" {
		toT, err = time.ParseInLocation("2006-01-02", to, backtest.IST)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		toT = toT.Add(24 * time.Hour)
	} else {
		toT = time.Now().In(backtest.IST)
	}
	return fromT, toT, nil
}
