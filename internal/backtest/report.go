package backtest

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// PrintReport renders a Result as an ASCII trade table plus a summary
// block.
func PrintReport(w io.Writer, symbol string, res Result) {
	fmt.Fprintf(w, "\n%s walk-forward backtest: %d trades\n\n", symbol, res.Stats.TotalTrades)

	table := tablewriter.NewWriter(w)
	table.Header("#", "Entry", "Side", "Strike", "Entry Px", "Exit Px", "PnL", "Reason", "Fallback")
	for i, t := range res.Trades {
		fallback := ""
		if t.StrikeFallback {
			fallback = "yes"
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			t.EntryTime.In(IST).Format("2006-01-02 15:04"),
			string(t.Direction),
			fmt.Sprintf("%d", t.Strike),
			fmt.Sprintf("%.2f", t.Entry),
			fmt.Sprintf("%.2f", t.Exit),
			fmt.Sprintf("%.2f", t.PnL),
			t.ExitReason,
			fallback,
		)
	}
	table.Render()

	s := res.Stats
	fmt.Fprintf(w, "\nTotal trades: %d  winners: %d  losers: %d  win rate: %.1f%%\n",
		s.TotalTrades, s.Winners, s.Losers, s.WinRate*100)
	fmt.Fprintf(w, "Avg win: %.2f  avg loss: %.2f  max drawdown: %.2f\n", s.AvgWin, s.AvgLoss, s.MaxDrawdown)
	fmt.Fprintf(w, "Max win streak: %d  max loss streak: %d  trail-exit share: %.1f%%\n",
		s.MaxWinStreak, s.MaxLossStreak, s.TrailExitShare*100)
	fmt.Fprintf(w, "Avg capital required: %.2f  final capital: %.2f  capital exhausted: %v\n",
		s.AvgCapitalReq, s.FinalCapital, s.CapitalExhausted)
}
