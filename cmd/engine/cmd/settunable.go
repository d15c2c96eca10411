package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

var tunableFlags models.RunnerTunables

var setTunableCmd = &cobra.Command{
	Use:   "set-tunable",
	Short: "Update the running engine's live tunables",
	Long: `set-tunable posts a full tunables snapshot to the running engine's
control server. All fields must be supplied; the server validates the
snapshot and keeps its previous values if any field is out of range.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlPost("/control/tunables", tunableFlags)
	},
}

func init() {
	setTunableCmd.Flags().StringVar(&controlURL, "url", "http://localhost:8765", "base URL of the running engine's control server")
	setTunableCmd.Flags().StringVar(&controlToken, "token", "", "control server auth token")
	setTunableCmd.Flags().Float64Var(&tunableFlags.SLPoints, "sl-points", 30, "stop-loss distance in option-premium points")
	setTunableCmd.Flags().Float64Var(&tunableFlags.TrailPoints, "trail-points", 10, "trailing-stop step in option-premium points")
	setTunableCmd.Flags().IntVar(&tunableFlags.OrderLots, "order-lots", 1, "lots per new order")
	setTunableCmd.Flags().IntVar(&tunableFlags.AtmOffset, "atm-offset", 0, "strike offset from ATM in points")
	setTunableCmd.Flags().Float64Var(&tunableFlags.DailyLossLimitPct, "daily-loss-limit-pct", 5, "daily loss limit as percent of initial capital")
	setTunableCmd.Flags().IntVar(&tunableFlags.LotSize, "lot-size", 75, "units per lot")
	rootCmd.AddCommand(setTunableCmd)
}
