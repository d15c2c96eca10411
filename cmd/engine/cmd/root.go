package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "NIFTY inside-bar breakout trading engine",
	Long: `engine detects inside-bar breakouts on NIFTY/BANKNIFTY index options,
manages positions through stop-loss/trail/tiered-booking/expiry exits, and
replays the identical logic against stored historical candles in backtest
mode.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// optional .env loading ahead of the yaml config's os.ExpandEnv pass,
		// for local-development broker credentials.
		if envFile != "" {
			return godotenv.Load(envFile)
		}
		_ = godotenv.Load() // best-effort; absent .env is not an error
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the engine's YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "dotenv", "", "optional .env file to load before config (default: .env if present)")
}
