// Command engine is the NIFTY inside-bar breakout trading engine: a cobra
// CLI offering live, backtest, arm/disarm, and set-tunable subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/eddiefleurent/nifty-breakout-engine/cmd/engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
