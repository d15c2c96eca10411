package cmd

import "github.com/spf13/cobra"

var disarmCmd = &cobra.Command{
	Use:   "disarm",
	Short: "Flip the running engine's execution-armed interlock off",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlPost("/control/disarm", nil)
	},
}

func init() {
	disarmCmd.Flags().StringVar(&controlURL, "url", "http://localhost:8765", "base URL of the running engine's control server")
	disarmCmd.Flags().StringVar(&controlToken, "token", "", "control server auth token")
	rootCmd.AddCommand(disarmCmd)
}
