package cmd

import "github.com/spf13/cobra"

var armCmd = &cobra.Command{
	Use:   "arm",
	Short: "Flip the running engine's execution-armed interlock on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlPost("/control/arm", nil)
	},
}

func init() {
	armCmd.Flags().StringVar(&controlURL, "url", "http://localhost:8765", "base URL of the running engine's control server")
	armCmd.Flags().StringVar(&controlToken, "token", "", "control server auth token")
	rootCmd.AddCommand(armCmd)
}
