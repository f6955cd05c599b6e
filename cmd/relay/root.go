package main

import (
	"os"

	"github.com/spf13/cobra"
)

var hubAddr string
var hubToken string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Coordinator/worker task dispatch",
	Long: `Relay dispatches goal-directed tasks from a central hub to remote
worker processes over persistent connections.

Run a hub with 'relay hub', attach workers with 'relay worker', then submit
goals with 'relay submit'. Workers decompose each goal into a dependency plan
and execute it step by step against the reasoning service, reporting progress
back to the hub as they go.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&hubAddr, "hub", "http://localhost:7470", "Hub admin API base URL")
	rootCmd.PersistentFlags().StringVar(&hubToken, "token", "", "Bearer token for the hub")

	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(versionCmd)
}
