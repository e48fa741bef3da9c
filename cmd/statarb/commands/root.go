package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "statarb",
	Short: "Statarb - pairs trading decision & retraining engine",
	Long: `Statarb Unified CLI

Decision and retraining engine for a market-neutral pairs strategy.
Monthly pipeline from data quality gating to model deployment, plus the
live inference workers that emit execution signals.

Usage:
  go run ./cmd/statarb [command]

Examples:
  go run ./cmd/statarb scheduler start
  go run ./cmd/statarb retrain --universe crypto-major
  go run ./cmd/statarb worker --pairs BTC-ETH,ETH-SOL
  go run ./cmd/statarb api`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
