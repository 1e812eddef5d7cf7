// Package cmd implements the pulse CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "pulse — event-driven assistant backbone",
	Long:  "pulse — the event bus, router, and real-time delivery backbone for a multi-channel assistant",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pulse.yaml", "Config file path")

	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(statusCmd)
}
