package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"slicesim/internal/config"
	"slicesim/internal/logging"
)

var (
	rootConfigPath string
	rootLogLevel   string
	rootLogFormat  string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "slicesim",
	Short: "5G network slicing simulator",
	Long:  "slicesim generates traffic, routes it across eMBB, URLLC and mMTC slices and reports per-tick QoS metrics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(rootConfigPath)
		if err != nil {
			return err
		}
		if rootLogLevel != "" {
			c.Logging.Level = rootLogLevel
		}
		if rootLogFormat != "" {
			c.Logging.Format = rootLogFormat
		}
		logger, err := logging.NewWithOptions(os.Stderr, c.Logging)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		cfg = c
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to configuration YAML (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "", "Override log format (text, json)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}
