package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slicesim/internal/sim"
)

var (
	replayInput        string
	replaySpeed        float64
	replaySimulationID string
	replayPrintOnly    bool
	replayTUI          bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a snapshot log file",
	Long:  "replay feeds tick snapshots from a JSONL log back into GreptimeDB or STDOUT at the recorded pace.",
	RunE: func(cmd *cobra.Command, args []string) error {
		writer, cleanup, err := newWriters(cfg, writerOptions{
			console:   replayPrintOnly || replayTUI || cfg.Greptime.Endpoint == "",
			printOnly: replayPrintOnly,
			tui:       replayTUI,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		n, err := sim.ReplayLogFile(ctx, replayInput, writer, sim.ReplayOptions{
			Speed:        replaySpeed,
			SimulationID: replaySimulationID,
		})
		slog.Info("replay finished", "snapshots", n)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to snapshot log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().StringVar(&replaySimulationID, "simulation-id", "", "Only replay snapshots of this simulation")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print snapshots to STDOUT instead of writing to DB")
	replayCmd.Flags().BoolVar(&replayTUI, "tui", false, "Render the replay in an interactive terminal UI")
	replayCmd.MarkFlagRequired("input")
}
