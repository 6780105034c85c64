package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"slicesim/internal/scenario"
	"slicesim/internal/sim"
	"slicesim/internal/slice"
	"slicesim/internal/telemetry"
)

var (
	simVolume    int64
	simDuration  int64
	simPattern   string
	simInterval  float64
	simSeed      int64
	simScenario  string
	simBuiltIn   string
	simPrintOnly bool
	simTUI       bool
	simLogFile   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulations locally without the API",
	Long:  "simulate runs one simulation, a scenario file or a built-in scenario to completion and prints per-tick slice metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := resolveScenario()
		if err != nil {
			return err
		}
		assignIDs(sc)
		if err := sc.Validate(cfg.Limits()); err != nil {
			return err
		}

		writer, cleanup, err := newWriters(cfg, writerOptions{
			console:   true,
			printOnly: simPrintOnly,
			tui:       simTUI,
			logFile:   simLogFile,
		}, sc.Configs()...)
		if err != nil {
			return err
		}

		router, err := slice.NewRouter(cfg.Allocation, cfg.Slices.Models()...)
		if err != nil {
			cleanup()
			return err
		}
		orch, err := sim.New(sim.Options{
			Router:          router,
			Writer:          writer,
			Limits:          cfg.Limits(),
			DefaultInterval: cfg.Simulation.DefaultInterval,
			Seed:            cfg.Seed,
			Logger:          slog.Default(),
		})
		if err != nil {
			cleanup()
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		views, runErr := scenario.Execute(ctx, orch, sc)
		if err := orch.Shutdown(context.Background()); err != nil {
			slog.Warn("orchestrator shutdown", "err", err)
		}
		cleanup()

		if !simTUI {
			printSummary(os.Stderr, views)
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		return nil
	},
}

// resolveScenario builds the scenario from --scenario, --builtin or the
// single-run flags, in that order.
func resolveScenario() (*scenario.Scenario, error) {
	switch {
	case simScenario != "":
		return scenario.Load(simScenario)
	case simBuiltIn != "":
		all := scenario.BuiltIn()
		sc, ok := all[simBuiltIn]
		if !ok {
			names := make([]string, 0, len(all))
			for n := range all {
				names = append(names, n)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("unknown scenario %q (available: %s)", simBuiltIn, strings.Join(names, ", "))
		}
		sc.Runs = append([]scenario.Run(nil), sc.Runs...)
		if sc.Name == "" {
			sc.Name = simBuiltIn
		}
		return &sc, nil
	}
	return &scenario.Scenario{
		Name: "cli",
		Runs: []scenario.Run{{SimulationConfig: telemetry.SimulationConfig{
			TrafficVolume: simVolume,
			Duration:      simDuration,
			Pattern:       telemetry.Pattern(simPattern),
			Interval:      simInterval,
			Seed:          simSeed,
		}}},
	}, nil
}

// assignIDs names anonymous runs after the scenario so output lines can be
// told apart before the runs are created.
func assignIDs(sc *scenario.Scenario) {
	prefix := strings.ToLower(strings.Join(strings.Fields(sc.Name), "-"))
	if prefix == "" {
		prefix = "run"
	}
	for i := range sc.Runs {
		if sc.Runs[i].ID == "" {
			sc.Runs[i].ID = fmt.Sprintf("%s-%d", prefix, i+1)
		}
	}
}

func printSummary(w io.Writer, views []sim.RunView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tStatus\tTicks\tGenerated\tProcessed\tDropped\tSuccess %")
	for _, v := range views {
		if v.ID() == "" {
			continue
		}
		success := 0.0
		if v.TrafficGenerated > 0 {
			success = float64(v.PacketsProcessed) / float64(v.TrafficGenerated) * 100
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%.2f\n", v.ID(), v.Status, v.Ticks, v.TotalTicks,
			v.TrafficGenerated, v.PacketsProcessed, v.PacketsDropped, success)
	}
	tw.Flush()
}

func init() {
	simulateCmd.Flags().Int64Var(&simVolume, "volume", 10000, "Traffic volume per simulated second")
	simulateCmd.Flags().Int64Var(&simDuration, "duration", 10, "Simulation duration in seconds")
	simulateCmd.Flags().StringVar(&simPattern, "pattern", string(telemetry.PatternConstant), "Traffic pattern (constant, burst, wave)")
	simulateCmd.Flags().Float64Var(&simInterval, "interval", 0, "Tick interval in seconds (config default when 0)")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Random seed (random when 0)")
	simulateCmd.Flags().StringVar(&simScenario, "scenario", "", "Path to a scenario YAML file")
	simulateCmd.Flags().StringVar(&simBuiltIn, "builtin", "", "Name of a built-in scenario")
	simulateCmd.Flags().BoolVar(&simPrintOnly, "print-only", false, "Print JSON lines to STDOUT and skip GreptimeDB")
	simulateCmd.Flags().BoolVar(&simTUI, "tui", false, "Render progress in an interactive terminal UI")
	simulateCmd.Flags().StringVar(&simLogFile, "log-file", "", "Path to export snapshots and run records (JSONL)")
	simulateCmd.MarkFlagsMutuallyExclusive("scenario", "builtin")
	simulateCmd.MarkFlagsMutuallyExclusive("print-only", "tui")
}
