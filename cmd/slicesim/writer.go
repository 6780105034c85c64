package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"slicesim/internal/config"
	"slicesim/internal/sim"
	"slicesim/internal/telemetry"
)

// writerOptions select the sinks built by newWriters.
type writerOptions struct {
	console   bool
	printOnly bool
	tui       bool
	logFile   string
}

// isTerminal reports whether STDOUT is attached to a terminal.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

// newWriters sets up snapshot sinks from flags and configuration. It returns
// the writer and a cleanup function that closes any resources. A single sink
// is returned as is; several are wrapped in a MultiWriter.
func newWriters(c *config.Config, o writerOptions, runs ...telemetry.SimulationConfig) (sim.SnapshotWriter, func(), error) {
	var ws []sim.SnapshotWriter
	if o.console {
		ws = append(ws, consoleWriter(o, runs))
	}
	if !o.printOnly && c.Greptime.Endpoint != "" {
		gw, err := sim.NewGreptimeDBWriter(c.Greptime.Endpoint, c.Greptime.Database)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("writing metrics to GreptimeDB", "endpoint", c.Greptime.Endpoint, "database", c.Greptime.Database)
		ws = append(ws, gw)
	}
	if o.logFile != "" {
		fw, err := sim.NewFileWriter(o.logFile, o.logFile+".runs")
		if err != nil {
			closeAll(ws)
			return nil, nil, err
		}
		ws = append(ws, fw)
	}

	switch len(ws) {
	case 0:
		return sim.NopWriter{}, func() {}, nil
	case 1:
		return ws[0], func() { closeAll(ws) }, nil
	}
	mw := sim.NewMultiWriter(ws...)
	return mw, func() {
		if err := mw.Close(); err != nil {
			slog.Warn("closing writers", "err", err)
		}
	}, nil
}

// consoleWriter picks the STDOUT sink: the TUI when asked for, JSON lines
// when printing only or not on a terminal, colors otherwise.
func consoleWriter(o writerOptions, runs []telemetry.SimulationConfig) sim.SnapshotWriter {
	switch {
	case o.tui:
		return sim.NewTUIWriter(runs...)
	case o.printOnly || !isTerminal():
		return sim.NewJSONStdoutWriter()
	default:
		return sim.NewColorStdoutWriter(runs...)
	}
}

func closeAll(ws []sim.SnapshotWriter) {
	for _, w := range ws {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Warn("closing writer", "err", err)
			}
		}
	}
}
