package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slicesim/internal/api"
	"slicesim/internal/history"
	"slicesim/internal/metrics"
	"slicesim/internal/sim"
	"slicesim/internal/slice"
	"slicesim/internal/stream"
)

var (
	serveAddr    string
	serveLogFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation API server",
	Long:  "serve exposes the REST and WebSocket API for creating, running and inspecting slicing simulations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		router, err := slice.NewRouter(cfg.Allocation, cfg.Slices.Models()...)
		if err != nil {
			return err
		}
		store, err := history.Open(cfg.History)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("closing history store", "err", err)
			}
		}()

		rec := metrics.New(nil)
		broker := stream.NewBroker(
			stream.WithBuffer(cfg.Server.SubscriberBuffer),
			stream.WithDropHook(rec.StreamDropped),
		)
		writer, cleanup, err := newWriters(cfg, writerOptions{logFile: serveLogFile})
		if err != nil {
			return err
		}
		defer cleanup()

		orch, err := sim.New(sim.Options{
			Router:          router,
			Store:           store,
			Broker:          broker,
			Writer:          writer,
			Recorder:        rec,
			Limits:          cfg.Limits(),
			DefaultInterval: cfg.Simulation.DefaultInterval,
			Seed:            cfg.Seed,
			Logger:          slog.Default(),
		})
		if err != nil {
			return err
		}
		srv, err := api.NewServer(orch, api.WithMetrics(rec.Handler()), api.WithLogger(slog.Default()))
		if err != nil {
			return err
		}

		serveErr := srv.Start(ctx, cfg.Server.Addr, cfg.ShutdownTimeout())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			slog.Error("orchestrator shutdown", "err", err)
		}
		slog.Info("slicesim stopped")
		return serveErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Path to export snapshots and run records (JSONL)")
}
