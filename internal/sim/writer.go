package sim

import (
	"slicesim/internal/telemetry"
)

// SnapshotWriter is an interface to support different snapshot sinks.
type SnapshotWriter interface {
	WriteSnapshot(telemetry.TickSnapshot) error
}

// Optional: writers may support batch mode
type batchWriter interface {
	WriteSnapshots([]telemetry.TickSnapshot) error
}

// RunWriter receives run records on every status change.
type RunWriter interface {
	WriteRun(telemetry.RunRecord) error
}

// NopWriter discards everything.
type NopWriter struct{}

func (NopWriter) WriteSnapshot(telemetry.TickSnapshot) error { return nil }

func (NopWriter) WriteRun(telemetry.RunRecord) error { return nil }
