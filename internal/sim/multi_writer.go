package sim

import (
	"errors"

	"slicesim/internal/telemetry"
)

// MultiWriter fans snapshots and run records out to several writers. Every
// writer is attempted; the errors are joined.
type MultiWriter struct {
	writers []SnapshotWriter
}

// NewMultiWriter creates a new MultiWriter, skipping nil writers.
func NewMultiWriter(ws ...SnapshotWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Len returns the number of wrapped writers.
func (mw *MultiWriter) Len() int { return len(mw.writers) }

// WriteSnapshot sends a snapshot to all writers.
func (mw *MultiWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.WriteSnapshot(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteSnapshots sends multiple snapshots to all writers, using batch if supported.
func (mw *MultiWriter) WriteSnapshots(rows []telemetry.TickSnapshot) error {
	var errs []error
	for _, w := range mw.writers {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteSnapshots(rows); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, r := range rows {
			if err := w.WriteSnapshot(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// WriteRun forwards a run record to the writers that accept one.
func (mw *MultiWriter) WriteRun(rec telemetry.RunRecord) error {
	var errs []error
	for _, w := range mw.writers {
		if rw, ok := w.(RunWriter); ok {
			if err := rw.WriteRun(rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer that has a Close method.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
