package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"slicesim/internal/telemetry"
)

// JSONStdoutWriter prints snapshots and run records as JSON lines to STDOUT.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteSnapshot outputs a snapshot in JSON format.
func (w *JSONStdoutWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	return w.emit(s)
}

// WriteSnapshots outputs multiple snapshots in JSON format.
func (w *JSONStdoutWriter) WriteSnapshots(rows []telemetry.TickSnapshot) error {
	for _, r := range rows {
		if err := w.WriteSnapshot(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteRun outputs a run record in JSON format.
func (w *JSONStdoutWriter) WriteRun(rec telemetry.RunRecord) error {
	return w.emit(rec)
}
