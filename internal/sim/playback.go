package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"slicesim/internal/telemetry"
)

// ReplayOptions controls snapshot replay.
type ReplayOptions struct {
	// Speed >1 accelerates playback. Speed <= 0 replays without delays.
	Speed float64
	// SimulationID restricts replay to one run when set.
	SimulationID string
}

// ReplayLog decodes JSON lines of tick snapshots from r and hands them to
// writer, pacing them by their recorded timestamps. It returns the number of
// snapshots replayed.
func ReplayLog(ctx context.Context, r io.Reader, writer SnapshotWriter, o ReplayOptions) (int, error) {
	dec := json.NewDecoder(r)
	var prev time.Time
	n := 0
	for {
		var s telemetry.TickSnapshot
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("decode snapshot %d: %w", n+1, err)
		}
		if o.SimulationID != "" && s.SimulationID != o.SimulationID {
			continue
		}
		if !prev.IsZero() && o.Speed > 0 {
			wait := time.Duration(float64(s.Timestamp.Sub(prev)) / o.Speed)
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return n, ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := writer.WriteSnapshot(s); err != nil {
			return n, err
		}
		prev = s.Timestamp
		n++
	}
}

// ReplayLogFile opens path and replays its snapshots.
func ReplayLogFile(ctx context.Context, path string, writer SnapshotWriter, o ReplayOptions) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, o)
}
