package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"slicesim/internal/slice"
	"slicesim/internal/telemetry"
	"slicesim/internal/traffic"
)

// RunView is an immutable picture of a run. Readers load it without locking.
type RunView struct {
	telemetry.RunRecord
	TotalTicks int                     `json:"total_ticks"`
	Latest     *telemetry.TickSnapshot `json:"latest_snapshot,omitempty"`
}

// Run is the live state of one simulation. Only the run's own goroutine and
// the lifecycle operations write the view, always under mu.
type Run struct {
	cfg      telemetry.SimulationConfig
	schedule []int64
	streams  *slice.Streams

	// mu serialises commits: a tick's store append, view swap and publish
	// happen under it, as do status transitions.
	mu     sync.Mutex
	view   atomic.Pointer[RunView]
	cancel context.CancelFunc
	done   chan struct{}
}

func newRun(rec telemetry.RunRecord) *Run {
	r := &Run{
		cfg:      rec.Config,
		schedule: traffic.Schedule(rec.Config),
		streams:  slice.NewStreams(rec.Config.Seed, telemetry.SliceNames...),
		done:     make(chan struct{}),
	}
	r.view.Store(&RunView{RunRecord: rec, TotalTicks: len(r.schedule)})
	return r
}

// View returns the current snapshot of the run.
func (r *Run) View() RunView { return *r.view.Load() }

// Done is closed when the run's tick loop has exited.
func (r *Run) Done() <-chan struct{} { return r.done }

// transitionLocked swaps in a copy of the view with status st. Callers hold mu.
func (r *Run) transitionLocked(st telemetry.Status, now time.Time, errMsg string) RunView {
	next := *r.view.Load()
	next.Status = st
	switch {
	case st == telemetry.StatusRunning:
		next.StartTime = &now
	case st.Terminal():
		next.EndTime = &now
		next.Error = errMsg
	}
	r.view.Store(&next)
	return next
}
