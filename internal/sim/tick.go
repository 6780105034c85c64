package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"slicesim/internal/logging"
	"slicesim/internal/stream"
	"slicesim/internal/telemetry"
)

// loop runs the ticks of r until the schedule is exhausted or ctx is done.
func (o *Orchestrator) loop(ctx context.Context, r *Run) {
	defer o.wg.Done()
	defer close(r.done)

	log := logging.FromContext(ctx).With("simulation_id", r.cfg.ID)
	ctx = logging.NewContext(ctx, log)
	ticker := o.newTicker(r.cfg.IntervalDuration())
	defer ticker.Stop()

	for i := 0; i < len(r.schedule); i++ {
		select {
		case <-ticker.C():
		case <-ctx.Done():
			return
		}
		if err := o.tick(ctx, r, i); err != nil {
			if errors.Is(err, errNotRunning) {
				return
			}
			o.finalize(ctx, r, telemetry.StatusFailed, err.Error())
			return
		}
	}
	o.finalize(ctx, r, telemetry.StatusCompleted, "")
}

// tick computes tick i outside the commit lock, then commits it: history
// and counters in one store call, then subscribers and the sink queue, all
// in tick order. Sink I/O happens later on the queue's goroutine.
func (o *Orchestrator) tick(ctx context.Context, r *Run, i int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick %d panicked: %v", i, rec)
			logging.FromContext(ctx).Error("tick panic", "tick", i, "err", err, "stack", string(debug.Stack()))
		}
	}()
	began := time.Now()
	volume := r.schedule[i]
	alloc := o.router.Allocate(volume)
	results, err := o.router.Process(ctx, r.streams, alloc)
	if err != nil {
		if ctx.Err() != nil {
			return errNotRunning
		}
		return fmt.Errorf("process tick %d: %w", i, err)
	}
	snap := aggregate(r.cfg.ID, i, o.now(), volume, results)

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.view.Load()
	if cur.Status != telemetry.StatusRunning {
		return errNotRunning
	}
	next := *cur
	next.Totals = cur.Totals.Add(snap)
	next.Ticks = i + 1
	next.Latest = &snap
	if err := o.store.CommitTick(context.WithoutCancel(ctx), next.RunRecord, snap); err != nil {
		return fmt.Errorf("commit tick %d: %w", i, err)
	}
	r.view.Store(&next)

	o.broker.Publish(stream.MetricsEvent(snap, next.Totals))
	o.sinks.snapshot(snap)
	o.rec.TickCommitted(snap, time.Since(began))
	logging.FromContext(ctx).Debug("tick committed", "tick", i, "traffic", snap.TickTraffic,
		"processed", snap.TickProcessed, "dropped", snap.TickDropped)
	return nil
}
