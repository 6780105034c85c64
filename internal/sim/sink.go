package sim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"slicesim/internal/telemetry"
)

// DefaultSinkBuffer is how many snapshots may wait for the writer before new
// ones are dropped.
const DefaultSinkBuffer = 1024

// sinkItem is one queued write. Exactly one field is set.
type sinkItem struct {
	snap  *telemetry.TickSnapshot
	rec   *telemetry.RunRecord
	flush chan struct{}
}

// sinkQueue hands committed snapshots and run records to the writer from a
// single goroutine, in commit order, so a slow sink never holds a run's
// commit lock. Snapshots beyond the limit are dropped; run records and
// flush markers are always queued.
type sinkQueue struct {
	w     SnapshotWriter
	log   *slog.Logger
	limit int

	mu      sync.Mutex
	items   []sinkItem
	pending int
	closed  bool

	wake    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

func newSinkQueue(w SnapshotWriter, limit int, log *slog.Logger) *sinkQueue {
	if limit <= 0 {
		limit = DefaultSinkBuffer
	}
	q := &sinkQueue{
		w:     w,
		log:   log,
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go q.drain()
	return q
}

// Dropped returns how many snapshots never reached the writer.
func (q *sinkQueue) Dropped() int64 { return q.dropped.Load() }

func (q *sinkQueue) snapshot(s telemetry.TickSnapshot) {
	q.mu.Lock()
	if q.closed || q.pending >= q.limit {
		q.mu.Unlock()
		n := q.dropped.Add(1)
		q.log.Warn("snapshot sink behind, dropping", "simulation_id", s.SimulationID, "tick", s.Tick, "dropped", n)
		return
	}
	q.items = append(q.items, sinkItem{snap: &s})
	q.pending++
	q.mu.Unlock()
	q.signal()
}

func (q *sinkQueue) run(rec telemetry.RunRecord) {
	if _, ok := q.w.(RunWriter); !ok {
		return
	}
	q.push(sinkItem{rec: &rec})
}

// flush waits until everything queued before the call has been written.
func (q *sinkQueue) flush(ctx context.Context) error {
	marker := make(chan struct{})
	if !q.push(sinkItem{flush: marker}) {
		return nil
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close writes what is queued and stops the drain goroutine.
func (q *sinkQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *sinkQueue) push(it sinkItem) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *sinkQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *sinkQueue) drain() {
	defer close(q.done)
	for {
		q.mu.Lock()
		items, closed := q.items, q.closed
		q.items, q.pending = nil, 0
		q.mu.Unlock()

		q.write(items)
		if closed {
			q.mu.Lock()
			rest := q.items
			q.items = nil
			q.mu.Unlock()
			q.write(rest)
			return
		}
		if len(items) == 0 {
			<-q.wake
		}
	}
}

// write hands items to the writer, batching runs of consecutive snapshots
// when the writer supports it.
func (q *sinkQueue) write(items []sinkItem) {
	var batch []telemetry.TickSnapshot
	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		var err error
		if bw, ok := q.w.(batchWriter); ok {
			err = bw.WriteSnapshots(batch)
		} else {
			for _, s := range batch {
				if err = q.w.WriteSnapshot(s); err != nil {
					break
				}
			}
		}
		if err != nil {
			q.log.Warn("snapshot write failed", "simulation_id", batch[0].SimulationID,
				"tick", batch[0].Tick, "rows", len(batch), "err", err)
		}
		batch = nil
	}
	for _, it := range items {
		switch {
		case it.snap != nil:
			batch = append(batch, *it.snap)
		case it.rec != nil:
			flushBatch()
			if err := q.w.(RunWriter).WriteRun(*it.rec); err != nil {
				q.log.Warn("run write failed", "simulation_id", it.rec.ID(), "err", err)
			}
		case it.flush != nil:
			flushBatch()
			close(it.flush)
		}
	}
	flushBatch()
}
