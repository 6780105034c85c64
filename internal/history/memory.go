package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"slicesim/internal/telemetry"
)

type memoryRun struct {
	rec       telemetry.RunRecord
	seq       int
	snapshots []telemetry.TickSnapshot
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  int
	runs map[string]*memoryRun
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*memoryRun)}
}

func (m *MemoryStore) CreateRun(_ context.Context, rec telemetry.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.ID()]; ok {
		return fmt.Errorf("simulation %s already exists", rec.ID())
	}
	m.seq++
	m.runs[rec.ID()] = &memoryRun{rec: rec, seq: m.seq}
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, rec telemetry.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[rec.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID())
	}
	r.rec = rec
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (telemetry.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return telemetry.RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.rec, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, f Filter) ([]telemetry.RunRecord, int, error) {
	f = f.normalized()
	m.mu.RLock()
	matched := make([]*memoryRun, 0, len(m.runs))
	for _, r := range m.runs {
		if f.Status == "" || r.rec.Status == f.Status {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})
	total := len(matched)
	if f.Offset >= total {
		return []telemetry.RunRecord{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	out := make([]telemetry.RunRecord, 0, end-f.Offset)
	for _, r := range matched[f.Offset:end] {
		out = append(out, r.rec)
	}
	return out, total, nil
}

func (m *MemoryStore) AppendSnapshot(_ context.Context, s telemetry.TickSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[s.SimulationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, s.SimulationID)
	}
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (m *MemoryStore) CommitTick(_ context.Context, rec telemetry.RunRecord, s telemetry.TickSnapshot) error {
	if rec.ID() != s.SimulationID {
		return fmt.Errorf("commit tick: run %s does not own snapshot of %s", rec.ID(), s.SimulationID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[rec.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID())
	}
	if n := len(r.snapshots); n > 0 && r.snapshots[n-1].Tick >= s.Tick {
		return fmt.Errorf("commit tick %s/%d: tick already recorded", s.SimulationID, s.Tick)
	}
	r.snapshots = append(r.snapshots, s)
	r.rec = rec
	return nil
}

func (m *MemoryStore) Snapshots(_ context.Context, id string, p Page) ([]telemetry.TickSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	start := min(max(p.Offset, 0), len(r.snapshots))
	end := len(r.snapshots)
	if p.Limit > 0 {
		end = min(start+p.Limit, end)
	}
	return append([]telemetry.TickSnapshot(nil), r.snapshots[start:end]...), nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.runs, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
