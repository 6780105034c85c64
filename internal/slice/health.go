package slice

import (
	"math/rand"
	"sync/atomic"
	"time"

	"slicesim/internal/telemetry"
)

// Health is the liveness report of one slice unit. It is independent of any
// simulation's state.
type Health struct {
	Slice            string     `json:"slice"`
	Status           string     `json:"status"`
	TicksProcessed   int64      `json:"ticks_processed"`
	PacketsProcessed int64      `json:"packets_processed"`
	Failures         int64      `json:"failures"`
	LastProcessed    *time.Time `json:"last_processed,omitempty"`
}

// Unit wraps a Model with usage counters for health reporting.
type Unit struct {
	model    Model
	ticks    atomic.Int64
	packets  atomic.Int64
	failures atomic.Int64
	last     atomic.Int64
}

// NewUnit wraps m.
func NewUnit(m Model) *Unit { return &Unit{model: m} }

// Name returns the slice name of the wrapped model.
func (u *Unit) Name() string { return u.model.Name() }

// Process runs the model and records the call.
func (u *Unit) Process(rng *rand.Rand, allocated int64) telemetry.SliceMetrics {
	panicked := true
	defer func() {
		if panicked {
			u.failures.Add(1)
		}
	}()
	m := u.model.Process(rng, allocated)
	panicked = false
	u.ticks.Add(1)
	u.packets.Add(allocated)
	u.last.Store(time.Now().UnixNano())
	return m
}

// Health runs the model on a tiny allocation on a private stream and
// reports the accumulated counters.
func (u *Unit) Health() (h Health) {
	h = Health{
		Slice:            u.Name(),
		Status:           "healthy",
		TicksProcessed:   u.ticks.Load(),
		PacketsProcessed: u.packets.Load(),
		Failures:         u.failures.Load(),
	}
	if ns := u.last.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		h.LastProcessed = &t
	}
	defer func() {
		if recover() != nil {
			h.Status = "unhealthy"
		}
	}()
	trial := u.model.Process(rand.New(rand.NewSource(1)), 1)
	if trial.Slice != u.Name() {
		h.Status = "unhealthy"
	}
	return h
}
