// Package stream fans simulation events out to live subscribers.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"slicesim/internal/telemetry"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Event types.
const (
	EventMetricsUpdate = "metrics_update"
	EventStatus        = "status"
)

// Event is one message delivered to subscribers of a run.
type Event struct {
	Type         string                  `json:"type"`
	SimulationID string                  `json:"simulation_id"`
	Status       telemetry.Status        `json:"status,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Snapshot     *telemetry.TickSnapshot `json:"snapshot,omitempty"`
	Totals       *telemetry.Totals       `json:"totals,omitempty"`
}

// MetricsEvent wraps a committed snapshot and the totals after it.
func MetricsEvent(s telemetry.TickSnapshot, t telemetry.Totals) Event {
	return Event{Type: EventMetricsUpdate, SimulationID: s.SimulationID, Snapshot: &s, Totals: &t}
}

// StatusEvent reports a status transition.
func StatusEvent(id string, st telemetry.Status, errMsg string) Event {
	return Event{Type: EventStatus, SimulationID: id, Status: st, Error: errMsg}
}

// Subscription is a live feed of one run's events. C is closed when the run
// reaches a terminal state, the subscription is cancelled or the broker closes.
type Subscription struct {
	ID    string
	RunID string
	C     <-chan Event

	ch      chan Event
	dropped atomic.Int64
	closed  bool
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Broker keeps subscribers per run. Publish never blocks: a subscriber whose
// queue is full loses the event and its drop counter is incremented. Terminal
// status events are the exception: the oldest queued event is discarded to
// make room. No state is kept for a run once its last subscriber is gone.
type Broker struct {
	mu      sync.Mutex
	buffer  int
	subs    map[string]map[string]*Subscription
	dropped atomic.Int64
	onDrop  func(runID string)
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithDropHook registers fn to be called whenever an event is dropped.
func WithDropHook(fn func(runID string)) Option {
	return func(b *Broker) { b.onDrop = fn }
}

// NewBroker returns an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		buffer: DefaultBuffer,
		subs:   make(map[string]map[string]*Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscribe registers a subscriber for runID.
func (b *Broker) Subscribe(runID string) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{ID: uuid.NewString(), RunID: runID, C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[string]*Subscription)
	}
	b.subs[runID][s.ID] = s
	return s
}

// Ended returns a subscription for a run that already finished: it yields ev
// and is closed. The broker does not track it.
func (b *Broker) Ended(ev Event) *Subscription {
	ch := make(chan Event, 1)
	ch <- ev
	close(ch)
	return &Subscription{ID: uuid.NewString(), RunID: ev.SimulationID, C: ch, ch: ch, closed: true}
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (b *Broker) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set := b.subs[s.RunID]; set != nil {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(b.subs, s.RunID)
		}
	}
	b.closeLocked(s)
}

// Publish delivers ev to every subscriber of its run. A terminal status event
// closes all subscriptions of the run after delivery.
func (b *Broker) Publish(ev Event) {
	terminal := ev.Type == EventStatus && ev.Status.Terminal()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[ev.SimulationID] {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		b.drop(s)
		if !terminal {
			continue
		}
		// Only the broker sends, under mu, so one receive frees a slot.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- ev
	}
	if terminal {
		b.closeRunLocked(ev.SimulationID)
	}
}

func (b *Broker) drop(s *Subscription) {
	s.dropped.Add(1)
	b.dropped.Add(1)
	if b.onDrop != nil {
		b.onDrop(s.RunID)
	}
}

// Forget closes any remaining subscriptions of runID.
func (b *Broker) Forget(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeRunLocked(runID)
}

// Runs returns how many runs currently have subscribers.
func (b *Broker) Runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribers returns the live subscriber count of runID.
func (b *Broker) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Dropped returns the total number of dropped events.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subs {
		b.closeRunLocked(id)
	}
}

func (b *Broker) closeRunLocked(runID string) {
	for _, s := range b.subs[runID] {
		b.closeLocked(s)
	}
	delete(b.subs, runID)
}

func (b *Broker) closeLocked(s *Subscription) {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
