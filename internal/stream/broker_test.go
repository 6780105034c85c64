package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicesim/internal/telemetry"
)

func drain(c <-chan Event) []Event {
	var out []Event
	for ev := range c {
		out = append(out, ev)
	}
	return out
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe("sim_a")
	other := b.Subscribe("sim_b")

	for i := 0; i < 3; i++ {
		b.Publish(MetricsEvent(telemetry.TickSnapshot{SimulationID: "sim_a", Tick: i}, telemetry.Totals{}))
	}
	b.Publish(StatusEvent("sim_a", telemetry.StatusCompleted, ""))

	got := drain(s.C)
	require.Len(t, got, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, EventMetricsUpdate, got[i].Type)
		assert.Equal(t, i, got[i].Snapshot.Tick)
	}
	assert.Equal(t, EventStatus, got[3].Type)
	assert.Equal(t, telemetry.StatusCompleted, got[3].Status)

	assert.Equal(t, 1, b.Subscribers("sim_b"))
	assert.Len(t, other.C, 0)
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	var hooked int
	b := NewBroker(WithBuffer(2), WithDropHook(func(string) { hooked++ }))
	s := b.Subscribe("sim_a")
	for i := 0; i < 5; i++ {
		b.Publish(MetricsEvent(telemetry.TickSnapshot{SimulationID: "sim_a", Tick: i}, telemetry.Totals{}))
	}
	assert.Equal(t, int64(3), s.Dropped())
	assert.Equal(t, int64(3), b.Dropped())
	assert.Equal(t, 3, hooked)

	ev := <-s.C
	assert.Equal(t, 0, ev.Snapshot.Tick)
}

func TestEndedSubscription(t *testing.T) {
	b := NewBroker()
	s := b.Ended(StatusEvent("sim_a", telemetry.StatusStopped, ""))
	got := drain(s.C)
	require.Len(t, got, 1)
	assert.Equal(t, telemetry.StatusStopped, got[0].Status)
	assert.Zero(t, b.Subscribers("sim_a"))
	b.Unsubscribe(s)

	live := b.Subscribe("sim_a")
	assert.Equal(t, 1, b.Subscribers("sim_a"))
	b.Unsubscribe(live)
}

func TestTerminalEventSurvivesFullQueue(t *testing.T) {
	b := NewBroker(WithBuffer(2))
	s := b.Subscribe("sim_a")
	for i := 0; i < 4; i++ {
		b.Publish(MetricsEvent(telemetry.TickSnapshot{SimulationID: "sim_a", Tick: i}, telemetry.Totals{}))
	}
	b.Publish(StatusEvent("sim_a", telemetry.StatusFailed, "boom"))

	got := drain(s.C)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Snapshot.Tick)
	assert.Equal(t, EventStatus, got[1].Type)
	assert.Equal(t, telemetry.StatusFailed, got[1].Status)
	assert.Equal(t, int64(3), s.Dropped())
}

func TestFinishedRunsLeaveNoState(t *testing.T) {
	b := NewBroker()
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("sim_%d", i)
		s := b.Subscribe(id)
		b.Publish(StatusEvent(id, telemetry.StatusCompleted, ""))
		drain(s.C)
	}
	assert.Zero(t, b.Runs())
}

func TestNonTerminalStatusKeepsSubscription(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe("sim_a")
	b.Publish(StatusEvent("sim_a", telemetry.StatusRunning, ""))
	assert.Equal(t, 1, b.Subscribers("sim_a"))
	ev := <-s.C
	assert.Equal(t, telemetry.StatusRunning, ev.Status)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	s := b.Subscribe("sim_a")
	b.Unsubscribe(s)
	b.Unsubscribe(s)
	_, ok := <-s.C
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers("sim_a"))
	// Publishing to a run without subscribers is a no-op.
	b.Publish(MetricsEvent(telemetry.TickSnapshot{SimulationID: "sim_a"}, telemetry.Totals{}))
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("sim_a")
	c := b.Subscribe("sim_b")
	b.Close()
	_, ok := <-a.C
	assert.False(t, ok)
	_, ok = <-c.C
	assert.False(t, ok)
	b.Unsubscribe(a)
}
