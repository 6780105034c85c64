package sim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicesim/internal/history"
	"slicesim/internal/logging"
	"slicesim/internal/slice"
	"slicesim/internal/stream"
	"slicesim/internal/telemetry"
)

func TestMain(m *testing.M) {
	slog.SetDefault(logging.Discard())
	os.Exit(m.Run())
}

// manualTicker delivers a tick each time the test sends on ch.
type manualTicker struct{ ch chan time.Time }

func (m manualTicker) C() <-chan time.Time { return m.ch }
func (m manualTicker) Stop()               {}

type harness struct {
	orch   *Orchestrator
	store  history.Store
	writer *MockWriter
	ticks  chan time.Time
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{store: history.NewMemoryStore(), writer: &MockWriter{}, ticks: make(chan time.Time)}
	o := Options{
		Store:     h.store,
		Writer:    h.writer,
		Limits:    telemetry.Limits{MaxTrafficVolume: 1_000_000, MaxDuration: 3600},
		NewTicker: func(time.Duration) Ticker { return manualTicker{ch: h.ticks} },
		Logger:    logging.Discard(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	orch, err := New(o)
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return h
}

// step drives one tick and waits for it to be committed.
func (h *harness) step(t *testing.T, id string) {
	t.Helper()
	before, err := h.orch.Get(context.Background(), id)
	require.NoError(t, err)
	h.ticks <- time.Now()
	require.Eventually(t, func() bool {
		v, err := h.orch.Get(context.Background(), id)
		return err == nil && (v.Ticks > before.Ticks || v.Status.Terminal())
	}, 2*time.Second, time.Millisecond)
}

func waitDone(t *testing.T, h *harness, id string) RunView {
	t.Helper()
	h.orch.mu.RLock()
	r := h.orch.runs[id]
	h.orch.mu.RUnlock()
	require.NotNil(t, r)
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("run %s did not finish", id)
	}
	v, err := h.orch.Get(context.Background(), id)
	require.NoError(t, err)
	return v
}

func cfg(volume, duration int64, p telemetry.Pattern) telemetry.SimulationConfig {
	return telemetry.SimulationConfig{TrafficVolume: volume, Duration: duration, Pattern: p, Interval: 1, Seed: 42}
}

func TestConstantRunCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(1000, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	id := v.ID()
	assert.Regexp(t, `^sim_[0-9a-f]{12}$`, id)
	assert.Equal(t, telemetry.StatusCreated, v.Status)
	assert.Equal(t, 10, v.TotalTicks)

	sub, err := h.orch.Subscribe(ctx, id)
	require.NoError(t, err)

	_, err = h.orch.Start(ctx, id)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		h.step(t, id)
	}
	final := waitDone(t, h, id)

	assert.Equal(t, telemetry.StatusCompleted, final.Status)
	assert.Equal(t, int64(1000), final.TrafficGenerated)
	assert.Equal(t, final.TrafficGenerated, final.PacketsProcessed+final.PacketsDropped)
	assert.Equal(t, 10, final.Ticks)
	require.NotNil(t, final.StartTime)
	require.NotNil(t, final.EndTime)

	snaps, err := h.orch.Snapshots(ctx, id, history.Page{})
	require.NoError(t, err)
	require.Len(t, snaps, 10)
	for i, s := range snaps {
		assert.Equal(t, i, s.Tick)
		assert.Equal(t, int64(100), s.TickTraffic)
		assert.Equal(t, s.TickTraffic, s.TickProcessed+s.TickDropped)
		var alloc int64
		for _, m := range s.SliceMetrics {
			alloc += m.Allocated
			assert.Equal(t, m.Allocated, m.Processed+m.Dropped)
		}
		assert.Equal(t, s.TickTraffic, alloc)
	}

	var events []stream.Event
	for ev := range sub.C {
		events = append(events, ev)
	}
	require.Len(t, events, 12)
	assert.Equal(t, telemetry.StatusRunning, events[0].Status)
	for i := 1; i <= 10; i++ {
		require.Equal(t, stream.EventMetricsUpdate, events[i].Type)
		assert.Equal(t, i-1, events[i].Snapshot.Tick)
	}
	assert.Equal(t, int64(1000), events[10].Totals.TrafficGenerated)
	assert.Equal(t, telemetry.StatusCompleted, events[11].Status)

	require.NoError(t, h.orch.Flush(ctx))
	assert.Len(t, h.writer.Snapshots, 10)
	require.NotEmpty(t, h.writer.Runs)
	assert.Equal(t, telemetry.StatusCompleted, h.writer.Runs[len(h.writer.Runs)-1].Status)

	stored, err := h.store.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusCompleted, stored.Status)
	assert.Equal(t, final.Totals, stored.Totals)
}

func TestStopMidRunPublishesNothingAfter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(500, 50, telemetry.PatternBurst))
	require.NoError(t, err)
	id := v.ID()
	sub, err := h.orch.Subscribe(ctx, id)
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, id)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		h.step(t, id)
	}

	stopped, err := h.orch.Stop(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusStopped, stopped.Status)
	assert.Equal(t, 5, stopped.Ticks)

	// A tick delivered after Stop is never consumed.
	select {
	case h.ticks <- time.Now():
		t.Fatal("tick loop still running after stop")
	case <-time.After(50 * time.Millisecond):
	}

	var metrics int
	var last stream.Event
	for ev := range sub.C {
		if ev.Type == stream.EventMetricsUpdate {
			metrics++
		}
		last = ev
	}
	assert.Equal(t, 5, metrics)
	assert.Equal(t, telemetry.StatusStopped, last.Status)

	snaps, err := h.orch.Snapshots(ctx, id, history.Page{})
	require.NoError(t, err)
	assert.Len(t, snaps, 5)
	assert.Equal(t, stopped.TrafficGenerated, stopped.PacketsProcessed+stopped.PacketsDropped)
}

func TestStopIsNotRepeatable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	id := v.ID()

	_, err = h.orch.Stop(ctx, id)
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, telemetry.StatusCreated, serr.Status)

	_, err = h.orch.Start(ctx, id)
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.orch.Stop(ctx, id)
	require.NoError(t, err)
	_, err = h.orch.Stop(ctx, id)
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, telemetry.StatusStopped, serr.Status)

	// Only one terminal record was written.
	require.NoError(t, h.orch.Flush(ctx))
	var terminal int
	for _, r := range h.writer.Runs {
		if r.Status.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestDeleteUnknownLeavesStoreUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)

	before, total, err := h.store.ListRuns(ctx, history.Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	err = h.orch.Delete(ctx, "sim_doesnotexist")
	assert.ErrorIs(t, err, ErrNotFound)

	after, total, err := h.store.ListRuns(ctx, history.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, before, after)
	assert.Equal(t, v.ID(), after[0].ID())
}

func TestDeleteStopsActiveRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	id := v.ID()
	_, err = h.orch.Start(ctx, id)
	require.NoError(t, err)
	h.step(t, id)

	require.NoError(t, h.orch.Delete(ctx, id))
	_, err = h.orch.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.orch.Snapshots(ctx, id, history.Page{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.orch.Subscribe(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NewTicker = NewTimeTicker })
	ctx := context.Background()
	a, err := h.orch.Create(ctx, telemetry.SimulationConfig{TrafficVolume: 1000, Duration: 1, Interval: 0.05, Pattern: telemetry.PatternConstant, Seed: 1})
	require.NoError(t, err)
	b, err := h.orch.Create(ctx, telemetry.SimulationConfig{TrafficVolume: 777, Duration: 1, Interval: 0.05, Pattern: telemetry.PatternWave, Seed: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{a.ID(), b.ID()} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Start(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	va := waitDone(t, h, a.ID())
	vb := waitDone(t, h, b.ID())

	assert.Equal(t, int64(1000), va.TrafficGenerated)
	assert.Equal(t, int64(777), vb.TrafficGenerated)
	for _, v := range []RunView{va, vb} {
		assert.Equal(t, telemetry.StatusCompleted, v.Status)
		assert.Equal(t, 20, v.Ticks)
		snaps, err := h.orch.Snapshots(ctx, v.ID(), history.Page{})
		require.NoError(t, err)
		require.Len(t, snaps, 20)
		var sum int64
		for i, s := range snaps {
			assert.Equal(t, v.ID(), s.SimulationID)
			assert.Equal(t, i, s.Tick)
			sum += s.TickTraffic
		}
		assert.Equal(t, v.TrafficGenerated, sum)
	}
}

// slowWriter blocks every snapshot write until release is closed.
type slowWriter struct {
	MockWriter
	release chan struct{}
}

func (w *slowWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	<-w.release
	return w.MockWriter.WriteSnapshot(s)
}

func TestSlowWriterDoesNotDelayStop(t *testing.T) {
	sw := &slowWriter{release: make(chan struct{})}
	h := newHarness(t, func(o *Options) { o.Writer = sw })
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, v.ID())
	require.NoError(t, err)
	h.step(t, v.ID())
	h.step(t, v.ID())

	began := time.Now()
	stopped, err := h.orch.Stop(ctx, v.ID())
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 500*time.Millisecond)
	assert.Equal(t, 2, stopped.Ticks)

	close(sw.release)
	require.NoError(t, h.orch.Flush(ctx))
	require.Len(t, sw.Snapshots, 2)
	assert.Equal(t, 0, sw.Snapshots[0].Tick)
	assert.Equal(t, 1, sw.Snapshots[1].Tick)
	require.NotEmpty(t, sw.Runs)
	assert.Equal(t, telemetry.StatusStopped, sw.Runs[len(sw.Runs)-1].Status)
}

func TestSinkQueueDropsWhenFull(t *testing.T) {
	sw := &slowWriter{release: make(chan struct{})}
	q := newSinkQueue(sw, 2, logging.Discard())
	for i := 0; i < 6; i++ {
		q.snapshot(telemetry.TickSnapshot{SimulationID: "sim_a", Tick: i})
	}
	q.run(telemetry.RunRecord{Config: telemetry.SimulationConfig{ID: "sim_a"}, Status: telemetry.StatusCompleted})
	assert.Positive(t, q.Dropped())

	close(sw.release)
	require.NoError(t, q.close(context.Background()))
	assert.Equal(t, int64(6), int64(len(sw.Snapshots))+q.Dropped())
	for i := 1; i < len(sw.Snapshots); i++ {
		assert.Less(t, sw.Snapshots[i-1].Tick, sw.Snapshots[i].Tick)
	}
	require.Len(t, sw.Runs, 1)
}

func TestSeededRunsAreReproducible(t *testing.T) {
	run := func() []telemetry.TickSnapshot {
		h := newHarness(t)
		ctx := context.Background()
		v, err := h.orch.Create(ctx, cfg(3000, 3, telemetry.PatternLinearIncrease))
		require.NoError(t, err)
		_, err = h.orch.Start(ctx, v.ID())
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			h.step(t, v.ID())
		}
		waitDone(t, h, v.ID())
		snaps, err := h.orch.Snapshots(ctx, v.ID(), history.Page{})
		require.NoError(t, err)
		return snaps
	}
	a, b := run(), run()
	require.Len(t, a, 3)
	for i := range a {
		assert.Equal(t, a[i].SliceMetrics, b[i].SliceMetrics)
	}
}

func TestOptionsSeedAndDefaultInterval(t *testing.T) {
	draw := func() telemetry.SimulationConfig {
		h := newHarness(t, func(o *Options) {
			o.Seed = 7
			o.DefaultInterval = 0.5
		})
		v, err := h.orch.Create(context.Background(), telemetry.SimulationConfig{TrafficVolume: 100, Duration: 2})
		require.NoError(t, err)
		return v.Config
	}
	a, b := draw(), draw()
	assert.NotZero(t, a.Seed)
	assert.Equal(t, a.Seed, b.Seed)
	assert.Equal(t, 0.5, a.Interval)
	assert.Equal(t, telemetry.PatternConstant, a.Pattern)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Create(ctx, telemetry.SimulationConfig{TrafficVolume: -1, Duration: 10})
	var verr *telemetry.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "traffic_volume", verr.Field)

	_, err = h.orch.Create(ctx, telemetry.SimulationConfig{TrafficVolume: 10, Duration: 10, Pattern: "zigzag"})
	require.ErrorAs(t, err, &verr)

	v, err := h.orch.Create(ctx, telemetry.SimulationConfig{TrafficVolume: 10, Duration: 10})
	require.NoError(t, err)
	assert.Equal(t, telemetry.PatternConstant, v.Config.Pattern)
	assert.Equal(t, 1.0, v.Config.Interval)
	assert.NotZero(t, v.Config.Seed)

	total, _, err := h.store.ListRuns(ctx, history.Filter{})
	require.NoError(t, err)
	assert.Len(t, total, 1)
}

type failingStore struct {
	history.Store
	failAt int
	n      int
}

func (f *failingStore) CommitTick(ctx context.Context, rec telemetry.RunRecord, s telemetry.TickSnapshot) error {
	f.n++
	if f.n > f.failAt {
		return errors.New("disk full")
	}
	return f.Store.CommitTick(ctx, rec, s)
}

func TestStoreFailureFailsRun(t *testing.T) {
	fs := &failingStore{Store: history.NewMemoryStore(), failAt: 2}
	h := newHarness(t, func(o *Options) { o.Store = fs })
	h.store = fs
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	sub, err := h.orch.Subscribe(ctx, v.ID())
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, v.ID())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		h.step(t, v.ID())
	}
	final := waitDone(t, h, v.ID())
	assert.Equal(t, telemetry.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "disk full")
	assert.Equal(t, 2, final.Ticks)
	assert.Equal(t, final.TrafficGenerated, final.PacketsProcessed+final.PacketsDropped)

	// The persisted log and counters describe the same ticks.
	snaps, err := h.store.Snapshots(ctx, v.ID(), history.Page{})
	require.NoError(t, err)
	assert.Len(t, snaps, final.Ticks)
	stored, err := h.store.GetRun(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, final.Ticks, stored.Ticks)
	var generated int64
	for _, s := range snaps {
		generated += s.TickTraffic
	}
	assert.Equal(t, stored.TrafficGenerated, generated)

	var last stream.Event
	for ev := range sub.C {
		last = ev
	}
	assert.Equal(t, telemetry.StatusFailed, last.Status)
	assert.Contains(t, last.Error, "disk full")
}

type panickyModel struct{ name string }

func (p panickyModel) Name() string { return p.name }
func (p panickyModel) Process(*rand.Rand, int64) telemetry.SliceMetrics {
	panic("slice crashed")
}

func TestSlicePanicFailsRun(t *testing.T) {
	router, err := slice.NewRouter(slice.DefaultRatios(),
		slice.NewEMBB(slice.DefaultEMBBParams()),
		panickyModel{name: telemetry.SliceURLLC},
		slice.NewMMTC(slice.DefaultMMTCParams()))
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Router = router })
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, v.ID())
	require.NoError(t, err)
	h.step(t, v.ID())
	final := waitDone(t, h, v.ID())
	assert.Equal(t, telemetry.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "slice urllc failed")
	assert.Zero(t, final.Ticks)

	_, err = h.orch.Stop(ctx, v.ID())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubscribeToFinishedRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 1, telemetry.PatternConstant))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, v.ID())
	require.NoError(t, err)
	h.step(t, v.ID())
	waitDone(t, h, v.ID())

	sub, err := h.orch.Subscribe(ctx, v.ID())
	require.NoError(t, err)
	ev, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, telemetry.StatusCompleted, ev.Status)
	_, ok = <-sub.C
	assert.False(t, ok)
	assert.Zero(t, h.orch.broker.Runs())
}

func TestRestoredRunsFromStore(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	fresh := cfg(100, 2, telemetry.PatternConstant)
	fresh.ID = "sim_fresh"
	require.NoError(t, store.CreateRun(ctx, telemetry.RunRecord{Config: fresh, Status: telemetry.StatusCreated, CreatedAt: now}))
	stale := cfg(100, 2, telemetry.PatternConstant)
	stale.ID = "sim_stale"
	require.NoError(t, store.CreateRun(ctx, telemetry.RunRecord{Config: stale, Status: telemetry.StatusRunning, CreatedAt: now, StartTime: &now}))

	h := newHarness(t, func(o *Options) { o.Store = store })
	h.store = store

	v, err := h.orch.Get(ctx, "sim_stale")
	require.NoError(t, err)
	assert.Equal(t, 2, v.TotalTicks)

	_, err = h.orch.Stop(ctx, "sim_stale")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	rec, err := store.GetRun(ctx, "sim_stale")
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusFailed, rec.Status)

	created, _, err := store.ListRuns(ctx, history.Filter{Status: telemetry.StatusCreated})
	require.NoError(t, err)
	require.Len(t, created, 1)
	_, err = h.orch.Start(ctx, created[0].ID())
	require.NoError(t, err)
	h.step(t, created[0].ID())
	h.step(t, created[0].ID())
	final := waitDone(t, h, created[0].ID())
	assert.Equal(t, telemetry.StatusCompleted, final.Status)
}

func TestSliceSeriesAndHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(1000, 2, telemetry.PatternConstant))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, v.ID())
	require.NoError(t, err)

	report := h.orch.Health(ctx)
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, 1, report.ActiveRuns)
	assert.Len(t, report.Slices, 3)

	h.step(t, v.ID())
	h.step(t, v.ID())
	waitDone(t, h, v.ID())

	series, err := h.orch.SliceSeries(ctx, v.ID(), telemetry.SliceURLLC)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, int64(150), series[0].Metrics.Allocated)
	assert.Greater(t, series[0].Metrics.ReliabilityIndex, 0.0)

	_, err = h.orch.SliceSeries(ctx, v.ID(), "lte")
	assert.ErrorIs(t, err, slice.ErrUnknownSlice)

	sh, err := h.orch.SliceHealth(telemetry.SliceMMTC)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sh.TicksProcessed)
}

func TestShutdownStopsRunsAndRejectsNewWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, v.ID())
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(sctx))

	got, err := h.orch.Get(ctx, v.ID())
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusStopped, got.Status)

	_, err = h.orch.Create(ctx, cfg(100, 10, telemetry.PatternConstant))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestDroppedPackets(t *testing.T) {
	assert.Equal(t, int64(0), droppedPackets(0, 50))
	assert.Equal(t, int64(5), droppedPackets(10, 50))
	assert.Equal(t, int64(10), droppedPackets(10, 150))
	assert.Equal(t, int64(0), droppedPackets(10, -3))
	assert.Equal(t, int64(1), droppedPackets(200, 0.3))
}
