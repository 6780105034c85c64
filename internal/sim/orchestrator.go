// Orchestrator owning simulation runs and their lifecycle
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"slicesim/internal/history"
	"slicesim/internal/logging"
	"slicesim/internal/slice"
	"slicesim/internal/stream"
	"slicesim/internal/telemetry"
	"slicesim/internal/traffic"
)

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// Recorder receives orchestrator measurements.
type Recorder interface {
	RunCreated()
	RunTransition(from, to telemetry.Status)
	TickCommitted(snap telemetry.TickSnapshot, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RunCreated()                                       {}
func (nopRecorder) RunTransition(telemetry.Status, telemetry.Status)  {}
func (nopRecorder) TickCommitted(telemetry.TickSnapshot, time.Duration) {}

// Options wire the orchestrator's collaborators. Zero values get defaults.
type Options struct {
	Router   *slice.Router
	Store    history.Store
	Broker   *stream.Broker
	Writer   SnapshotWriter
	Recorder Recorder
	Limits   telemetry.Limits
	// DefaultInterval replaces an omitted tick interval, in seconds.
	DefaultInterval float64
	// Seed, when non-zero, makes the seeds drawn for runs without one
	// reproducible.
	Seed int64
	// SinkBuffer bounds the snapshots waiting for Writer; 0 means
	// DefaultSinkBuffer.
	SinkBuffer int
	NewTicker  func(time.Duration) Ticker
	Now             func() time.Time
	Logger          *slog.Logger
}

// Orchestrator creates, runs, stops and deletes simulations.
type Orchestrator struct {
	router    *slice.Router
	store     history.Store
	broker    *stream.Broker
	sinks     *sinkQueue
	rec       Recorder
	limits    telemetry.Limits
	interval  float64
	newTicker func(time.Duration) Ticker
	now       func() time.Time
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	runs     map[string]*Run
	closing  bool
	seedMu   sync.Mutex
	seedRand *rand.Rand
}

// New builds an Orchestrator from o.
func New(o Options) (*Orchestrator, error) {
	if o.Router == nil {
		r, err := slice.NewRouter(slice.DefaultRatios())
		if err != nil {
			return nil, err
		}
		o.Router = r
	}
	if o.Store == nil {
		o.Store = history.NewMemoryStore()
	}
	if o.Broker == nil {
		o.Broker = stream.NewBroker()
	}
	if o.Writer == nil {
		o.Writer = NopWriter{}
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTimeTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), o.Logger))
	return &Orchestrator{
		router:    o.Router,
		store:     o.Store,
		broker:    o.Broker,
		sinks:     newSinkQueue(o.Writer, o.SinkBuffer, o.Logger),
		rec:       o.Recorder,
		limits:    o.Limits,
		interval:  o.DefaultInterval,
		newTicker: o.NewTicker,
		now:       func() time.Time { return o.Now().UTC() },
		log:       o.Logger,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[string]*Run),
		seedRand:  rand.New(rand.NewSource(seed)),
	}, nil
}

func newSimulationID() string {
	return "sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (o *Orchestrator) nextSeed() int64 {
	o.seedMu.Lock()
	defer o.seedMu.Unlock()
	return o.seedRand.Int63()
}

// Create validates cfg and registers a new run in status created. A zero
// seed is replaced by a random one, recorded on the run for replay.
func (o *Orchestrator) Create(ctx context.Context, cfg telemetry.SimulationConfig) (RunView, error) {
	if cfg.Interval == 0 && o.interval > 0 {
		cfg.Interval = o.interval
	}
	cfg.Normalize()
	if err := cfg.Validate(o.limits); err != nil {
		return RunView{}, err
	}
	if cfg.ID == "" {
		cfg.ID = newSimulationID()
	}
	if cfg.Seed == 0 {
		cfg.Seed = o.nextSeed()
	}
	rec := telemetry.RunRecord{Config: cfg, Status: telemetry.StatusCreated, CreatedAt: o.now()}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return RunView{}, ErrShuttingDown
	}
	if _, ok := o.runs[cfg.ID]; ok {
		return RunView{}, &telemetry.ValidationError{Field: "simulation_id", Reason: "already exists"}
	}
	if err := o.store.CreateRun(ctx, rec); err != nil {
		return RunView{}, fmt.Errorf("persist simulation %s: %w", cfg.ID, err)
	}
	r := newRun(rec)
	o.runs[cfg.ID] = r
	o.rec.RunCreated()
	o.writeRun(rec)
	logging.FromContext(ctx).Info("simulation created",
		"simulation_id", cfg.ID, "traffic_volume", cfg.TrafficVolume,
		"duration", cfg.Duration, "pattern", cfg.Pattern, "interval", cfg.Interval, "seed", cfg.Seed)
	return r.View(), nil
}

// lookup returns the live run for id. Runs only known to the store are
// rehydrated so that created runs survive a restart.
func (o *Orchestrator) lookup(ctx context.Context, id string) (*Run, error) {
	o.mu.RLock()
	r, ok := o.runs[id]
	o.mu.RUnlock()
	if ok {
		return r, nil
	}
	rec, err := o.store.GetRun(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runs[id]; ok {
		return r, nil
	}
	if rec.Status == telemetry.StatusRunning {
		// No loop owns it any more; the process that ran it is gone.
		now := o.now()
		rec.Status = telemetry.StatusFailed
		rec.Error = "interrupted by restart"
		rec.EndTime = &now
		if err := o.store.UpdateRun(ctx, rec); err != nil {
			return nil, fmt.Errorf("mark %s interrupted: %w", id, err)
		}
	}
	r = newRun(rec)
	if rec.Status.Terminal() {
		close(r.done)
	}
	o.runs[id] = r
	return r, nil
}

// Start moves a created run to running and launches its tick loop.
func (o *Orchestrator) Start(ctx context.Context, id string) (RunView, error) {
	r, err := o.lookup(ctx, id)
	if err != nil {
		return RunView{}, err
	}
	o.mu.RLock()
	closing := o.closing
	o.mu.RUnlock()
	if closing {
		return RunView{}, ErrShuttingDown
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.view.Load()
	if cur.Status != telemetry.StatusCreated {
		return RunView{}, &StateError{ID: id, Op: "start", Status: cur.Status}
	}
	view := r.transitionLocked(telemetry.StatusRunning, o.now(), "")
	if err := o.store.UpdateRun(ctx, view.RunRecord); err != nil {
		r.view.Store(cur)
		return RunView{}, fmt.Errorf("persist start of %s: %w", id, err)
	}
	runCtx, cancel := context.WithCancel(o.ctx)
	r.cancel = cancel
	o.rec.RunTransition(telemetry.StatusCreated, telemetry.StatusRunning)
	o.broker.Publish(stream.StatusEvent(id, telemetry.StatusRunning, ""))
	o.writeRun(view.RunRecord)

	o.wg.Add(1)
	go o.loop(runCtx, r)
	logging.FromContext(ctx).Info("simulation started", "simulation_id", id, "ticks", view.TotalTicks)
	return view, nil
}

// Stop halts a running simulation. When Stop returns no further snapshot of
// the run will be committed or published.
func (o *Orchestrator) Stop(ctx context.Context, id string) (RunView, error) {
	r, err := o.lookup(ctx, id)
	if err != nil {
		return RunView{}, err
	}
	view, err := o.finalize(ctx, r, telemetry.StatusStopped, "")
	if err != nil {
		return RunView{}, err
	}
	select {
	case <-r.done:
	case <-ctx.Done():
	}
	return view, nil
}

// Wait blocks until the run reaches a terminal status or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id string) (RunView, error) {
	r, err := o.lookup(ctx, id)
	if err != nil {
		return RunView{}, err
	}
	select {
	case <-r.done:
		return r.View(), nil
	case <-ctx.Done():
		return r.View(), ctx.Err()
	}
}

// finalize moves a running run into a terminal status exactly once.
func (o *Orchestrator) finalize(ctx context.Context, r *Run, st telemetry.Status, errMsg string) (RunView, error) {
	r.mu.Lock()
	cur := r.view.Load()
	if cur.Status != telemetry.StatusRunning {
		r.mu.Unlock()
		op := "stop"
		if st != telemetry.StatusStopped {
			op = "finish"
		}
		return RunView{}, &StateError{ID: r.cfg.ID, Op: op, Status: cur.Status}
	}
	view := r.transitionLocked(st, o.now(), errMsg)
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), view.RunRecord); err != nil {
		logging.FromContext(ctx).Error("persist terminal status failed", "simulation_id", r.cfg.ID, "status", st, "err", err)
	}
	o.rec.RunTransition(telemetry.StatusRunning, st)
	o.broker.Publish(stream.StatusEvent(r.cfg.ID, st, errMsg))
	o.writeRun(view.RunRecord)
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	log := logging.FromContext(ctx).With("simulation_id", r.cfg.ID, "status", st, "ticks", view.Ticks,
		"traffic", view.TrafficGenerated, "processed", view.PacketsProcessed, "dropped", view.PacketsDropped)
	if errMsg != "" {
		log.Error("simulation failed", "err", errMsg)
	} else {
		log.Info("simulation finished")
	}
	return view, nil
}

// Get returns the current view of a run.
func (o *Orchestrator) Get(ctx context.Context, id string) (RunView, error) {
	o.mu.RLock()
	r, ok := o.runs[id]
	o.mu.RUnlock()
	if ok {
		return r.View(), nil
	}
	rec, err := o.store.GetRun(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return RunView{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return RunView{}, err
	}
	return RunView{RunRecord: rec, TotalTicks: traffic.Ticks(rec.Config)}, nil
}

// List returns persisted runs, newest first, and the unpaged total.
func (o *Orchestrator) List(ctx context.Context, f history.Filter) ([]telemetry.RunRecord, int, error) {
	return o.store.ListRuns(ctx, f)
}

// Snapshots returns the committed snapshot log of a run in tick order.
func (o *Orchestrator) Snapshots(ctx context.Context, id string, p history.Page) ([]telemetry.TickSnapshot, error) {
	snaps, err := o.store.Snapshots(ctx, id, p)
	if errors.Is(err, history.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snaps, err
}

// SlicePoint is one tick of a single slice's metric series.
type SlicePoint struct {
	Tick      int                    `json:"tick"`
	Timestamp time.Time              `json:"timestamp"`
	Metrics   telemetry.SliceMetrics `json:"metrics"`
}

// SliceSeries extracts one slice's metrics from a run's snapshot log.
func (o *Orchestrator) SliceSeries(ctx context.Context, id, sliceName string) ([]SlicePoint, error) {
	if _, err := o.router.Unit(sliceName); err != nil {
		return nil, err
	}
	snaps, err := o.Snapshots(ctx, id, history.Page{})
	if err != nil {
		return nil, err
	}
	out := make([]SlicePoint, 0, len(snaps))
	for _, s := range snaps {
		if m, ok := s.SliceMetrics[sliceName]; ok {
			out = append(out, SlicePoint{Tick: s.Tick, Timestamp: s.Timestamp, Metrics: m})
		}
	}
	return out, nil
}

// Delete removes a run and its history, stopping it first if it is running.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	r, err := o.lookup(ctx, id)
	if err != nil {
		return err
	}
	if _, err := o.Stop(ctx, id); err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()
	o.broker.Forget(id)
	if err := o.store.DeleteRun(ctx, id); err != nil && !errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("delete simulation %s: %w", id, err)
	}
	logging.FromContext(ctx).Info("simulation deleted", "simulation_id", id, "status", r.View().Status)
	return nil
}

// Subscribe opens a live event feed for a run. Feeds of finished runs yield
// the terminal status event and close.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (*stream.Subscription, error) {
	r, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view.Load()
	if v.Status.Terminal() {
		return o.broker.Ended(stream.StatusEvent(id, v.Status, v.Error)), nil
	}
	return o.broker.Subscribe(id), nil
}

// Unsubscribe ends a feed opened with Subscribe.
func (o *Orchestrator) Unsubscribe(s *stream.Subscription) { o.broker.Unsubscribe(s) }

// HealthReport summarises orchestrator liveness.
type HealthReport struct {
	Status     string         `json:"status"`
	ActiveRuns int            `json:"active_simulations"`
	TotalRuns  int            `json:"loaded_simulations"`
	Store      string         `json:"history_store"`
	Slices     []slice.Health `json:"slices"`
	Dropped    int64          `json:"stream_dropped"`
	SinkDrops  int64          `json:"sink_dropped"`
	Time       time.Time      `json:"timestamp"`
}

// Health reports run counts, store reachability and slice liveness.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	h := HealthReport{Status: "healthy", Store: "ok", Slices: o.router.Health(), Dropped: o.broker.Dropped(), SinkDrops: o.sinks.Dropped(), Time: o.now()}
	o.mu.RLock()
	h.TotalRuns = len(o.runs)
	for _, r := range o.runs {
		if r.View().Status == telemetry.StatusRunning {
			h.ActiveRuns++
		}
	}
	o.mu.RUnlock()
	if err := o.store.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Store = err.Error()
	}
	for _, s := range h.Slices {
		if s.Status != "healthy" {
			h.Status = "degraded"
		}
	}
	return h
}

// SliceHealth checks a single slice unit.
func (o *Orchestrator) SliceHealth(name string) (slice.Health, error) {
	u, err := o.router.Unit(name)
	if err != nil {
		return slice.Health{}, err
	}
	return u.Health(), nil
}

// Shutdown stops every running simulation and waits for the tick loops to
// exit or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	runs := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		if _, err := o.finalize(ctx, r, telemetry.StatusStopped, ""); err != nil && !errors.Is(err, ErrInvalidTransition) {
			o.log.Error("stop on shutdown failed", "simulation_id", r.cfg.ID, "err", err)
		}
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	o.broker.Close()
	return o.sinks.close(ctx)
}

// Flush waits until every snapshot and run record committed so far has been
// handed to the writer.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.sinks.flush(ctx)
}

// writeRun queues rec for the writer; it never blocks on sink I/O.
func (o *Orchestrator) writeRun(rec telemetry.RunRecord) {
	o.sinks.run(rec)
}
