// Package metrics exports simulator measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slicesim/internal/telemetry"
)

const namespace = "slicesim"

// Recorder implements the orchestrator's Recorder with Prometheus
// collectors registered on its own registry.
type Recorder struct {
	reg *prometheus.Registry

	runsCreated   prometheus.Counter
	transitions   *prometheus.CounterVec
	activeRuns    prometheus.Gauge
	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	packets       *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	qos           *prometheus.GaugeVec
	streamDropped prometheus.Counter
}

// New creates a Recorder. A nil registry gets a fresh one with the Go and
// process collectors attached.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	r := &Recorder{
		reg: reg,
		runsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_created_total",
			Help:      "Simulation runs created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_transitions_total",
			Help:      "Run status transitions.",
		}, []string{"from", "to"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently in status running.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticks committed across all runs.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time to process and commit one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets per slice by outcome.",
		}, []string{"slice", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slice_latency_ms",
			Help:      "Average per-tick slice latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 14),
		}, []string{"slice"}),
		qos: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slice_qos_compliance_percent",
			Help:      "QoS compliance of the latest tick per slice.",
		}, []string{"slice"}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_dropped_total",
			Help:      "Stream events dropped because a subscriber queue was full.",
		}),
	}
	reg.MustRegister(r.runsCreated, r.transitions, r.activeRuns, r.ticks, r.tickDuration,
		r.packets, r.latency, r.qos, r.streamDropped)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) RunCreated() { r.runsCreated.Inc() }

func (r *Recorder) RunTransition(from, to telemetry.Status) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
	if to == telemetry.StatusRunning {
		r.activeRuns.Inc()
	}
	if from == telemetry.StatusRunning && to.Terminal() {
		r.activeRuns.Dec()
	}
}

func (r *Recorder) TickCommitted(s telemetry.TickSnapshot, elapsed time.Duration) {
	r.ticks.Inc()
	r.tickDuration.Observe(elapsed.Seconds())
	for name, m := range s.SliceMetrics {
		r.packets.WithLabelValues(name, "processed").Add(float64(m.Processed))
		r.packets.WithLabelValues(name, "dropped").Add(float64(m.Dropped))
		if m.Allocated > 0 {
			r.latency.WithLabelValues(name).Observe(m.Latency.Avg)
			r.qos.WithLabelValues(name).Set(m.QoSComplianceRate)
		}
	}
}

// StreamDropped counts an event dropped for a slow subscriber of runID.
func (r *Recorder) StreamDropped(string) { r.streamDropped.Inc() }
