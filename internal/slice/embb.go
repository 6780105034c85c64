package slice

import (
	"math"
	"math/rand"

	"slicesim/internal/telemetry"
)

// EMBBParams tune the enhanced mobile broadband slice: high throughput,
// latency that degrades with load.
type EMBBParams struct {
	CapacityPerTick    int64   `yaml:"capacity_per_tick" json:"capacity_per_tick"`
	PeakThroughputMbps float64 `yaml:"peak_throughput_mbps" json:"peak_throughput_mbps"`
	LatencyMeanMs      float64 `yaml:"latency_mean_ms" json:"latency_mean_ms"`
	LatencyStdDevMs    float64 `yaml:"latency_stddev_ms" json:"latency_stddev_ms"`
	QueueDelayMs       float64 `yaml:"queue_delay_ms" json:"queue_delay_ms"`
	LatencyFloorMs     float64 `yaml:"latency_floor_ms" json:"latency_floor_ms"`
	LatencyCeilMs      float64 `yaml:"latency_ceil_ms" json:"latency_ceil_ms"`
	QoSThresholdMs     float64 `yaml:"qos_threshold_ms" json:"qos_threshold_ms"`
	BaseDropMinPct     float64 `yaml:"base_drop_min_pct" json:"base_drop_min_pct"`
	BaseDropMaxPct     float64 `yaml:"base_drop_max_pct" json:"base_drop_max_pct"`
}

// DefaultEMBBParams returns the built-in eMBB constants.
func DefaultEMBBParams() EMBBParams {
	return EMBBParams{
		CapacityPerTick:    600,
		PeakThroughputMbps: 1000,
		LatencyMeanMs:      35,
		LatencyStdDevMs:    10,
		QueueDelayMs:       40,
		LatencyFloorMs:     5,
		LatencyCeilMs:      240,
		QoSThresholdMs:     50,
		BaseDropMinPct:     0.01,
		BaseDropMaxPct:     0.3,
	}
}

// EMBB is the broadband slice model.
type EMBB struct{ p EMBBParams }

// NewEMBB returns an eMBB model using p.
func NewEMBB(p EMBBParams) *EMBB { return &EMBB{p: p} }

// Name implements Model.
func (*EMBB) Name() string { return telemetry.SliceEMBB }

// Process implements Model. Packets above the per-tick capacity overflow and
// count as drops on top of the load dependent base drop rate.
func (m *EMBB) Process(rng *rand.Rand, allocated int64) telemetry.SliceMetrics {
	out := telemetry.SliceMetrics{Slice: telemetry.SliceEMBB, Allocated: allocated}
	if allocated <= 0 {
		return out
	}
	util := 1.0
	if m.p.CapacityPerTick > 0 {
		util = math.Min(1, float64(allocated)/float64(m.p.CapacityPerTick))
	}

	n := sampleCount(allocated)
	var lat latencySummary
	compliant := 0
	for i := 0; i < n; i++ {
		l := m.p.LatencyMeanMs + rng.NormFloat64()*m.p.LatencyStdDevMs + m.p.QueueDelayMs*util
		l = clamp(l, m.p.LatencyFloorMs, m.p.LatencyCeilMs)
		lat.add(l)
		if l <= m.p.QoSThresholdMs {
			compliant++
		}
	}
	out.Latency = lat.stats()
	out.QoSComplianceRate = percent(compliant, n)
	out.ThroughputAvg = m.p.PeakThroughputMbps * util * uniform(rng, 0.9, 1)

	drop := uniform(rng, m.p.BaseDropMinPct, m.p.BaseDropMaxPct) * (1 + 2*util)
	if m.p.CapacityPerTick > 0 && allocated > m.p.CapacityPerTick {
		drop += 100 * float64(allocated-m.p.CapacityPerTick) / float64(allocated)
	}
	out.DropRateAvg = math.Min(100, drop)
	return out
}
