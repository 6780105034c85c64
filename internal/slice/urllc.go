package slice

import (
	"math"
	"math/rand"

	"slicesim/internal/telemetry"
)

// URLLCParams tune the ultra reliable low latency slice.
type URLLCParams struct {
	CapacityPerTick int64   `yaml:"capacity_per_tick" json:"capacity_per_tick"`
	LatencyMeanMs   float64 `yaml:"latency_mean_ms" json:"latency_mean_ms"`
	LatencyStdDevMs float64 `yaml:"latency_stddev_ms" json:"latency_stddev_ms"`
	LatencyFloorMs  float64 `yaml:"latency_floor_ms" json:"latency_floor_ms"`
	// ContractMs is the first-attempt delivery bound; later samples are
	// retransmitted.
	ContractMs        float64 `yaml:"contract_ms" json:"contract_ms"`
	RetransmitMinMs   float64 `yaml:"retransmit_min_ms" json:"retransmit_min_ms"`
	RetransmitMaxMs   float64 `yaml:"retransmit_max_ms" json:"retransmit_max_ms"`
	QoSThresholdMs    float64 `yaml:"qos_threshold_ms" json:"qos_threshold_ms"`
	BaseDropMinPct    float64 `yaml:"base_drop_min_pct" json:"base_drop_min_pct"`
	BaseDropMaxPct    float64 `yaml:"base_drop_max_pct" json:"base_drop_max_pct"`
}

// DefaultURLLCParams returns the built-in URLLC constants.
func DefaultURLLCParams() URLLCParams {
	return URLLCParams{
		CapacityPerTick: 400,
		LatencyMeanMs:   1.2,
		LatencyStdDevMs: 0.4,
		LatencyFloorMs:  0.1,
		ContractMs:      2,
		RetransmitMinMs: 0.5,
		RetransmitMaxMs: 1.5,
		QoSThresholdMs:  5,
		BaseDropMinPct:  0.001,
		BaseDropMaxPct:  0.01,
	}
}

// URLLC is the low latency slice model.
type URLLC struct{ p URLLCParams }

// NewURLLC returns a URLLC model using p.
func NewURLLC(p URLLCParams) *URLLC { return &URLLC{p: p} }

// Name implements Model.
func (*URLLC) Name() string { return telemetry.SliceURLLC }

// Process implements Model.
func (m *URLLC) Process(rng *rand.Rand, allocated int64) telemetry.SliceMetrics {
	out := telemetry.SliceMetrics{Slice: telemetry.SliceURLLC, Allocated: allocated}
	if allocated <= 0 {
		return out
	}
	util := 1.0
	if m.p.CapacityPerTick > 0 {
		util = math.Min(1, float64(allocated)/float64(m.p.CapacityPerTick))
	}

	n := sampleCount(allocated)
	var lat latencySummary
	firstAttempt, retransmits, compliant := 0, 0, 0
	for i := 0; i < n; i++ {
		l := math.Max(m.p.LatencyFloorMs, m.p.LatencyMeanMs+rng.NormFloat64()*m.p.LatencyStdDevMs)
		if l <= m.p.ContractMs {
			firstAttempt++
		} else {
			retransmits++
			l += uniform(rng, m.p.RetransmitMinMs, m.p.RetransmitMaxMs)
		}
		lat.add(l)
		if l <= m.p.QoSThresholdMs {
			compliant++
		}
	}
	out.Latency = lat.stats()
	out.ReliabilityIndex = percent(firstAttempt, n)
	out.PacketsRetransmitted = scale(retransmits, n, allocated)
	out.QoSComplianceRate = percent(compliant, n)
	out.DropRateAvg = uniform(rng, m.p.BaseDropMinPct, m.p.BaseDropMaxPct) * (1 + util)
	return out
}
