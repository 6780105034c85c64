package slice

import (
	"math"
	"math/rand"

	"slicesim/internal/telemetry"
)

// MMTCParams tune the massive machine type communication slice: many devices
// sending small reports, contention growing sharply toward the ceiling.
type MMTCParams struct {
	PacketsPerDevice int64   `yaml:"packets_per_device" json:"packets_per_device"`
	MaxDevices       int64   `yaml:"max_devices" json:"max_devices"`
	BaseDropPct      float64 `yaml:"base_drop_pct" json:"base_drop_pct"`
	ContentionPct    float64 `yaml:"contention_pct" json:"contention_pct"`
	LatencyBaseMs    float64 `yaml:"latency_base_ms" json:"latency_base_ms"`
	LatencyExpMeanMs float64 `yaml:"latency_exp_mean_ms" json:"latency_exp_mean_ms"`
	CongestionMs     float64 `yaml:"congestion_ms" json:"congestion_ms"`
	QoSThresholdMs   float64 `yaml:"qos_threshold_ms" json:"qos_threshold_ms"`
}

// DefaultMMTCParams returns the built-in mMTC constants.
func DefaultMMTCParams() MMTCParams {
	return MMTCParams{
		PacketsPerDevice: 5,
		MaxDevices:       20000,
		BaseDropPct:      0.5,
		ContentionPct:    60,
		LatencyBaseMs:    150,
		LatencyExpMeanMs: 400,
		CongestionMs:     1500,
		QoSThresholdMs:   1000,
	}
}

// MMTC is the IoT slice model.
type MMTC struct{ p MMTCParams }

// NewMMTC returns an mMTC model using p.
func NewMMTC(p MMTCParams) *MMTC { return &MMTC{p: p} }

// Name implements Model.
func (*MMTC) Name() string { return telemetry.SliceMMTC }

// Process implements Model. Devices past MaxDevices cannot attach and all of
// their packets are dropped.
func (m *MMTC) Process(rng *rand.Rand, allocated int64) telemetry.SliceMetrics {
	out := telemetry.SliceMetrics{Slice: telemetry.SliceMMTC, Allocated: allocated}
	if allocated <= 0 {
		return out
	}
	ppd := max(m.p.PacketsPerDevice, 1)
	devices := (allocated + ppd - 1) / ppd
	admitted := devices
	if m.p.MaxDevices > 0 && admitted > m.p.MaxDevices {
		admitted = m.p.MaxDevices
	}
	load := 1.0
	if m.p.MaxDevices > 0 {
		load = float64(admitted) / float64(m.p.MaxDevices)
	}
	congestion := load * load * load

	rejected := max(allocated-admitted*ppd, 0)
	contention := math.Min(100, m.p.BaseDropPct+m.p.ContentionPct*congestion) * uniform(rng, 0.9, 1.1)
	dropped := float64(rejected) + float64(allocated-rejected)*contention/100

	n := sampleCount(allocated)
	var lat latencySummary
	compliant := 0
	for i := 0; i < n; i++ {
		l := m.p.LatencyBaseMs + rng.ExpFloat64()*m.p.LatencyExpMeanMs + m.p.CongestionMs*congestion
		lat.add(l)
		if l <= m.p.QoSThresholdMs {
			compliant++
		}
	}
	out.Latency = lat.stats()
	out.QoSComplianceRate = percent(compliant, n)
	out.ActiveDevices = admitted
	out.DropRateAvg = clamp(100*dropped/float64(allocated), 0, 100)
	out.SuccessRate = 100 - out.DropRateAvg
	return out
}
