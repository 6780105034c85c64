// Package slice models the three 5G network slices and routes tick traffic
// across them.
package slice

import (
	"math"
	"math/rand"

	"slicesim/internal/telemetry"
)

// SampleLimit caps the latency samples drawn per slice per tick. Fractions
// measured over the samples are scaled to the full allocation.
const SampleLimit = 256

// Model turns a tick's allocated packets into slice metrics. Implementations
// must be free of side effects other than drawing from rng. Processed and
// Dropped are filled in by the aggregator from DropRateAvg.
type Model interface {
	Name() string
	Process(rng *rand.Rand, allocated int64) telemetry.SliceMetrics
}

// Params collects the tunables of all three slice models.
type Params struct {
	EMBB  EMBBParams  `yaml:"embb" json:"embb"`
	URLLC URLLCParams `yaml:"urllc" json:"urllc"`
	MMTC  MMTCParams  `yaml:"mmtc" json:"mmtc"`
}

// DefaultParams returns the built-in slice constants.
func DefaultParams() Params {
	return Params{
		EMBB:  DefaultEMBBParams(),
		URLLC: DefaultURLLCParams(),
		MMTC:  DefaultMMTCParams(),
	}
}

// Models builds the three slice models from p in routing order.
func (p Params) Models() []Model {
	return []Model{NewEMBB(p.EMBB), NewURLLC(p.URLLC), NewMMTC(p.MMTC)}
}

func sampleCount(allocated int64) int {
	if allocated > SampleLimit {
		return SampleLimit
	}
	return int(allocated)
}

// scale converts hits out of n samples to a packet count out of allocated.
func scale(hits, n int, allocated int64) int64 {
	if n == 0 {
		return 0
	}
	if int64(n) == allocated {
		return int64(hits)
	}
	return int64(math.Round(float64(hits) / float64(n) * float64(allocated)))
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

type latencySummary struct {
	n             int
	sum, min, max float64
}

func (s *latencySummary) add(v float64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.sum += v
	s.n++
}

func (s latencySummary) stats() telemetry.LatencyStats {
	if s.n == 0 {
		return telemetry.LatencyStats{}
	}
	return telemetry.LatencyStats{Avg: s.sum / float64(s.n), Min: s.min, Max: s.max}
}

func percent(hits, n int) float64 {
	if n == 0 {
		return 0
	}
	return 100 * float64(hits) / float64(n)
}
