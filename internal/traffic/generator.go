// Package traffic turns a run configuration into per-tick traffic volumes.
package traffic

import (
	"math"

	"slicesim/internal/telemetry"
)

const (
	// burstPeriod is the number of ticks between the start of two spikes.
	burstPeriod = 10
	// burstWidth is the number of ticks a spike lasts.
	burstWidth = 2
	// burstMultiplier is the spike weight relative to the baseline.
	burstMultiplier = 4.0
	// waveAmplitude is the sine amplitude as a fraction of the mean rate.
	waveAmplitude = 0.5
)

// Ticks returns the number of ticks a run lasts: ceil(duration / interval).
func Ticks(cfg telemetry.SimulationConfig) int {
	if cfg.Duration <= 0 || cfg.Interval <= 0 {
		return 0
	}
	n := int(math.Ceil(float64(cfg.Duration)/cfg.Interval - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// TickIndex maps elapsed seconds to the tick they fall in.
func TickIndex(cfg telemetry.SimulationConfig, elapsedSeconds float64) int {
	if cfg.Interval <= 0 || elapsedSeconds < 0 {
		return -1
	}
	return int(math.Floor(elapsedSeconds/cfg.Interval + 1e-9))
}

// weight is the relative share of traffic assigned to tick i of n.
func weight(p telemetry.Pattern, i, n int) float64 {
	switch p {
	case telemetry.PatternLinearIncrease:
		return float64(i + 1)
	case telemetry.PatternBurst:
		if i%burstPeriod < burstWidth {
			return burstMultiplier
		}
		return 1
	case telemetry.PatternWave:
		w := 1 + waveAmplitude*math.Sin(2*math.Pi*float64(i)/float64(n))
		if w < 0 {
			return 0
		}
		return w
	default:
		return 1
	}
}

// Schedule returns the traffic volume of every tick of the run. Each tick gets
// floor(V*w/sum(w)); the remainder is spread one packet per tick over the
// final ticks so that the volumes sum to exactly cfg.TrafficVolume.
func Schedule(cfg telemetry.SimulationConfig) []int64 {
	n := Ticks(cfg)
	if n == 0 || cfg.TrafficVolume <= 0 {
		return nil
	}
	weights := make([]float64, n)
	var total float64
	for i := range weights {
		weights[i] = weight(cfg.Pattern, i, n)
		total += weights[i]
	}
	out := make([]int64, n)
	var assigned int64
	for i, w := range weights {
		out[i] = int64(math.Floor(float64(cfg.TrafficVolume) * w / total))
		assigned += out[i]
	}
	remainder := cfg.TrafficVolume - assigned
	for i := n - 1; remainder > 0 && i >= 0; i-- {
		out[i]++
		remainder--
	}
	// Floating point error can push the floors past the total.
	for i := 0; remainder < 0 && i < n; i++ {
		if out[i] > 0 {
			out[i]--
			remainder++
		}
	}
	return out
}

// Volume returns the traffic volume for the tick containing elapsedSeconds.
// It is a pure function of its arguments; ticks outside the run yield zero.
func Volume(cfg telemetry.SimulationConfig, elapsedSeconds float64) int64 {
	sched := Schedule(cfg)
	i := TickIndex(cfg, elapsedSeconds)
	if i < 0 || i >= len(sched) {
		return 0
	}
	return sched[i]
}
