// Simulation data model shared by the generator, slices, orchestrator and stores
package telemetry

import (
	"time"
)

// Pattern selects how traffic volume is distributed over a run.
type Pattern string

// Traffic patterns.
const (
	PatternConstant       Pattern = "constant"
	PatternLinearIncrease Pattern = "linear_increase"
	PatternBurst          Pattern = "burst"
	PatternWave           Pattern = "wave"
)

// Patterns lists every recognised traffic pattern.
var Patterns = []Pattern{PatternConstant, PatternLinearIncrease, PatternBurst, PatternWave}

// Valid reports whether p is one of the recognised patterns.
func (p Pattern) Valid() bool {
	for _, known := range Patterns {
		if p == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a simulation run.
type Status string

// Simulation status constants.
const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusStopped, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// Slice names.
const (
	SliceEMBB  = "embb"
	SliceURLLC = "urllc"
	SliceMMTC  = "mmtc"
)

// SliceNames lists slices in routing order.
var SliceNames = []string{SliceEMBB, SliceURLLC, SliceMMTC}

// SimulationConfig is the immutable configuration of one run.
type SimulationConfig struct {
	ID            string  `json:"simulation_id" yaml:"id,omitempty"`
	TrafficVolume int64   `json:"traffic_volume" yaml:"traffic_volume"`
	Duration      int64   `json:"duration" yaml:"duration"`
	Pattern       Pattern `json:"pattern" yaml:"pattern"`
	Interval      float64 `json:"interval" yaml:"interval"`
	Seed          int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// IntervalDuration returns the tick period.
func (c SimulationConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

// LatencyStats summarises latency samples in milliseconds.
type LatencyStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SliceMetrics is one slice's result for one tick. Slice specific fields are
// left zero by slices that do not model them.
type SliceMetrics struct {
	Slice                string       `json:"slice_type"`
	Allocated            int64        `json:"allocated"`
	Processed            int64        `json:"packets_processed"`
	Dropped              int64        `json:"packets_dropped"`
	Latency              LatencyStats `json:"latency"`
	ThroughputAvg        float64      `json:"throughput_avg,omitempty"`
	ReliabilityIndex     float64      `json:"reliability_index,omitempty"`
	PacketsRetransmitted int64        `json:"packets_retransmitted,omitempty"`
	ActiveDevices        int64        `json:"active_devices,omitempty"`
	SuccessRate          float64      `json:"success_rate,omitempty"`
	DropRateAvg          float64      `json:"drop_rate_avg"`
	QoSComplianceRate    float64      `json:"qos_compliance_rate"`
}

// TickSnapshot is the immutable record of one tick.
type TickSnapshot struct {
	SimulationID  string                  `json:"simulation_id"`
	Tick          int                     `json:"tick"`
	Timestamp     time.Time               `json:"timestamp"`
	TickTraffic   int64                   `json:"tick_traffic"`
	TickProcessed int64                   `json:"tick_processed"`
	TickDropped   int64                   `json:"tick_dropped"`
	SliceMetrics  map[string]SliceMetrics `json:"slice_metrics"`
}

// Totals are the cumulative counters of a run.
type Totals struct {
	TrafficGenerated int64 `json:"total_traffic_generated"`
	PacketsProcessed int64 `json:"total_packets_processed"`
	PacketsDropped   int64 `json:"total_packets_dropped"`
}

// Add folds one snapshot into the totals.
func (t Totals) Add(s TickSnapshot) Totals {
	t.TrafficGenerated += s.TickTraffic
	t.PacketsProcessed += s.TickProcessed
	t.PacketsDropped += s.TickDropped
	return t
}

// RunRecord is the persisted and queryable view of a simulation run.
type RunRecord struct {
	Config    SimulationConfig `json:"config"`
	Status    Status           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Ticks     int              `json:"ticks"`
	CreatedAt time.Time        `json:"created_at"`
	StartTime *time.Time       `json:"start_time,omitempty"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	Totals
}

// ID returns the simulation identifier.
func (r RunRecord) ID() string { return r.Config.ID }
