package sim

import (
	"math"
	"time"

	"slicesim/internal/telemetry"
)

// droppedPackets converts a drop percentage into a packet count within
// [0, allocated].
func droppedPackets(allocated int64, dropRatePct float64) int64 {
	if allocated <= 0 {
		return 0
	}
	d := int64(math.Round(float64(allocated) * dropRatePct / 100))
	return max(0, min(d, allocated))
}

// aggregate merges slice results into one tick snapshot. Processed plus
// dropped equals allocated for every slice, so the snapshot counters always
// add up to the tick's traffic.
func aggregate(id string, tick int, ts time.Time, traffic int64, results map[string]telemetry.SliceMetrics) telemetry.TickSnapshot {
	snap := telemetry.TickSnapshot{
		SimulationID: id,
		Tick:         tick,
		Timestamp:    ts,
		TickTraffic:  traffic,
		SliceMetrics: make(map[string]telemetry.SliceMetrics, len(results)),
	}
	for name, m := range results {
		m.Dropped = droppedPackets(m.Allocated, m.DropRateAvg)
		m.Processed = m.Allocated - m.Dropped
		snap.TickProcessed += m.Processed
		snap.TickDropped += m.Dropped
		snap.SliceMetrics[name] = m
	}
	return snap
}
