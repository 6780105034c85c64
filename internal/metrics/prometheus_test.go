package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicesim/internal/telemetry"
)

func TestRunLifecycleGauge(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.RunCreated()
	r.RunCreated()
	r.RunTransition(telemetry.StatusCreated, telemetry.StatusRunning)
	r.RunTransition(telemetry.StatusCreated, telemetry.StatusRunning)
	r.RunTransition(telemetry.StatusRunning, telemetry.StatusCompleted)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activeRuns))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("created", "running")))

	r.RunTransition(telemetry.StatusRunning, telemetry.StatusStopped)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.activeRuns))
}

func TestTickCommittedCountsPackets(t *testing.T) {
	r := New(prometheus.NewRegistry())
	snap := telemetry.TickSnapshot{
		SimulationID: "sim_a",
		SliceMetrics: map[string]telemetry.SliceMetrics{
			telemetry.SliceEMBB:  {Slice: telemetry.SliceEMBB, Allocated: 40, Processed: 38, Dropped: 2, Latency: telemetry.LatencyStats{Avg: 35}, QoSComplianceRate: 90},
			telemetry.SliceURLLC: {Slice: telemetry.SliceURLLC, Allocated: 30, Processed: 30, Latency: telemetry.LatencyStats{Avg: 1.2}, QoSComplianceRate: 100},
			telemetry.SliceMMTC:  {Slice: telemetry.SliceMMTC},
		},
	}
	r.TickCommitted(snap, 3*time.Millisecond)
	r.TickCommitted(snap, 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks))
	assert.Equal(t, 76.0, testutil.ToFloat64(r.packets.WithLabelValues("embb", "processed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.packets.WithLabelValues("embb", "dropped")))
	assert.Equal(t, 90.0, testutil.ToFloat64(r.qos.WithLabelValues("embb")))
	// mmtc had no traffic so no latency series exists for it.
	assert.Equal(t, 2, testutil.CollectAndCount(r.latency))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New(nil)
	r.StreamDropped("sim_a")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "slicesim_stream_dropped_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
