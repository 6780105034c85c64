package sim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"slicesim/internal/telemetry"
)

// greptimeClient is the subset of the ingester client the writer uses.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

const (
	defaultGreptimePort = 4001
	greptimeTimeout     = 5 * time.Second
)

// GreptimeDBWriter writes per-slice tick metrics and run status rows to
// GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client     greptimeClient
	sliceTable string
	runTable   string
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port") and
// writes into database.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime port %q: %w", p, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{client: client, sliceTable: "slice_metrics", runTable: "simulation_runs"}, nil
}

func (w *GreptimeDBWriter) sliceMetricsTable() (*table.Table, error) {
	tbl, err := table.New(w.sliceTable)
	if err != nil {
		return nil, err
	}
	for _, tag := range []string{"simulation_id", "slice"} {
		if err := tbl.AddTagColumn(tag, types.STRING); err != nil {
			return nil, err
		}
	}
	for _, f := range []string{"tick", "allocated", "processed", "dropped", "retransmitted", "active_devices"} {
		if err := tbl.AddFieldColumn(f, types.INT64); err != nil {
			return nil, err
		}
	}
	for _, f := range []string{"latency_avg", "latency_min", "latency_max", "throughput_avg", "reliability_index", "success_rate", "drop_rate_avg", "qos_compliance_rate"} {
		if err := tbl.AddFieldColumn(f, types.FLOAT64); err != nil {
			return nil, err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}
	return tbl, nil
}

func appendSnapshotRows(tbl *table.Table, s telemetry.TickSnapshot) error {
	for _, name := range telemetry.SliceNames {
		m, ok := s.SliceMetrics[name]
		if !ok {
			continue
		}
		err := tbl.AddRow(
			s.SimulationID, name,
			int64(s.Tick), m.Allocated, m.Processed, m.Dropped, m.PacketsRetransmitted, m.ActiveDevices,
			m.Latency.Avg, m.Latency.Min, m.Latency.Max, m.ThroughputAvg, m.ReliabilityIndex,
			m.SuccessRate, m.DropRateAvg, m.QoSComplianceRate,
			s.Timestamp,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteSnapshot inserts one row per slice of the snapshot.
func (w *GreptimeDBWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	return w.WriteSnapshots([]telemetry.TickSnapshot{s})
}

// WriteSnapshots inserts the slice rows of several snapshots in one request.
func (w *GreptimeDBWriter) WriteSnapshots(rows []telemetry.TickSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := w.sliceMetricsTable()
	if err != nil {
		return err
	}
	for _, s := range rows {
		if err := appendSnapshotRows(tbl, s); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), greptimeTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		slog.Error("greptime snapshot write failed", "rows", len(rows), "err", err)
		return err
	}
	slog.Debug("greptime wrote snapshots", "rows", len(rows))
	return nil
}

// WriteRun inserts a run status row.
func (w *GreptimeDBWriter) WriteRun(rec telemetry.RunRecord) error {
	tbl, err := table.New(w.runTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("simulation_id", types.STRING); err != nil {
		return err
	}
	for _, f := range []string{"status", "pattern", "error"} {
		if err := tbl.AddFieldColumn(f, types.STRING); err != nil {
			return err
		}
	}
	for _, f := range []string{"traffic_volume", "ticks", "traffic_generated", "packets_processed", "packets_dropped"} {
		if err := tbl.AddFieldColumn(f, types.INT64); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	ts := rec.CreatedAt
	if rec.EndTime != nil {
		ts = *rec.EndTime
	} else if rec.StartTime != nil {
		ts = *rec.StartTime
	}
	err = tbl.AddRow(rec.ID(), string(rec.Status), string(rec.Config.Pattern), rec.Error,
		rec.Config.TrafficVolume, int64(rec.Ticks), rec.TrafficGenerated, rec.PacketsProcessed, rec.PacketsDropped,
		ts)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), greptimeTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		slog.Error("greptime run write failed", "simulation_id", rec.ID(), "err", err)
		return err
	}
	return nil
}
