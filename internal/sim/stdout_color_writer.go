// ColorStdoutWriter prints human-friendly, colorized snapshots to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"slicesim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorGray    = "\x1b[90m"
)

var runPalette = []string{colorCyan, colorMagenta, colorYellow, colorBlue, colorGreen, colorRed}

// sliceColor maps a slice name to its display color.
var sliceColor = map[string]string{
	telemetry.SliceEMBB:  colorBlue,
	telemetry.SliceURLLC: colorMagenta,
	telemetry.SliceMMTC:  colorYellow,
}

// qosColor grades a QoS compliance percentage.
func qosColor(pct float64) string {
	switch {
	case pct >= 95:
		return colorGreen
	case pct >= 80:
		return colorYellow
	default:
		return colorRed
	}
}

func statusColor(st telemetry.Status) string {
	switch st {
	case telemetry.StatusCompleted:
		return colorGreen
	case telemetry.StatusFailed:
		return colorRed
	case telemetry.StatusStopped:
		return colorYellow
	default:
		return colorCyan
	}
}

// ColorStdoutWriter prints snapshots using ANSI colors.
type ColorStdoutWriter struct {
	mu        sync.Mutex
	runs      []telemetry.SimulationConfig
	out       io.Writer
	once      sync.Once
	runColors map[string]string
	colorIdx  int
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout. The
// configurations are printed once as an overview before the first line.
func NewColorStdoutWriter(runs ...telemetry.SimulationConfig) *ColorStdoutWriter {
	return &ColorStdoutWriter{
		runs:      runs,
		out:       os.Stdout,
		runColors: make(map[string]string),
	}
}

func (w *ColorStdoutWriter) getRunColor(id string) string {
	if c, ok := w.runColors[id]; ok {
		return c
	}
	c := runPalette[w.colorIdx%len(runPalette)]
	w.runColors[id] = c
	w.colorIdx++
	return c
}

func (w *ColorStdoutWriter) printOverview() {
	if len(w.runs) == 0 {
		return
	}
	fmt.Fprintln(w.out, "Simulations:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tVolume\tDuration (s)\tPattern\tInterval (s)\tSeed\n")
	for _, c := range w.runs {
		col := w.getRunColor(c.ID)
		fmt.Fprintf(tw, "%s%s%s\t%d\t%d\t%s\t%.2f\t%d\n", col, c.ID, colorReset,
			c.TrafficVolume, c.Duration, c.Pattern, c.Interval, c.Seed)
	}
	tw.Flush()
	fmt.Fprintln(w.out)
}

// WriteSnapshot outputs a single snapshot in colorized format.
func (w *ColorStdoutWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)

	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, s.Timestamp.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%s%s%s ", w.getRunColor(s.SimulationID), s.SimulationID, colorReset)
	fmt.Fprintf(w.out, "%stick=%d%s ", colorWhite, s.Tick, colorReset)
	fmt.Fprintf(w.out, "%straffic=%d%s ", colorCyan, s.TickTraffic, colorReset)
	fmt.Fprintf(w.out, "%sok=%d%s ", colorGreen, s.TickProcessed, colorReset)
	fmt.Fprintf(w.out, "%sdrop=%d%s", colorRed, s.TickDropped, colorReset)
	for _, name := range telemetry.SliceNames {
		m, ok := s.SliceMetrics[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w.out, " %s%s%s[%d lat=%.1fms %sqos=%.0f%%%s]",
			sliceColor[name], name, colorReset, m.Allocated, m.Latency.Avg,
			qosColor(m.QoSComplianceRate), m.QoSComplianceRate, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteSnapshots outputs multiple snapshots.
func (w *ColorStdoutWriter) WriteSnapshots(rows []telemetry.TickSnapshot) error {
	for _, r := range rows {
		_ = w.WriteSnapshot(r)
	}
	return nil
}

// WriteRun prints a status change of a run.
func (w *ColorStdoutWriter) WriteRun(rec telemetry.RunRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	ts := rec.CreatedAt
	if rec.EndTime != nil {
		ts = *rec.EndTime
	} else if rec.StartTime != nil {
		ts = *rec.StartTime
	}
	fmt.Fprintf(w.out, "%s[%s]%s %s%s%s %sSTATUS=%s%s ticks=%d traffic=%d processed=%d dropped=%d",
		colorGray, ts.Format(time.RFC3339), colorReset,
		w.getRunColor(rec.ID()), rec.ID(), colorReset,
		statusColor(rec.Status), rec.Status, colorReset,
		rec.Ticks, rec.TrafficGenerated, rec.PacketsProcessed, rec.PacketsDropped)
	if rec.Error != "" {
		fmt.Fprintf(w.out, " %serr=%q%s", colorRed, rec.Error, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}
