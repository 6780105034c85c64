// Package dashboard renders a Grafana dashboard for the slice metrics that
// the GreptimeDB writer stores.
package dashboard

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const templateName = "slicesim-dashboard.json.tmpl"

// Panel is one time series panel of the dashboard.
type Panel struct {
	Title  string
	Column string
	Unit   string
}

// DefaultPanels chart the per-slice columns of the slice_metrics table.
var DefaultPanels = []Panel{
	{Title: "Average latency", Column: "latency_avg", Unit: "ms"},
	{Title: "Max latency", Column: "latency_max", Unit: "ms"},
	{Title: "Allocated packets", Column: "allocated", Unit: "short"},
	{Title: "Dropped packets", Column: "dropped", Unit: "short"},
	{Title: "QoS compliance", Column: "qos_compliance_rate", Unit: "percent"},
	{Title: "eMBB throughput", Column: "throughput_avg", Unit: "Mbits"},
	{Title: "URLLC reliability", Column: "reliability_index", Unit: "percent"},
	{Title: "mMTC active devices", Column: "active_devices", Unit: "short"},
}

// Options parameterize the rendered dashboard. An empty DatasourceUID is
// read from GREPTIMEDB_DATASOURCE_UID.
type Options struct {
	Title         string
	DatasourceUID string
	Table         string
	Panels        []Panel
}

func (o Options) withDefaults() (Options, error) {
	if o.Title == "" {
		o.Title = "Network Slicing Simulator"
	}
	if o.Table == "" {
		o.Table = "slice_metrics"
	}
	if len(o.Panels) == 0 {
		o.Panels = DefaultPanels
	}
	if o.DatasourceUID == "" {
		o.DatasourceUID = os.Getenv("GREPTIMEDB_DATASOURCE_UID")
	}
	if o.DatasourceUID == "" {
		return o, fmt.Errorf("datasource uid required: set GREPTIMEDB_DATASOURCE_UID")
	}
	return o, nil
}

var funcMap = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"add": func(a, b int) int { return a + b },
	"gridX": func(i int) int { return (i % 2) * 12 },
	"gridY": func(i int) int { return (i / 2) * 8 },
}

// Render writes the dashboard JSON to w.
func Render(w io.Writer, o Options) error {
	o, err := o.withDefaults()
	if err != nil {
		return err
	}
	t, err := template.New(templateName).Funcs(funcMap).ParseFS(templateFS, "templates/"+templateName)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, o); err != nil {
		return err
	}
	if !json.Valid(buf.Bytes()) {
		return fmt.Errorf("rendered dashboard is not valid JSON")
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// RenderFile renders the dashboard into outDir and returns the file path.
func RenderFile(outDir string, o Options) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, "slicesim-dashboard.json")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Render(f, o); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
