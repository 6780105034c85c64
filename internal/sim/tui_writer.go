package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"slicesim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// snapshotMsg carries the latest snapshot of a run.
type snapshotMsg struct{ telemetry.TickSnapshot }

// runMsg carries a run status change.
type runMsg struct{ telemetry.RunRecord }

const (
	maxLogLines   = 1000
	maxTableRows  = 12
	offIndicator  = lipgloss.Color("9")
	onIndicator   = lipgloss.Color("10")
	dividerColour = lipgloss.Color("8")
)

// TUIWriter renders tick snapshots using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	mu         sync.Mutex
	runColors  map[string]string
	colorIdx   int
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting
// the program interrupts the process unless Close was called first.
func NewTUIWriter(runs ...telemetry.SimulationConfig) *TUIWriter {
	w := &TUIWriter{runColors: make(map[string]string), done: make(chan struct{})}
	w.sendSignal.Store(true)
	for _, r := range runs {
		w.runColor(r.ID)
	}
	p := tea.NewProgram(newTUIModel(runs...), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

func (w *TUIWriter) runColor(id string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runColors == nil {
		w.runColors = make(map[string]string)
	}
	if c, ok := w.runColors[id]; ok {
		return c
	}
	c := runPalette[w.colorIdx%len(runPalette)]
	w.runColors[id] = c
	w.colorIdx++
	return c
}

// WriteSnapshot implements SnapshotWriter.
func (w *TUIWriter) WriteSnapshot(s telemetry.TickSnapshot) error {
	line := fmt.Sprintf("%s[%s]%s %s%s%s %stick=%d%s %straffic=%d%s %sok=%d%s %sdrop=%d%s",
		colorGray, s.Timestamp.Format(time.RFC3339), colorReset,
		w.runColor(s.SimulationID), s.SimulationID, colorReset,
		colorWhite, s.Tick, colorReset,
		colorCyan, s.TickTraffic, colorReset,
		colorGreen, s.TickProcessed, colorReset,
		colorRed, s.TickDropped, colorReset)
	w.program.Send(logMsg{line: line})
	w.program.Send(snapshotMsg{s})
	return nil
}

// WriteSnapshots outputs multiple snapshots.
func (w *TUIWriter) WriteSnapshots(rows []telemetry.TickSnapshot) error {
	for _, s := range rows {
		_ = w.WriteSnapshot(s)
	}
	return nil
}

// WriteRun implements RunWriter.
func (w *TUIWriter) WriteRun(rec telemetry.RunRecord) error {
	line := fmt.Sprintf("%s%s%s %sSTATUS=%s%s ticks=%d",
		w.runColor(rec.ID()), rec.ID(), colorReset,
		statusColor(rec.Status), rec.Status, colorReset, rec.Ticks)
	if rec.Error != "" {
		line += fmt.Sprintf(" %serr=%q%s", colorRed, rec.Error, colorReset)
	}
	w.program.Send(logMsg{line: line})
	w.program.Send(runMsg{rec})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	table        table.Model
	vp           viewport.Model
	logs         []string
	order        []string
	latest       map[string]telemetry.TickSnapshot
	status       map[string]telemetry.Status
	wrap         bool
	autoscroll   bool
	help         bool
	header       string
	headerHeight int
	height       int
}

func newTUIModel(runs ...telemetry.SimulationConfig) tuiModel {
	cols := []table.Column{
		{Title: "Run", Width: 18},
		{Title: "Slice", Width: 6},
		{Title: "Alloc", Width: 8},
		{Title: "Lat ms", Width: 8},
		{Title: "Detail", Width: 16},
		{Title: "Drop %", Width: 7},
		{Title: "QoS %", Width: 7},
	}
	m := tuiModel{
		table:      table.New(table.WithColumns(cols), table.WithHeight(2)),
		vp:         viewport.New(0, 0),
		latest:     make(map[string]telemetry.TickSnapshot),
		status:     make(map[string]telemetry.Status),
		autoscroll: true,
	}
	for _, r := range runs {
		m.track(r.ID)
		m.status[r.ID] = telemetry.StatusCreated
	}
	return m
}

func (m *tuiModel) track(id string) {
	for _, o := range m.order {
		if o == id {
			return
		}
	}
	m.order = append(m.order, id)
}

// sliceDetail shows the metric that characterises each slice.
func sliceDetail(sm telemetry.SliceMetrics) string {
	switch sm.Slice {
	case telemetry.SliceEMBB:
		return fmt.Sprintf("%.1f Mbps", sm.ThroughputAvg)
	case telemetry.SliceURLLC:
		return fmt.Sprintf("rel %.2f%%", sm.ReliabilityIndex)
	case telemetry.SliceMMTC:
		return fmt.Sprintf("%d devices", sm.ActiveDevices)
	}
	return ""
}

func (m *tuiModel) refreshTable() {
	var rows []table.Row
	for _, id := range m.order {
		s, ok := m.latest[id]
		if !ok {
			continue
		}
		names := make([]string, 0, len(s.SliceMetrics))
		for name := range s.SliceMetrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sm := s.SliceMetrics[name]
			rows = append(rows, table.Row{
				id, name,
				fmt.Sprintf("%d", sm.Allocated),
				fmt.Sprintf("%.2f", sm.Latency.Avg),
				sliceDetail(sm),
				fmt.Sprintf("%.2f", sm.DropRateAvg),
				fmt.Sprintf("%.1f", sm.QoSComplianceRate),
			})
		}
	}
	m.table.SetRows(rows)
	h := len(rows)
	if h > maxTableRows {
		h = maxTableRows
	}
	if h < 1 {
		h = 1
	}
	m.table.SetHeight(h + 1)
	m.header = m.table.View()
	m.headerHeight = lipgloss.Height(m.header)
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.refreshTable()
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		case "h", "?":
			m.help = !m.help
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case snapshotMsg:
		m.track(msg.SimulationID)
		m.latest[msg.SimulationID] = msg.TickSnapshot
		if _, ok := m.status[msg.SimulationID]; !ok {
			m.status[msg.SimulationID] = telemetry.StatusRunning
		}
		m.refreshTable()
		if m.height > 0 {
			m.updateViewportHeight()
		}
	case runMsg:
		m.track(msg.ID())
		m.status[msg.ID()] = msg.Status
	}
	return m, nil
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - m.headerHeight - lipgloss.Height(m.renderBottom()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := m.logs
	if m.wrap {
		lines = make([]string, len(m.logs))
		for i, l := range m.logs {
			lines[i] = wordwrap.String(l, m.vp.Width)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := lipgloss.NewStyle().Foreground(dividerColour).Render(strings.Repeat("─", m.vp.Width))
	return strings.Join([]string{m.header, divider, m.vp.View(), divider, m.renderBottom()}, "\n")
}

func indicator(on bool) string {
	c := offIndicator
	if on {
		c = onIndicator
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	counts := make(map[telemetry.Status]int)
	for _, st := range m.status {
		counts[st]++
	}
	runs := fmt.Sprintf("%sRUNS%s %srunning=%d%s %scompleted=%d%s %sstopped=%d%s %sfailed=%d%s",
		colorBlue, colorReset,
		colorCyan, counts[telemetry.StatusRunning], colorReset,
		colorGreen, counts[telemetry.StatusCompleted], colorReset,
		colorYellow, counts[telemetry.StatusStopped], colorReset,
		colorRed, counts[telemetry.StatusFailed], colorReset)
	return fmt.Sprintf("%s | Wrap %s | Scroll %s | Help %s", runs, indicator(m.wrap), indicator(m.autoscroll), indicator(m.help))
}

func (m tuiModel) renderHelp() string {
	return strings.Join([]string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for log lines",
		" s  toggle auto-scroll",
		" j/k or arrows  scroll when auto-scroll is off",
		" h/?  toggle this help",
	}, "\n")
}
