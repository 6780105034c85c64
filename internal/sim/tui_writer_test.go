package sim

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"slicesim/internal/telemetry"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

func TestTUIWriterMessages(t *testing.T) {
	p := &fakeProgram{}
	w := &TUIWriter{program: p}
	if err := w.WriteSnapshot(sampleSnapshot("sim_a", 0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := p.msgs[0].(logMsg); !ok {
		t.Fatalf("expected logMsg, got %T", p.msgs[0])
	}
	if _, ok := p.msgs[1].(snapshotMsg); !ok {
		t.Fatalf("expected snapshotMsg, got %T", p.msgs[1])
	}
	end := time.Unix(5, 0).UTC()
	rec := telemetry.RunRecord{Config: telemetry.SimulationConfig{ID: "sim_a"}, Status: telemetry.StatusCompleted, EndTime: &end}
	if err := w.WriteRun(rec); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := p.msgs[3].(runMsg); !ok {
		t.Fatalf("expected runMsg, got %T", p.msgs[3])
	}
}

func TestTUIModelTracksSlices(t *testing.T) {
	m := newTUIModel(telemetry.SimulationConfig{ID: "sim_a"})
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = mi.(tuiModel)
	mi, _ = m.Update(snapshotMsg{sampleSnapshot("sim_a", 2)})
	m = mi.(tuiModel)
	if got := len(m.table.Rows()); got != 3 {
		t.Fatalf("expected a row per slice, got %d", got)
	}
	if m.status["sim_a"] != telemetry.StatusCreated {
		t.Fatalf("known run status should not be overwritten by snapshots, got %s", m.status["sim_a"])
	}
	mi, _ = m.Update(runMsg{telemetry.RunRecord{Config: telemetry.SimulationConfig{ID: "sim_a"}, Status: telemetry.StatusStopped}})
	m = mi.(tuiModel)
	if !strings.Contains(m.renderBottom(), "stopped=1") {
		t.Fatalf("bottom bar missing stopped count: %q", m.renderBottom())
	}
	if !strings.Contains(m.header, "rel 98.40%") {
		t.Fatalf("urllc reliability missing from table: %q", m.header)
	}
}

func TestWrapToggle(t *testing.T) {
	m := newTUIModel()
	mi, _ := m.Update(tea.WindowSizeMsg{Width: 20, Height: 20})
	m = mi.(tuiModel)
	long := "one two three four five six"
	mi, _ = m.Update(logMsg{line: long})
	m = mi.(tuiModel)
	lines := strings.Split(m.vp.View(), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "" {
		t.Fatalf("expected single line before wrap")
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'w'}})
	m = mi.(tuiModel)
	if !m.wrap {
		t.Fatalf("wrap not toggled")
	}
	lines = strings.Split(m.vp.View(), "\n")
	if strings.TrimSpace(lines[1]) == "" {
		t.Fatalf("expected wrapped content on second line")
	}
}

func TestScrollToggle(t *testing.T) {
	m := newTUIModel()
	m.vp.Height = 1
	m.vp.Width = 20
	mi, _ := m.Update(logMsg{line: "l1"})
	m = mi.(tuiModel)
	mi, _ = m.Update(logMsg{line: "l2"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset 1, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(tuiModel)
	if m.autoscroll {
		t.Fatalf("autoscroll should be off")
	}
	mi, _ = m.Update(logMsg{line: "l3"})
	m = mi.(tuiModel)
	if m.vp.YOffset != 1 {
		t.Fatalf("expected YOffset unchanged, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = mi.(tuiModel)
	if m.vp.YOffset != 0 {
		t.Fatalf("expected YOffset 0 after scrolling up, got %d", m.vp.YOffset)
	}
	mi, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	m = mi.(tuiModel)
	if !m.autoscroll {
		t.Fatalf("autoscroll should be on")
	}
	if want := len(m.logs) - m.vp.Height; m.vp.YOffset != want {
		t.Fatalf("expected YOffset %d, got %d", want, m.vp.YOffset)
	}
}
