package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/trafficwatch/trafficwatch/internal/dashboard"
)

// Sink forwards controller snapshots into a running program.
type Sink struct {
	p *tea.Program
}

// NewSink returns a sink feeding p.
func NewSink(p *tea.Program) *Sink {
	return &Sink{p: p}
}

// Render implements dashboard.Sink.
func (s *Sink) Render(snap dashboard.Snapshot) {
	s.p.Send(SnapshotMsg(snap))
}

// NewProgram creates a full-screen program for m.
func NewProgram(m *Model, opts ...tea.ProgramOption) *tea.Program {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return tea.NewProgram(m, opts...)
}
