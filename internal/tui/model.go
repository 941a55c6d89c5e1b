// Package tui is the terminal dashboard: live sparklines, the classification
// tally and the recent-events table, with single-key operator controls.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/trafficwatch/trafficwatch/internal/dashboard"
	"github.com/trafficwatch/trafficwatch/internal/protocol"
	"github.com/trafficwatch/trafficwatch/internal/series"
)

const submitTimeout = 5 * time.Second

var (
	accentColor = lipgloss.AdaptiveColor{Light: "4", Dark: "12"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#555", Dark: "#777"}
	errColor    = lipgloss.AdaptiveColor{Light: "1", Dark: "9"}
	okColor     = lipgloss.AdaptiveColor{Light: "2", Dark: "10"}
	warnColor   = lipgloss.AdaptiveColor{Light: "3", Dark: "11"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	dimStyle   = lipgloss.NewStyle().Foreground(dimColor)
	errStyle   = lipgloss.NewStyle().Foreground(errColor)
	okStyle    = lipgloss.NewStyle().Foreground(okColor)
	warnStyle  = lipgloss.NewStyle().Foreground(warnColor)
	boxStyle   = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(dimColor).
			Padding(0, 1)
)

// SubmitFunc hands an action to the controller loop.
type SubmitFunc func(ctx context.Context, a dashboard.Action) (dashboard.Snapshot, error)

// SnapshotMsg delivers a new dashboard state to the program.
type SnapshotMsg dashboard.Snapshot

type actionDoneMsg struct {
	action dashboard.Action
	err    error
}

// Model is the bubbletea model of the terminal dashboard.
type Model struct {
	submit SubmitFunc
	snap   dashboard.Snapshot
	table  table.Model
	help   help.Model
	width  int
	status string
	err    error
}

// New creates a model that sends operator actions through submit.
func New(submit SubmitFunc) *Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimColor).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.Foreground(accentColor).Bold(false)
	t.SetStyles(s)

	return &Model{
		submit: submit,
		table:  t,
		help:   help.New(),
		width:  80,
	}
}

func columns(width int) []table.Column {
	src := max(15, width-70)
	return []table.Column{
		{Title: "Tick", Width: 7},
		{Title: "Proto", Width: 6},
		{Title: "Src bytes", Width: 10},
		{Title: "Dst bytes", Width: 10},
		{Title: "Label", Width: 7},
		{Title: "Score", Width: 7},
		{Title: "Source", Width: src},
		{Title: "", Width: 9},
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		m.snap = dashboard.Snapshot(msg)
		m.table.SetRows(rows(m.snap.Events))
		return m, nil
	case actionDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.action.String() + " ok"
		} else {
			m.status = ""
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.table.SetColumns(columns(msg.Width))
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.StartNormal):
			return m, m.act(dashboard.Start(protocol.TrafficNormal))
		case key.Matches(msg, keys.StartDDoS):
			return m, m.act(dashboard.Start(protocol.TrafficDDoS))
		case key.Matches(msg, keys.Stop):
			return m, m.act(dashboard.Action{Kind: dashboard.ActionStop})
		case key.Matches(msg, keys.Neutralize):
			return m, m.act(dashboard.Action{Kind: dashboard.ActionNeutralize})
		case key.Matches(msg, keys.Mitigation):
			return m, m.act(dashboard.Action{Kind: dashboard.ActionToggleMitigation})
		case key.Matches(msg, keys.Block):
			row, ok := m.selected()
			if !ok {
				return m, nil
			}
			return m, m.act(dashboard.Block(row.Tick))
		case key.Matches(msg, keys.Up):
			m.table.MoveUp(1)
			return m, nil
		case key.Matches(msg, keys.Down):
			m.table.MoveDown(1)
			return m, nil
		}
	}
	return m, nil
}

func (m *Model) selected() (dashboard.Row, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.snap.Events) {
		return dashboard.Row{}, false
	}
	return m.snap.Events[i], true
}

func (m *Model) act(a dashboard.Action) tea.Cmd {
	submit := m.submit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		_, err := submit(ctx, a)
		return actionDoneMsg{action: a, err: err}
	}
}

func rows(events []dashboard.Row) []table.Row {
	out := make([]table.Row, len(events))
	for i, e := range events {
		state := "block"
		switch {
		case e.BlockConfirmed:
			state = "blocked"
		case e.Blocked:
			state = "blocking"
		case e.SrcIP == "":
			state = "-"
		}
		src := e.SrcIP
		if src == "" {
			src = "-"
		}
		out[i] = table.Row{
			fmt.Sprintf("%.1f", float64(e.Tick)),
			e.ProtocolType,
			humanize.Bytes(uint64(e.SrcBytes)),
			humanize.Bytes(uint64(e.DstBytes)),
			string(e.Label),
			fmt.Sprintf("%.3f", e.Score),
			src,
			state,
		}
	}
	return out
}

// View implements tea.Model.
func (m *Model) View() string {
	s := m.snap
	var b strings.Builder

	mitigation := s.Mitigation()
	if s.MitigationPending {
		mitigation = warnStyle.Render(mitigation + " (pending)")
	}
	fmt.Fprintf(&b, "%s  tick %s  simulation %s  mitigation %s\n",
		titleStyle.Render("trafficwatch"),
		fmt.Sprintf("%.1f", float64(s.Tick)),
		s.Simulation(),
		mitigation,
	)

	fmt.Fprintf(&b, "%s %s   %s %s   %s\n",
		okStyle.Render("Normal"), humanize.Comma(s.Tally.Normal),
		errStyle.Render("DDoS"), humanize.Comma(s.Tally.DDoS),
		tallyBar(s.Tally.Normal, s.Tally.DDoS, 30),
	)

	spark := max(10, m.width-30)
	lines := []string{
		seriesLine("score", s.AnomalyScores, spark, "%.3f"),
		seriesLine("count", s.RequestCounts, spark, "%.0f"),
		seriesLine("rate", s.RequestRates, spark, "%.1f/s"),
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")

	for i, n := range s.Notices {
		if i == 3 {
			break
		}
		b.WriteString(errStyle.Render("ERROR: "+n.Message) + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("ERROR: "+m.err.Error()) + "\n")
	} else if m.status != "" {
		b.WriteString(dimStyle.Render(m.status) + "\n")
	}

	b.WriteString(m.help.View(keys))
	return b.String()
}

func seriesLine(name string, points []series.Point, width int, format string) string {
	last := "-"
	if len(points) > 0 {
		last = fmt.Sprintf(format, points[len(points)-1].Value)
	}
	return fmt.Sprintf("%-6s %s %s", name, sparkline(points, width), dimStyle.Render(last))
}

func tallyBar(normal, ddos int64, width int) string {
	total := normal + ddos
	if total == 0 {
		return dimStyle.Render(strings.Repeat("·", width))
	}
	n := int(float64(normal) / float64(total) * float64(width))
	return okStyle.Render(strings.Repeat("█", n)) + errStyle.Render(strings.Repeat("█", width-n))
}
