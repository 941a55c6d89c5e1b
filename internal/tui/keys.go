package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	StartNormal key.Binding
	StartDDoS   key.Binding
	Stop        key.Binding
	Neutralize  key.Binding
	Mitigation  key.Binding
	Block       key.Binding
	Up          key.Binding
	Down        key.Binding
	Quit        key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.StartNormal, k.StartDDoS, k.Stop, k.Neutralize, k.Mitigation, k.Block, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.StartNormal, k.StartDDoS, k.Stop, k.Neutralize},
		{k.Mitigation, k.Block, k.Up, k.Down, k.Quit},
	}
}

var keys = keyMap{
	StartNormal: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "normal traffic"),
	),
	StartDDoS: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "ddos traffic"),
	),
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop"),
	),
	Neutralize: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "neutralize"),
	),
	Mitigation: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "mitigation"),
	),
	Block: key.NewBinding(
		key.WithKeys("b"),
		key.WithHelp("b", "block source"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q/ctrl+c", "quit"),
	),
}
