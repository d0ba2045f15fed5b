package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Search   key.Binding
	Up       key.Binding
	Down     key.Binding
	Enter    key.Binding
	Connect  key.Binding
	LiveView key.Binding
	Delay    key.Binding
	Events   key.Binding
	Notices  key.Binding
	Resync   key.Binding
	Help     key.Binding
	Escape   key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Search: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "search for devices"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "previous device"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next device"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select device under cursor"),
		),
		Connect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "connect / disconnect"),
		),
		LiveView: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "live view on / off"),
		),
		Delay: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "edit output delay"),
		),
		Events: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "output events"),
		),
		Notices: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "notices"),
		),
		Resync: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "resync"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Bindings lists the bindings shown in help, in display order.
func (k KeyMap) Bindings() []key.Binding {
	return []key.Binding{
		k.Search, k.Up, k.Down, k.Enter, k.Connect, k.LiveView,
		k.Delay, k.Events, k.Notices, k.Resync, k.Help, k.Escape, k.Quit,
	}
}
