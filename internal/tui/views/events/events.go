// Package events shows the device's output event configuration.
package events

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
)

type Model struct {
	Data    *client.OutputEvents
	Err     error
	Loading bool
}

func New() Model {
	return Model{}
}

func (m *Model) Start() {
	m.Loading = true
	m.Err = nil
}

func (m *Model) Set(data *client.OutputEvents, err error) {
	m.Loading = false
	m.Data = data
	m.Err = err
}

func (m Model) View(width int) string {
	lines := []string{theme.StyleHeader.Render(" OUTPUT EVENTS "), ""}
	switch {
	case m.Loading:
		lines = append(lines, theme.StyleDimmed.Render("  loading..."))
	case m.Err != nil:
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(m.Err.Error()))
	case m.Data == nil:
		lines = append(lines, theme.StyleDimmed.Render("  nothing loaded"))
	default:
		lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("job %d  pin %d", m.Data.JobID, m.Data.PinIndex)))
		if len(m.Data.Events) == 0 {
			lines = append(lines, "  (none)")
		}
		for i, ev := range m.Data.Events {
			lines = append(lines, fmt.Sprintf("  %2d. %s", i+1, ev))
		}
	}
	lines = append(lines, "", theme.StyleDimmed.Render("o:reload  esc:close"))
	return theme.Panel(max(width-4, 20)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
