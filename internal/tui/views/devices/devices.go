// Package devices renders the discovered device list with a cursor.
package devices

import (
	"slices"

	"github.com/charmbracelet/lipgloss"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
)

type Model struct {
	IDs      []string
	Selected string
	Cursor   int
}

func New() Model {
	return Model{}
}

// Set replaces the list. The cursor follows the selected device when
// there is one, and is clamped otherwise.
func (m *Model) Set(d client.Devices) {
	m.IDs = slices.Clone(d.IDs)
	m.Selected = d.Selected
	if i := slices.Index(m.IDs, d.Selected); i >= 0 && d.Selected != "" {
		m.Cursor = i
	}
	m.clamp()
}

func (m *Model) Next() {
	if len(m.IDs) > 0 {
		m.Cursor = (m.Cursor + 1) % len(m.IDs)
	}
}

func (m *Model) Prev() {
	if len(m.IDs) > 0 {
		m.Cursor = (m.Cursor - 1 + len(m.IDs)) % len(m.IDs)
	}
}

// Current returns the id under the cursor.
func (m Model) Current() (string, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.IDs) {
		return "", false
	}
	return m.IDs[m.Cursor], true
}

func (m *Model) clamp() {
	if m.Cursor >= len(m.IDs) {
		m.Cursor = len(m.IDs) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
}

func (m Model) View(width int) string {
	lines := []string{theme.StyleHeader.Render("DEVICES")}
	if len(m.IDs) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  none found (s to search)"))
	}
	for i, id := range m.IDs {
		prefix := "  "
		if i == m.Cursor {
			prefix = "> "
		}
		mark := "  "
		style := lipgloss.NewStyle()
		if id == m.Selected {
			mark = "* "
			style = theme.StyleSelected
		}
		lines = append(lines, prefix+mark+style.Render(id))
	}
	return lipgloss.NewStyle().Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
