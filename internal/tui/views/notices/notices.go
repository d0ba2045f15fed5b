// Package notices provides a scrollable overlay of operator notices and
// client-side errors.
package notices

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
)

const maxEntries = 200

type Model struct {
	Entries []client.Notice
	Offset  int // scroll offset from the bottom
}

func New() Model {
	return Model{}
}

// Add appends n, stamping it when the daemon did not, and resets the
// scroll to the newest entry.
func (m *Model) Add(n client.Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	m.Entries = append(m.Entries, n)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Last returns the newest notice.
func (m Model) Last() (client.Notice, bool) {
	if len(m.Entries) == 0 {
		return client.Notice{}, false
	}
	return m.Entries[len(m.Entries)-1], true
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visibleLines := max(height-6, 3)

	title := theme.StyleHeader.Render(" NOTICES ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Nothing to report.")
		return theme.Panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visibleLines, 0)

	var lines []string
	for _, n := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(n.At.Format("15:04:05.000"))
		level := lipgloss.NewStyle().Foreground(theme.LevelColor(n.Level)).Width(5).Render(n.Level)
		text := n.Text
		if n.Code != "" {
			text = fmt.Sprintf("[%s] %s", n.Code, text)
		}
		if len(text) > innerW-20 && innerW > 23 {
			text = text[:innerW-23] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, level, text))
	}

	body := strings.Join(lines, "\n")
	more := ""
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	return theme.Panel(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, body, more, help))
}
