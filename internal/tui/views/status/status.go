package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Linked      bool
	Initialized bool
	InitError   string
	Session     client.Session
	Notice      *client.Notice
	Width       int
}

// New creates a status bar model.
func New() Model {
	return Model{Session: client.Session{State: client.StateDisconnected}}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var linkStr string
	if m.Linked {
		linkStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Linked")
	} else {
		linkStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	parts := []string{linkStr}

	if m.InitError != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("SDK: "+m.InitError))
	} else if m.Linked && !m.Initialized {
		parts = append(parts, theme.StyleDimmed.Render("SDK: not initialised"))
	}

	state := string(m.Session.State)
	if state == "" {
		state = string(client.StateDisconnected)
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(theme.StateColor(state)).Render(
		fmt.Sprintf("%s %s", theme.StateGlyph(state), state),
	))

	device := m.Session.Device
	if device == "" {
		device = "-"
	}
	parts = append(parts, "device: "+device)
	parts = append(parts, "delay: "+m.delay())

	if m.Notice != nil {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.LevelColor(m.Notice.Level)).Render(m.Notice.Text))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := strings.Join(parts, sep)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) delay() string {
	if !m.Session.State.IsConnected() || !m.Session.OutputDelayKnown {
		return "-"
	}
	return fmt.Sprintf("%d ms", m.Session.OutputDelay)
}
