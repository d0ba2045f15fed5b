// Package delay is the output delay editor.
package delay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hf1860/console/internal/tui/theme"
)

// Bounds accepted by the device, in milliseconds.
const (
	MinMS = 0
	MaxMS = 5000
)

var ErrOutOfRange = errors.New("output delay out of range")

type Model struct {
	input textinput.Model
	Err   error
}

func New() Model {
	ti := textinput.New()
	ti.Placeholder = fmt.Sprintf("%d-%d", MinMS, MaxMS)
	ti.CharLimit = 4
	ti.Width = 8
	ti.Prompt = "ms> "
	ti.Validate = func(s string) error {
		for _, r := range s {
			if r < '0' || r > '9' {
				return errors.New("digits only")
			}
		}
		return nil
	}
	return Model{input: ti}
}

// Open focuses the editor prefilled with the current value.
func (m *Model) Open(current int, known bool) tea.Cmd {
	m.Err = nil
	m.input.SetValue("")
	if known {
		m.input.SetValue(strconv.Itoa(current))
	}
	m.input.CursorEnd()
	return m.input.Focus()
}

func (m *Model) Close() {
	m.input.Blur()
}

func (m Model) Focused() bool {
	return m.input.Focused()
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Value parses and range checks the entered delay.
func (m *Model) Value() (int, error) {
	raw := strings.TrimSpace(m.input.Value())
	ms, err := strconv.Atoi(raw)
	if err != nil {
		m.Err = fmt.Errorf("not a number: %q", raw)
		return 0, m.Err
	}
	if ms < MinMS || ms > MaxMS {
		m.Err = fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, ms, MinMS, MaxMS)
		return 0, m.Err
	}
	m.Err = nil
	return ms, nil
}

func (m Model) View(width int) string {
	lines := []string{
		theme.StyleHeader.Render(" OUTPUT DELAY "),
		"",
		m.input.View(),
	}
	if m.Err != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(m.Err.Error()))
	}
	lines = append(lines, "", theme.StyleDimmed.Render("enter:apply  esc:cancel"))
	return theme.Panel(max(width-4, 20)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
