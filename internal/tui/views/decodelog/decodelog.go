// Package decodelog shows the last verdict, pass/fail counters and a
// scrollable log of decoded codes.
package decodelog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
)

const maxEntries = 500

type Entry struct {
	Seq     uint64
	Code    string
	Verdict client.Verdict
}

type Model struct {
	Entries     []Entry
	Counters    client.Counters
	LastVerdict client.Verdict

	viewport viewport.Model
}

func New() Model {
	return Model{viewport: viewport.New(40, 8)}
}

// Add appends live records. Each record carries the counters after it, so
// the last one wins.
func (m *Model) Add(records []client.DecodeRecord) {
	if len(records) == 0 {
		return
	}
	for _, r := range records {
		m.Entries = append(m.Entries, Entry{Seq: r.Seq, Code: r.Code, Verdict: r.Verdict})
	}
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	last := records[len(records)-1]
	m.Counters = last.Counters
	m.LastVerdict = last.Verdict
	m.refresh(true)
}

// Sync applies a snapshot. The log is replaced only when the snapshot's
// counters differ from ours, which means records were missed; otherwise
// the verdicts already held are kept.
func (m *Model) Sync(counters client.Counters, last client.Verdict, log []string) {
	if counters == m.Counters && len(m.Entries) > 0 {
		return
	}
	m.Entries = m.Entries[:0]
	for _, code := range log {
		m.Entries = append(m.Entries, Entry{Code: code, Verdict: client.VerdictNone})
	}
	m.Counters = counters
	m.LastVerdict = last
	m.refresh(true)
}

func (m *Model) SetSize(width, height int) {
	m.viewport.Width = width
	m.viewport.Height = max(1, height-3)
	m.refresh(m.viewport.AtBottom())
}

func (m *Model) ScrollUp(n int) {
	m.viewport.LineUp(n)
}

func (m *Model) ScrollDown(n int) {
	m.viewport.LineDown(n)
}

func (m *Model) refresh(follow bool) {
	lines := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		lines = append(lines, renderEntry(e))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

func renderEntry(e Entry) string {
	tag := "    "
	if label := e.Verdict.Label(); label != "" {
		tag = lipgloss.NewStyle().Foreground(theme.VerdictColor(string(e.Verdict))).Render(label)
	}
	seq := "     "
	if e.Seq > 0 {
		seq = fmt.Sprintf("%5d", e.Seq)
	}
	return theme.StyleDimmed.Render(seq) + " " + tag + " " + e.Code
}

// Verdict renders the last verdict in large type: PASS green, FAIL red.
func (m Model) Verdict() string {
	label := m.LastVerdict.Label()
	if label == "" {
		return theme.StyleDimmed.Render("  ----  ")
	}
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 2).
		Foreground(theme.ColorBright).
		Background(theme.VerdictColor(string(m.LastVerdict))).
		Render(label)
}

func (m Model) View() string {
	counters := fmt.Sprintf("%s %d   %s %d   total %d",
		lipgloss.NewStyle().Foreground(theme.ColorPass).Render("pass"), m.Counters.Pass,
		lipgloss.NewStyle().Foreground(theme.ColorFail).Render("fail"), m.Counters.Fail,
		m.Counters.Total(),
	)
	header := lipgloss.JoinHorizontal(lipgloss.Center, m.Verdict(), "  ", counters)
	return lipgloss.JoinVertical(lipgloss.Left,
		theme.StyleHeader.Render("DECODE"),
		header,
		m.viewport.View(),
	)
}
