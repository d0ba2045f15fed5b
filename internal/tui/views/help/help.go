// Package help renders the key reference overlay from Markdown.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/glamour"

	"github.com/hf1860/console/internal/tui/theme"
)

const intro = `# Scanner console

Pick a device, connect, then watch the live view and decode results.
A read **passes** when the decoded code is longer than 20 characters.
`

type Model struct {
	// Style is a glamour standard style name ("dark", "light", "ascii").
	Style string

	// Shared by copies so the Bubble Tea value model keeps the cache.
	cache *rendered
}

type rendered struct {
	out   string
	width int
}

func New(style string) Model {
	return Model{Style: style, cache: &rendered{}}
}

// Markdown builds the help document for bindings.
func Markdown(bindings []key.Binding) string {
	var sb strings.Builder
	sb.WriteString(intro)
	sb.WriteString("\n## Keys\n\n")
	for _, b := range bindings {
		h := b.Help()
		if h.Key == "" {
			continue
		}
		fmt.Fprintf(&sb, "- `%s` %s\n", h.Key, h.Desc)
	}
	return sb.String()
}

// Render returns the rendered document, reusing the last render when the
// width has not changed.
func (m Model) Render(bindings []key.Binding, width int) (string, error) {
	if m.cache != nil && m.cache.out != "" && m.cache.width == width {
		return m.cache.out, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.Style),
		glamour.WithWordWrap(max(width-8, 20)),
	)
	if err != nil {
		return "", err
	}
	out, err := r.Render(Markdown(bindings))
	if err != nil {
		return "", err
	}
	if m.cache != nil {
		m.cache.out = out
		m.cache.width = width
	}
	return out, nil
}

// View renders the overlay, falling back to raw Markdown when glamour fails.
func (m Model) View(bindings []key.Binding, width int) string {
	out, err := m.Render(bindings, width)
	if err != nil {
		out = Markdown(bindings)
	}
	footer := theme.StyleDimmed.Render("esc:close")
	return theme.Panel(max(width-4, 20)).Render(strings.TrimRight(out, "\n") + "\n\n" + footer)
}
