package help

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/key"
)

func bindings() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "search for devices")),
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect / disconnect")),
		key.NewBinding(key.WithKeys("x")),
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(bindings())
	if !strings.Contains(md, "- `s` search for devices") {
		t.Errorf("missing search binding:\n%s", md)
	}
	if strings.Count(md, "\n- ") != 2 {
		t.Errorf("bindings without help text should be skipped:\n%s", md)
	}
}

func TestRenderCachesPerWidth(t *testing.T) {
	m := New("ascii")
	out, err := m.Render(bindings(), 80)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "search for devices") {
		t.Errorf("rendered help missing binding:\n%s", out)
	}

	m.cache.out = "cached"
	if again, _ := m.Render(bindings(), 80); again != "cached" {
		t.Error("same width should reuse the previous render")
	}
	if other, _ := m.Render(bindings(), 100); other == "cached" {
		t.Error("a new width should re-render")
	}
}

func TestViewFallsBackToMarkdown(t *testing.T) {
	m := New("no-such-style")
	v := m.View(bindings(), 80)
	if !strings.Contains(v, "search for devices") || !strings.Contains(v, "esc:close") {
		t.Errorf("fallback view incomplete:\n%s", v)
	}
}
