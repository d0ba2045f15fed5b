// Package theme provides the Lip Gloss color palette and reusable styles
// for the console TUI. It is a leaf package with no internal imports to
// avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorDisconnected  = lipgloss.Color("#6b7280")
	ColorConnecting    = lipgloss.Color("#d97706")
	ColorConnected     = lipgloss.Color("#2563eb")
	ColorStreaming     = lipgloss.Color("#22c55e")
	ColorDisconnecting = lipgloss.Color("#854d0e")
)

// Verdict colors.
var (
	ColorPass = lipgloss.Color("#16a34a")
	ColorFail = lipgloss.Color("#dc2626")
)

// Notice level colors.
var (
	ColorInfo  = lipgloss.Color("#2563eb")
	ColorWarn  = lipgloss.Color("#d97706")
	ColorError = lipgloss.Color("#dc2626")
	ColorFatal = lipgloss.Color("#a855f7")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "disconnected":
		return ColorDisconnected
	case "connecting":
		return ColorConnecting
	case "connected":
		return ColorConnected
	case "streaming":
		return ColorStreaming
	case "disconnecting":
		return ColorDisconnecting
	default:
		return ColorDefault
	}
}

// StateGlyph returns a Unicode glyph for a session state name.
func StateGlyph(state string) string {
	switch state {
	case "disconnected":
		return "○"
	case "connecting", "disconnecting":
		return "◌"
	case "connected":
		return "●"
	case "streaming":
		return "●>"
	default:
		return "·"
	}
}

// VerdictColor returns the color for a verdict name.
func VerdictColor(verdict string) lipgloss.Color {
	switch verdict {
	case "pass":
		return ColorPass
	case "fail":
		return ColorFail
	default:
		return ColorDimmed
	}
}

// LevelColor returns the color for a notice level.
func LevelColor(level string) lipgloss.Color {
	switch level {
	case "info":
		return ColorInfo
	case "warn":
		return ColorWarn
	case "error":
		return ColorError
	case "fatal":
		return ColorFatal
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)

// Panel is the double-bordered frame used for overlays.
func Panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorBorder)
}
