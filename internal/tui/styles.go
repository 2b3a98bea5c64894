// Package tui provides the terminal user interface for vigil.
package tui

import "github.com/charmbracelet/lipgloss"

// Tokyo Night inspired color palette
var (
	ColorBg        = lipgloss.Color("#1a1b26")
	ColorBgAlt     = lipgloss.Color("#24283b")
	ColorFg        = lipgloss.Color("#c0caf5")
	ColorFgMuted   = lipgloss.Color("#565f89")
	ColorWorking   = lipgloss.Color("#9ece6a")
	ColorIdle      = lipgloss.Color("#7aa2f7")
	ColorError     = lipgloss.Color("#f7768e")
	ColorPending   = lipgloss.Color("#e0af68")
	ColorCompleted = lipgloss.Color("#565f89")
	ColorAccent    = lipgloss.Color("#d4a373")
)

// StatusIcons maps session, subagent and task statuses to glyphs.
var StatusIcons = map[string]string{
	"working":     "●",
	"idle":        "○",
	"unknown":     "·",
	"running":     "▶",
	"waiting":     "‖",
	"completed":   "✓",
	"error":       "✗",
	"pending":     "☐",
	"in_progress": "◐",
}

// StatusIcon returns the glyph for a status.
func StatusIcon(status string) string {
	if icon, ok := StatusIcons[status]; ok {
		return icon
	}
	return "·"
}

// StatusColor returns the color for a given status
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "working", "running", "in_progress":
		return ColorWorking
	case "idle":
		return ColorIdle
	case "error":
		return ColorError
	case "pending", "waiting":
		return ColorPending
	case "completed":
		return ColorCompleted
	default:
		return ColorFgMuted
	}
}

// Common styles
var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorFg).
			Bold(true)

	StyleHeader = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			Bold(true)

	StyleSelected = lipgloss.NewStyle().
			Background(ColorBgAlt).
			Foreground(ColorFg)

	StyleNormal = lipgloss.NewStyle().
			Foreground(ColorFg)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorFgMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(ColorAccent)

	StyleHelp = lipgloss.NewStyle().
			Foreground(ColorFgMuted).
			MarginTop(1)

	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorFgMuted).
			Padding(0, 1)
)

// StatusStyle returns styled text for a status
func StatusStyle(status string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StatusColor(status))
}

// Logo returns the wordmark shown in the header.
func Logo() string {
	return StyleAccent.Render("◉ vigil")
}
