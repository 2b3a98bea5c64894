// Package components provides small reusable TUI pieces.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/drewfead/vigil/internal/tui"
)

// ProgressBar renders a horizontal bar for completed/total counts.
type ProgressBar struct {
	Current   int
	Max       int
	Width     int
	Color     lipgloss.Color
	ShowValue bool
}

// NewProgressBar creates a progress bar with default settings.
func NewProgressBar(current, max int) *ProgressBar {
	return &ProgressBar{
		Current: current,
		Max:     max,
		Width:   10,
		Color:   tui.ColorWorking,
	}
}

// WithWidth sets the bar width in cells.
func (p *ProgressBar) WithWidth(w int) *ProgressBar {
	p.Width = w
	return p
}

// WithColor sets the fill color.
func (p *ProgressBar) WithColor(c lipgloss.Color) *ProgressBar {
	p.Color = c
	return p
}

// WithShowValue appends "current/max" after the bar.
func (p *ProgressBar) WithShowValue(show bool) *ProgressBar {
	p.ShowValue = show
	return p
}

// Filled is the number of filled cells.
func (p *ProgressBar) Filled() int {
	if p.Max <= 0 || p.Width <= 0 {
		return 0
	}
	pct := float64(p.Current) / float64(p.Max)
	if pct > 1 {
		pct = 1
	}
	if pct < 0 {
		pct = 0
	}
	return int(pct * float64(p.Width))
}

// Render returns the styled progress bar string.
func (p *ProgressBar) Render() string {
	emptyStyle := lipgloss.NewStyle().Foreground(tui.ColorFgMuted)
	if p.Max <= 0 {
		return emptyStyle.Render(strings.Repeat("░", p.Width))
	}

	filled := p.Filled()
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Foreground(p.Color).Render(strings.Repeat("█", filled)))
	sb.WriteString(emptyStyle.Render(strings.Repeat("░", p.Width-filled)))
	if p.ShowValue {
		sb.WriteString(tui.StyleMuted.Render(fmt.Sprintf(" %d/%d", p.Current, p.Max)))
	}
	return sb.String()
}
