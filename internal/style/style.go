// Package style centralizes terminal styling: lipgloss styles, status icons,
// and the fixed-width table renderer used by the human-readable commands.
package style

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Pass marks healthy output (low PTY counts, successful kills).
	Pass = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	// Warn marks heavy users and stale data.
	Warn = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	// Fail marks suspected leaks and failures.
	Fail = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	// Muted is for secondary detail like device lists and timestamps.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	// Bold is for headers and emphasis.
	Bold = lipgloss.NewStyle().Bold(true)
)

// DisableColor strips all styling, for --no-color and non-TTY output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// StatusIcon returns a colored glyph for a process health level.
func StatusIcon(level string) string {
	switch level {
	case "ok":
		return Pass.Render("●")
	case "heavy":
		return Warn.Render("●")
	case "leak":
		return Fail.Render("●")
	default:
		return Muted.Render("○")
	}
}

// CountBadge renders a PTY count colored by how it compares to the heavy
// threshold.
func CountBadge(count, heavyThreshold int) string {
	s := fmt.Sprintf("%d", count)
	switch {
	case count > 2*heavyThreshold:
		return Fail.Render(s)
	case count > heavyThreshold:
		return Warn.Render(s)
	default:
		return s
	}
}
