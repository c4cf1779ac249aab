// Package ui holds the terminal styles shared by the CLI commands.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// Colors
	Accent  = lipgloss.Color("#7C3AED") // Purple
	Success = lipgloss.Color("#10B981") // Green
	Muted   = lipgloss.Color("#6B7280") // Gray
	Warning = lipgloss.Color("#F59E0B") // Amber
	Danger  = lipgloss.Color("#EF4444") // Red

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Accent)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarnStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Danger).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	DoneMark    = SuccessStyle.Render("✓")
	PendingMark = MutedStyle.Render("○")
	ActiveMark  = WarnStyle.Render("◐")
	ExpiredMark = MutedStyle.Render("✗")
)

// Plain reports whether styled output should be suppressed; set when the
// terminal does not support color.
func Plain() bool {
	return termenv.EnvColorProfile() == termenv.Ascii
}

// Title renders a section heading.
func Title(s string) string {
	if Plain() {
		return s
	}
	return TitleStyle.Render(s)
}

// Pass renders a success line.
func Pass(s string) string {
	if Plain() {
		return s
	}
	return SuccessStyle.Render(s)
}

// Warn renders a warning line.
func Warn(s string) string {
	if Plain() {
		return s
	}
	return WarnStyle.Render(s)
}

// Fail renders an error line.
func Fail(s string) string {
	if Plain() {
		return s
	}
	return ErrorStyle.Render(s)
}

// Dim renders secondary detail.
func Dim(s string) string {
	if Plain() {
		return s
	}
	return MutedStyle.Render(s)
}
