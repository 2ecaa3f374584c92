// Package ui renders macrolog output for the terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB74D"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"}

	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// ConfigureColor disables colors when noColor is set, NO_COLOR is present in
// the environment or stdout is not a terminal.
func ConfigureColor(noColor bool) {
	if noColor || termenv.EnvNoColor() || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsInteractive reports whether stdin is a terminal a form can read from.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// RenderPass renders text in the success color.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders text in the warning color.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders text in the failure color.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders text in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders de-emphasised text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }
