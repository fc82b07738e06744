package ui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	ColorGreen  = lipgloss.Color("#a6e3a1")
	ColorYellow = lipgloss.Color("#f9e2af")
	ColorRed    = lipgloss.Color("#f38ba8")
	ColorMuted  = lipgloss.Color("#5a6278")
)

var (
	styleDone    = lipgloss.NewStyle().Foreground(ColorGreen)
	styleSkipped = lipgloss.NewStyle().Foreground(ColorMuted)
	styleRetry   = lipgloss.NewStyle().Foreground(ColorYellow)
	styleError   = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
)

// ErrorLine renders msg highlighted as an error.
func ErrorLine(msg string) string { return styleError.Render(msg) }
