package cli

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#7C71F9")
	colorSuccess = lipgloss.Color("#34D399")
	colorError   = lipgloss.Color("#F87171")
	colorDim     = lipgloss.Color("#6B7280")
)

var (
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleName    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
)
