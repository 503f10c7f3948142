// Package ui provides the terminal views of a fuzzing run: a live bubbletea
// dashboard and a lipgloss summary.
package ui

import "github.com/charmbracelet/lipgloss"

// Palette, named by what the color signals
var (
	colorAccent    = lipgloss.Color("#00FFFF")
	colorHighlight = lipgloss.Color("#FF00FF")
	colorOK        = lipgloss.Color("#00FF00")
	colorWarn      = lipgloss.Color("#FFFF00")
	colorFault     = lipgloss.Color("#FF0055")
	colorTransient = lipgloss.Color("#FF8800")
	colorBar       = lipgloss.Color("#16213E")
	colorDim       = lipgloss.Color("#666666")
	colorBright    = lipgloss.Color("#FFFFFF")
)

// Text styles
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHighlight).Background(colorBar).Padding(0, 2)

	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Background(colorBar).Padding(0, 1).MarginBottom(1)

	labelStyle  = lipgloss.NewStyle().Foreground(colorDim).Width(15)
	valueStyle  = lipgloss.NewStyle().Foreground(colorBright).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(colorAccent)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
	barStyle    = accentStyle

	// okStyle marks a running or completed run, badStyle failures, stops
	// and reproduced faults
	okStyle        = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	warnStyle      = lipgloss.NewStyle().Foreground(colorWarn)
	badStyle       = lipgloss.NewStyle().Foreground(colorFault).Bold(true)
	transientStyle = lipgloss.NewStyle().Foreground(colorTransient)

	keyStyle    = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	footerStyle = dimStyle.MarginTop(1)
)

// Panels
var (
	headerBox = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(colorAccent)

	progressPanel = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(1, 2).MarginRight(1)
	statsPanel    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorHighlight).Padding(1, 2)
	activityPanel = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorOK).Padding(0, 1).Height(10)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func renderLabel(label string) string {
	return labelStyle.Render(label + ":")
}

// renderField renders an aligned "label: value" line
func renderField(label, value string) string {
	return renderLabel(label) + " " + valueStyle.Render(value)
}

func renderHelp(key, description string) string {
	return keyStyle.Render("["+key+"]") + " " + dimStyle.Render(description)
}
