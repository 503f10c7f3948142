package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
)

// RenderSummary renders a finished run for the terminal
func RenderSummary(s *engine.Summary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("fluxcore " + s.Test))
	b.WriteString("\n\n")
	b.WriteString(renderField("Run", s.RunID.String()))
	b.WriteString("\n")
	b.WriteString(renderField("Seed", fmt.Sprintf("%d", s.Seed)))
	b.WriteString("\n")
	b.WriteString(renderField("Iterations", fmt.Sprintf("%d", s.Iterations)))
	b.WriteString("\n")
	b.WriteString(renderField("Controls", fmt.Sprintf("%d", s.Controls)))
	b.WriteString("\n")
	b.WriteString(renderField("Failures", fmt.Sprintf("%d", s.Failures)))
	b.WriteString("\n")
	b.WriteString(renderField("Elapsed", formatDuration(s.Finished.Sub(s.Started))))
	b.WriteString("\n")

	switch {
	case s.Stopped:
		b.WriteString(renderLabel("Outcome") + " " + badStyle.Render("stopped"))
	case s.Exhausted:
		b.WriteString(renderLabel("Outcome") + " " + okStyle.Render("exhausted"))
	default:
		b.WriteString(renderLabel("Outcome") + " " + okStyle.Render("completed"))
	}
	b.WriteString("\n\n")

	if len(s.Faults) == 0 {
		b.WriteString(okStyle.Render("No faults detected"))
	} else {
		b.WriteString(badStyle.Render(fmt.Sprintf("%d faults, %d reproduced", len(s.Faults), s.Reproduced())))
		for _, f := range s.Faults {
			style := transientStyle
			if f.Reproduced {
				style = badStyle
			}
			b.WriteString("\n  ")
			b.WriteString(style.Render(fmt.Sprintf("#%d %s", f.Iteration, f.Fault.Title)))
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorHighlight).
		Padding(1, 2).
		Render(b.String())
}
