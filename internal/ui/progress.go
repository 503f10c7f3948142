package ui

import (
	"fmt"
	"strings"
)

// ProgressBar represents a progress bar component
type ProgressBar struct {
	width      int
	percentage float64
	eta        string
}

// NewProgressBar creates a new progress bar
func NewProgressBar(width int) *ProgressBar {
	return &ProgressBar{width: width}
}

// SetProgress sets the progress fraction, clamped to [0, 1]
func (p *ProgressBar) SetProgress(percentage float64) {
	p.percentage = min(max(percentage, 0), 1)
}

// SetETA sets the estimated time remaining
func (p *ProgressBar) SetETA(eta string) {
	p.eta = eta
}

// SetWidth sets the progress bar width
func (p *ProgressBar) SetWidth(width int) {
	p.width = width
}

// Render renders the progress bar
func (p *ProgressBar) Render() string {
	var b strings.Builder

	barWidth := max(p.width-10, 10)
	filled := int(float64(barWidth) * p.percentage)

	b.WriteString(barStyle.Render(strings.Repeat("█", filled)))
	b.WriteString(dimStyle.Render(strings.Repeat("░", barWidth-filled)))
	b.WriteString(" ")
	b.WriteString(valueStyle.Render(fmt.Sprintf("%5.1f%%", p.percentage*100)))

	if p.eta != "" {
		b.WriteString(" ")
		b.WriteString(accentStyle.Render("ETA: " + p.eta))
	}
	return b.String()
}

// ProgressView is the progress panel. Runs without a known end show a spinner.
type ProgressView struct {
	width     int
	progress  *ProgressBar
	spinner   *Spinner
	completed int64
	total     int64
}

// NewProgressView creates a new progress view
func NewProgressView(width int) *ProgressView {
	return &ProgressView{
		width:    width,
		progress: NewProgressBar(width - 6),
		spinner:  NewSpinner(),
	}
}

// SetSize updates the view size
func (v *ProgressView) SetSize(width int) {
	v.width = width
	v.progress.SetWidth(width - 6)
}

// Update updates the progress view
func (v *ProgressView) Update(snap StatsSnapshot) {
	v.completed = snap.Iterations
	v.total = snap.Expected
	v.progress.SetProgress(snap.Progress)
	if snap.ETA > 0 {
		v.progress.SetETA(formatDuration(snap.ETA))
	} else {
		v.progress.SetETA("")
	}
	v.spinner.Tick()
}

// Stop freezes the spinner
func (v *ProgressView) Stop() {
	v.spinner.Stop()
}

// Render renders the progress view
func (v *ProgressView) Render() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Progress"))
	b.WriteString("\n\n")

	if v.total > 0 {
		b.WriteString(v.progress.Render())
		b.WriteString("\n\n")
		b.WriteString(renderField("Completed", fmt.Sprintf("%d / %d", v.completed, v.total)))
	} else {
		v.spinner.SetText(fmt.Sprintf("%d iterations", v.completed))
		b.WriteString(v.spinner.Render())
	}

	return progressPanel.Width(v.width).Render(b.String())
}

// Spinner shows indeterminate progress
type Spinner struct {
	frame   int
	text    string
	running bool
}

// NewSpinner creates a running spinner
func NewSpinner() *Spinner {
	return &Spinner{running: true}
}

// SetText sets the spinner text
func (s *Spinner) SetText(text string) {
	s.text = text
}

// Stop stops the spinner
func (s *Spinner) Stop() {
	s.running = false
}

// Tick advances the spinner animation
func (s *Spinner) Tick() {
	if s.running {
		s.frame = (s.frame + 1) % len(spinnerFrames)
	}
}

// Render renders the spinner
func (s *Spinner) Render() string {
	if !s.running {
		return okStyle.Render("✓") + " " + s.text
	}
	return accentStyle.Render(spinnerFrames[s.frame]) + " " + s.text
}
