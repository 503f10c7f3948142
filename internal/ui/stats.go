package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stats holds live run statistics
type Stats struct {
	mu sync.RWMutex

	Test  string
	Seed  int64
	Start int
	Total int // mutation space, -1 when unbounded
	Limit int // configured iteration count, 0 for none

	Current    int
	Iterations int64
	Controls   int64
	Failures   int64
	Faults     int64
	Reproduced int64

	StartTime time.Time
	now       func() time.Time
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{StartTime: time.Now(), Total: -1, now: time.Now}
}

// Begin resets the statistics for a new run
func (s *Stats) Begin(test string, seed int64, start, total, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Test, s.Seed = test, seed
	s.Start, s.Total, s.Limit = start, total, limit
	s.Current = start - 1
	s.Iterations, s.Controls, s.Failures, s.Faults, s.Reproduced = 0, 0, 0, 0, 0
	s.StartTime = s.now()
}

// RecordIteration records a finished iteration
func (s *Stats) RecordIteration(index int, control, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if control {
		s.Controls++
	} else {
		s.Iterations++
		if index > s.Current {
			s.Current = index
		}
	}
	if failed {
		s.Failures++
	}
}

// RecordFault records a detected fault
func (s *Stats) RecordFault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Faults++
}

// RecordReproduction records a fault that reproduced
func (s *Stats) RecordReproduction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reproduced++
}

// expected returns the iteration count the run is heading for, 0 when unknown
func (s *Stats) expected() int64 {
	switch {
	case s.Limit > 0:
		return int64(s.Limit)
	case s.Total >= 0:
		return int64(s.Total - s.Start + 1)
	default:
		return 0
	}
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := s.now().Sub(s.StartTime)
	snap := StatsSnapshot{
		Test:        s.Test,
		Seed:        s.Seed,
		Current:     s.Current,
		Iterations:  s.Iterations,
		Controls:    s.Controls,
		Failures:    s.Failures,
		Faults:      s.Faults,
		Reproduced:  s.Reproduced,
		Expected:    s.expected(),
		ElapsedTime: elapsed,
	}
	if secs := elapsed.Seconds(); secs >= 1 {
		snap.Rate = float64(s.Iterations+s.Controls) / secs
	}
	if snap.Expected > 0 {
		snap.Progress = float64(s.Iterations) / float64(snap.Expected)
		if snap.Progress > 1 {
			snap.Progress = 1
		}
		if s.Iterations > 0 && snap.Expected > s.Iterations {
			per := elapsed / time.Duration(s.Iterations)
			snap.ETA = per * time.Duration(snap.Expected-s.Iterations)
		}
	}
	return snap
}

// StatsSnapshot is an immutable snapshot of stats
type StatsSnapshot struct {
	Test        string
	Seed        int64
	Current     int
	Iterations  int64
	Controls    int64
	Failures    int64
	Faults      int64
	Reproduced  int64
	Expected    int64
	Progress    float64
	Rate        float64
	ElapsedTime time.Duration
	ETA         time.Duration
}

// StatsView renders the statistics panel
type StatsView struct {
	width  int
	height int
}

// NewStatsView creates a new stats view
func NewStatsView(width, height int) *StatsView {
	return &StatsView{width: width, height: height}
}

// SetSize updates the view size
func (v *StatsView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// Render renders the stats view
func (v *StatsView) Render(snap StatsSnapshot) string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Run"))
	b.WriteString("\n\n")
	b.WriteString(renderField("Test", snap.Test))
	b.WriteString("\n")
	b.WriteString(renderField("Seed", fmt.Sprintf("%d", snap.Seed)))
	b.WriteString("\n")
	b.WriteString(renderField("Iteration", fmt.Sprintf("%d", snap.Current)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Counters"))
	b.WriteString("\n\n")
	b.WriteString(renderField("Iterations", formatNumber(snap.Iterations)))
	b.WriteString("\n")
	b.WriteString(renderField("Controls", formatNumber(snap.Controls)))
	b.WriteString("\n")
	b.WriteString(renderLabel("Failures"))
	b.WriteString(" ")
	b.WriteString(badStyle.Render(formatNumber(snap.Failures)))
	b.WriteString("\n")
	b.WriteString(renderField("Rate", fmt.Sprintf("%.1f/s", snap.Rate)))
	b.WriteString("\n")
	b.WriteString(renderField("Elapsed", formatDuration(snap.ElapsedTime)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Faults"))
	b.WriteString("\n\n")
	b.WriteString(renderField("Detected", formatNumber(snap.Faults)))
	b.WriteString("\n")
	if snap.Faults > 0 {
		b.WriteString("  ")
		b.WriteString(badStyle.Render(fmt.Sprintf("Reproduced: %d", snap.Reproduced)))
		b.WriteString(" | ")
		b.WriteString(transientStyle.Render(fmt.Sprintf("Transient: %d", snap.Faults-snap.Reproduced)))
		b.WriteString("\n")
	}

	return statsPanel.Width(v.width).Render(b.String())
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
