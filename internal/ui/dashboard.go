package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status represents the dashboard state
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopping
	StatusStopped
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusRunning:
		return "Running"
	case StatusStopping:
		return "Stopping"
	case StatusStopped:
		return "Stopped"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// LogEntry represents an activity log line
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Dashboard is the live run model
type Dashboard struct {
	width  int
	height int

	status    Status
	stats     *Stats
	statsView *StatsView
	progress  *ProgressView

	logs    []LogEntry
	maxLogs int

	limit int
	stop  func()
	err   error
}

// NewDashboard creates a dashboard. stop is called when the user quits
// before the run is over; it may be nil.
func NewDashboard(limit int, stop func()) *Dashboard {
	return &Dashboard{
		width:     80,
		height:    24,
		status:    StatusIdle,
		stats:     NewStats(),
		statsView: NewStatsView(40, 15),
		progress:  NewProgressView(70),
		logs:      make([]LogEntry, 0, 64),
		maxLogs:   50,
		limit:     limit,
		stop:      stop,
	}
}

// AddLog adds a log entry
func (d *Dashboard) AddLog(level, message string) {
	d.logs = append(d.logs, LogEntry{Time: time.Now(), Level: level, Message: message})
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
}

// Stats returns the live statistics
func (d *Dashboard) Stats() *Stats {
	return d.stats
}

// Status returns the current state
func (d *Dashboard) Status() Status {
	return d.status
}

// Err returns the run error reported by DoneMsg
func (d *Dashboard) Err() error {
	return d.err
}

// --- Bubbletea Model interface ---

// TickMsg is sent on each animation tick
type TickMsg time.Time

// Init initializes the model
func (d *Dashboard) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if d.status == StatusRunning || d.status == StatusIdle {
				d.status = StatusStopping
				d.AddLog("INFO", "stopping run")
				if d.stop != nil {
					d.stop()
				}
				return d, nil
			}
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.statsView.SetSize(d.width/3, d.height-10)
		d.progress.SetSize(d.width - 4)

	case TickMsg:
		d.progress.Update(d.stats.Snapshot())
		return d, tickCmd()

	case StartedMsg:
		d.status = StatusRunning
		d.stats.Begin(msg.Test, msg.Seed, msg.Start, msg.Total, d.limit)
		d.AddLog("INFO", fmt.Sprintf("test %s started with seed %d", msg.Test, msg.Seed))

	case IterationMsg:
		d.stats.RecordIteration(msg.Index, msg.Control, msg.Err != nil)
		if msg.Err != nil {
			d.AddLog("WARN", fmt.Sprintf("iteration %d: %v", msg.Index, msg.Err))
		}

	case FaultMsg:
		d.stats.RecordFault()
		d.AddLog("ERROR", fmt.Sprintf("fault at iteration %d: %s", msg.Iteration, msg.Title))

	case ReproducedMsg:
		if msg.Reproduced {
			d.stats.RecordReproduction()
			d.AddLog("ERROR", fmt.Sprintf("fault at iteration %d reproduced", msg.Iteration))
		} else {
			d.AddLog("INFO", fmt.Sprintf("fault at iteration %d did not reproduce", msg.Iteration))
		}

	case DoneMsg:
		d.err = msg.Err
		d.progress.Stop()
		if d.status == StatusStopping {
			d.status = StatusStopped
		} else {
			d.status = StatusCompleted
		}
		return d, tea.Quit
	}

	return d, nil
}

// View renders the dashboard
func (d *Dashboard) View() string {
	if d.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(d.renderHeader())
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, d.statsView.Render(d.stats.Snapshot()), d.renderLogPanel()))
	b.WriteString("\n")
	b.WriteString(d.progress.Render())
	b.WriteString("\n")
	b.WriteString(d.renderFooter())
	return b.String()
}

func (d *Dashboard) renderHeader() string {
	title := titleStyle.Render("fluxcore")

	var status string
	switch d.status {
	case StatusRunning:
		status = okStyle.Render("● RUNNING")
	case StatusStopping:
		status = warnStyle.Render("◌ STOPPING")
	case StatusStopped:
		status = badStyle.Render("■ STOPPED")
	case StatusCompleted:
		status = okStyle.Render("✓ COMPLETED")
	default:
		status = dimStyle.Render("○ IDLE")
	}

	left := title + "  " + status
	right := ""
	if t := d.stats.Snapshot().Test; t != "" {
		right = labelStyle.Render("Test: ") + accentStyle.Render(t)
	}
	padding := max(d.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)

	return headerBox.Width(d.width - 2).Render(left + strings.Repeat(" ", padding) + right)
}

func (d *Dashboard) renderLogPanel() string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Activity"))
	b.WriteString("\n\n")

	start := max(len(d.logs)-8, 0)
	limit := d.width/2 - 10
	for _, e := range d.logs[start:] {
		var style lipgloss.Style
		switch e.Level {
		case "ERROR":
			style = badStyle
		case "WARN":
			style = warnStyle
		case "INFO":
			style = accentStyle
		default:
			style = dimStyle
		}

		msg := e.Message
		if limit > 3 && len(msg) > limit {
			msg = msg[:limit-3] + "..."
		}
		fmt.Fprintf(&b, "%s %s %s\n", dimStyle.Render(e.Time.Format("15:04:05")), style.Render(fmt.Sprintf("%-5s", e.Level)), msg)
	}

	return activityPanel.Width(d.width/2 - 4).Render(b.String())
}

func (d *Dashboard) renderFooter() string {
	if d.status == StatusRunning {
		return footerStyle.Render(renderHelp("q", "stop run"))
	}
	return footerStyle.Render(renderHelp("q", "quit"))
}
