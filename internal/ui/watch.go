package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
)

// StartedMsg is sent when a test starts
type StartedMsg struct {
	Test  string
	Seed  int64
	Start int
	Total int
}

// IterationMsg is sent after every iteration
type IterationMsg struct {
	Index   int
	Control bool
	Err     error
}

// FaultMsg is sent when a fault is detected
type FaultMsg struct {
	Iteration int
	Title     string
}

// ReproducedMsg is sent when a reproduction attempt finishes
type ReproducedMsg struct {
	Iteration  int
	Reproduced bool
}

// DoneMsg is sent when the run returns
type DoneMsg struct {
	Err error
}

// Sender is satisfied by *tea.Program
type Sender interface {
	Send(msg tea.Msg)
}

// Listener forwards engine notifications to a bubbletea program
type Listener struct {
	engine.NopListener
	out Sender
}

// NewListener creates a Listener sending to out
func NewListener(out Sender) *Listener {
	return &Listener{out: out}
}

func (l *Listener) TestStarting(info *engine.RunInfo) {
	l.out.Send(StartedMsg{Test: info.Test, Seed: info.Seed, Start: info.Start, Total: info.Total})
}

func (l *Listener) IterationFinished(it *engine.Iteration, res *engine.IterationResult) {
	if it.Reproduction {
		return
	}
	l.out.Send(IterationMsg{Index: it.Index, Control: it.Control, Err: res.Err})
}

func (l *Listener) FaultDetected(it *engine.Iteration, rec *engine.FaultRecord) {
	l.out.Send(FaultMsg{Iteration: rec.Iteration, Title: rec.Fault.Title})
}

func (l *Listener) ReproductionFinished(it *engine.Iteration, rec *engine.FaultRecord) {
	l.out.Send(ReproducedMsg{Iteration: rec.Iteration, Reproduced: rec.Reproduced})
}

// Watch runs fn while showing the dashboard. Quitting the dashboard cancels
// the context passed to fn; Watch returns once fn has returned.
func Watch(ctx context.Context, limit int, fn func(ctx context.Context, l engine.Listener) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := NewDashboard(limit, cancel)
	p := tea.NewProgram(d, opts...)

	done := make(chan error, 1)
	go func() {
		err := fn(ctx, NewListener(p))
		p.Send(DoneMsg{Err: err})
		done <- err
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return err
	}
	cancel()
	return <-done
}
