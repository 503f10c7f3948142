package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/plugin"
)

// Process starts the target and reports a fault when it exits during an
// iteration. The process is restarted before the next iteration.
type Process struct {
	executable string
	args       []string
	settle     time.Duration

	mu  sync.Mutex
	run *instance
}

// instance is one started copy of the target
type instance struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// NewProcess creates a Process monitor
func NewProcess(executable string, args []string, settle time.Duration) (*Process, error) {
	if executable == "" {
		return nil, errdefs.Config("monitor Process", "missing required parameter %q", "Executable")
	}
	return &Process{executable: executable, args: args, settle: settle}, nil
}

// start launches the target, p.mu must be held
func (p *Process) start() error {
	cmd := exec.Command(p.executable, p.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.executable, err)
	}

	r := &instance{cmd: cmd, done: make(chan struct{})}
	go func() {
		r.err = cmd.Wait()
		close(r.done)
	}()
	p.run = r

	if p.settle > 0 {
		time.Sleep(p.settle)
	}
	return nil
}

// exited reports whether the current instance is gone, p.mu must be held
func (p *Process) exited() (bool, error) {
	if p.run == nil {
		return true, nil
	}
	select {
	case <-p.run.done:
		return true, p.run.err
	default:
		return false, nil
	}
}

// SessionStarting starts the target
func (p *Process) SessionStarting(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start()
}

// IterationStarting restarts the target if it is not running
func (p *Process) IterationStarting(ctx context.Context, it *engine.Iteration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gone, _ := p.exited(); !gone {
		return nil
	}
	return p.start()
}

// IterationFinished reports a fault when the target is no longer running
func (p *Process) IterationFinished(ctx context.Context, it *engine.Iteration) (*engine.Fault, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	gone, err := p.exited()
	if !gone {
		return nil, nil
	}
	desc := "exited"
	if err != nil {
		desc = err.Error()
	}
	return &engine.Fault{
		Title:       "process exited",
		Description: fmt.Sprintf("%s: %s", p.executable, desc),
	}, nil
}

// SessionFinished kills the target
func (p *Process) SessionFinished(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gone, _ := p.exited(); gone {
		return nil
	}
	if err := p.run.cmd.Process.Kill(); err != nil {
		return err
	}
	<-p.run.done
	return nil
}

func init() {
	Registry.Register(plugin.Spec[Monitor]{
		Name:        "Process",
		Description: "Run the target and report when it exits",
		Params: []plugin.Parameter{
			{Name: "Executable", Type: plugin.TypeString, Required: true, Description: "Program to run"},
			{Name: "Arguments", Type: plugin.TypeString, Description: "Space separated arguments"},
			{Name: "StartWait", Type: plugin.TypeDuration, Default: "0", Description: "Delay after starting the program"},
		},
		New: func(args plugin.Args) (Monitor, error) {
			return NewProcess(args.String("Executable"), strings.Fields(args.String("Arguments")), args.Duration("StartWait"))
		},
	})
}
