// Package agent runs monitors beside the target: each monitor is told when a
// session and an iteration start and is asked afterwards whether it saw a
// fault. Monitor calls fan out over a worker pool and are awaited before the
// iteration completes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/plugin"
)

// Monitor watches the target for faults
type Monitor interface {
	// SessionStarting runs once before the first iteration
	SessionStarting(ctx context.Context) error

	// IterationStarting runs before the state model of every iteration
	IterationStarting(ctx context.Context, it *engine.Iteration) error

	// IterationFinished returns the fault seen during the iteration, if any
	IterationFinished(ctx context.Context, it *engine.Iteration) (*engine.Fault, error)

	// SessionFinished runs once after the last iteration
	SessionFinished(ctx context.Context) error
}

// Registry holds the monitor classes run definitions can name
var Registry = plugin.NewRegistry[Monitor]("monitor")

type named struct {
	name string
	m    Monitor
}

// Manager fans monitor calls out over a worker pool
type Manager struct {
	pool     *ants.Pool
	monitors []named
}

// ManagerOptions configures the Manager
type ManagerOptions struct {
	Size     int
	PreAlloc bool
}

// DefaultManagerOptions returns sensible defaults
func DefaultManagerOptions() *ManagerOptions {
	return &ManagerOptions{
		Size:     8,
		PreAlloc: false,
	}
}

// NewManager creates a Manager with its own pool
func NewManager(opts *ManagerOptions) (*Manager, error) {
	if opts == nil {
		opts = DefaultManagerOptions()
	}
	pool, err := ants.NewPool(opts.Size, ants.WithPreAlloc(opts.PreAlloc))
	if err != nil {
		return nil, err
	}
	return &Manager{pool: pool}, nil
}

// Add registers a monitor under name. Faults and errors are reported in
// the order monitors were added.
func (mg *Manager) Add(name string, m Monitor) {
	mg.monitors = append(mg.monitors, named{name: name, m: m})
}

// Len returns the number of monitors
func (mg *Manager) Len() int {
	return len(mg.monitors)
}

// fanout runs fn for every monitor on the pool and waits for all of them
func (mg *Manager) fanout(fn func(i int, n named) error) error {
	errs := make([]error, len(mg.monitors))
	var wg sync.WaitGroup

	for i, n := range mg.monitors {
		wg.Add(1)
		if err := mg.pool.Submit(func() {
			defer wg.Done()
			errs[i] = fn(i, n)
		}); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("monitor %s: %w", n.name, err)
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Start notifies every monitor that the session starts
func (mg *Manager) Start(ctx context.Context) error {
	return mg.fanout(func(_ int, n named) error {
		if err := n.m.SessionStarting(ctx); err != nil {
			return fmt.Errorf("monitor %s: %w", n.name, err)
		}
		return nil
	})
}

// Stop notifies every monitor that the session ended and releases the pool
func (mg *Manager) Stop(ctx context.Context) error {
	err := mg.fanout(func(_ int, n named) error {
		if err := n.m.SessionFinished(ctx); err != nil {
			return fmt.Errorf("monitor %s: %w", n.name, err)
		}
		return nil
	})
	mg.pool.Release()
	return err
}

// Release frees the pool of a manager that was never started
func (mg *Manager) Release() {
	mg.pool.Release()
}

// Wrap returns an executor that surrounds exec with the monitors. A fault
// from exec wins over monitor faults; otherwise the first monitor fault in
// registration order is reported.
func (mg *Manager) Wrap(exec engine.Executor) engine.Executor {
	return engine.ExecutorFunc(func(ctx context.Context, it *engine.Iteration) (*engine.ExecResult, error) {
		if err := mg.fanout(func(_ int, n named) error {
			if err := n.m.IterationStarting(ctx, it); err != nil {
				return fmt.Errorf("monitor %s: %w", n.name, err)
			}
			return nil
		}); err != nil {
			return nil, err
		}

		res, execErr := exec.Execute(ctx, it)

		faults := make([]*engine.Fault, len(mg.monitors))
		monErr := mg.fanout(func(i int, n named) error {
			f, err := n.m.IterationFinished(ctx, it)
			if err != nil {
				return fmt.Errorf("monitor %s: %w", n.name, err)
			}
			if f != nil && f.Source == "" {
				f.Source = n.name
			}
			faults[i] = f
			return nil
		})

		if execErr != nil {
			return nil, execErr
		}
		if res == nil {
			res = &engine.ExecResult{}
		}
		if res.Fault == nil {
			for _, f := range faults {
				if f != nil {
					res.Fault = f
					break
				}
			}
		}
		if res.Fault == nil && monErr != nil {
			return nil, monErr
		}
		return res, nil
	})
}
