package statemodel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/publisher"
)

// ErrMaxSteps is returned when a state machine runs more actions than allowed
var ErrMaxSteps = errors.New("max steps exceeded (possible infinite loop)")

// Executor runs a state model against the tree of each iteration
type Executor struct {
	model      *Model
	publishers map[string]publisher.Publisher
	order      []string

	maxSteps int
	timeout  time.Duration
}

// ExecutorOption configures the Executor
type ExecutorOption func(*Executor)

// WithMaxSteps sets the maximum number of actions per iteration (loop protection)
func WithMaxSteps(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxSteps = n
	}
}

// WithTimeout bounds one iteration, 0 disables the bound
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates an executor for model over the named publishers.
// Actions without a publisher use the only publisher when exactly one is
// bound.
func NewExecutor(model *Model, pubs map[string]publisher.Publisher, opts ...ExecutorOption) (*Executor, error) {
	if model == nil {
		return nil, errdefs.Config("state model", "no state model")
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		model:      model,
		publishers: pubs,
		maxSteps:   100,
	}
	for name := range pubs {
		e.order = append(e.order, name)
	}
	sort.Strings(e.order)

	for _, opt := range opts {
		opt(e)
	}

	for _, s := range model.States {
		for _, a := range s.Actions {
			if a.Type == ActionChangeState {
				continue
			}
			if _, err := e.publisher(a); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

func (e *Executor) publisher(a Action) (publisher.Publisher, error) {
	subject := "state model " + e.model.Name
	if a.Publisher == "" {
		if len(e.order) != 1 {
			return nil, errdefs.Config(subject, "action %q must name one of %d publishers", a.Name, len(e.order))
		}
		return e.publishers[e.order[0]], nil
	}
	p, ok := e.publishers[a.Publisher]
	if !ok {
		return nil, errdefs.Config(subject, "action %q: publisher %q is not bound", a.Name, a.Publisher)
	}
	return p, nil
}

func (e *Executor) publisherName(a Action) string {
	if a.Publisher == "" && len(e.order) == 1 {
		return e.order[0]
	}
	return a.Publisher
}

// Execute runs the state machine once. Target-side publisher failures are
// reported as a fault; everything else is an iteration error.
func (e *Executor) Execute(ctx context.Context, it *engine.Iteration) (*engine.ExecResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	opened := make([]publisher.Publisher, 0, len(e.order))
	defer func() {
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Close()
		}
	}()
	for _, name := range e.order {
		p := e.publishers[name]
		if err := p.Open(ctx); err != nil {
			if fault := targetFault(name, err); fault != nil {
				return &engine.ExecResult{Fault: fault}, nil
			}
			return nil, fmt.Errorf("open publisher %s: %w", name, err)
		}
		opened = append(opened, p)
	}

	state, _ := e.model.GetState(e.model.InitialState())
	steps := 0
	for idx := 0; idx < len(state.Actions); idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		steps++
		if steps > e.maxSteps {
			return nil, ErrMaxSteps
		}

		a := state.Actions[idx]
		started := time.Now()
		data, err := e.run(ctx, it, a)
		it.ActionFinished(engine.Action{
			Name:     a.Name,
			Type:     string(a.Type),
			State:    state.Name,
			Model:    a.Model,
			Data:     data,
			Duration: time.Since(started),
			Err:      err,
		})
		if err != nil {
			if fault := targetFault(e.publisherName(a), err); fault != nil {
				fault.Data = map[string][]byte{a.Name: data}
				return &engine.ExecResult{Fault: fault}, nil
			}
			return nil, fmt.Errorf("state %s action %s: %w", state.Name, a.Name, err)
		}

		if a.Type == ActionChangeState {
			state, _ = e.model.GetState(a.Target)
			idx = -1
		}
	}
	return &engine.ExecResult{}, nil
}

func (e *Executor) run(ctx context.Context, it *engine.Iteration, a Action) ([]byte, error) {
	switch a.Type {
	case ActionOutput:
		data, err := it.Tree.Value(a.Model)
		if err != nil {
			return nil, err
		}
		p, err := e.publisher(a)
		if err != nil {
			return data, err
		}
		return data, p.Output(ctx, data)

	case ActionInput:
		p, err := e.publisher(a)
		if err != nil {
			return nil, err
		}
		data, err := p.Input(ctx)
		if errors.Is(err, publisher.ErrNoInput) {
			return nil, nil
		}
		return data, err
	}
	return nil, nil
}

func targetFault(source string, err error) *engine.Fault {
	var te *publisher.TargetError
	if !errors.As(err, &te) {
		return nil
	}
	title := "target fault"
	if te.Unreachable {
		title = "target unreachable"
	}
	return &engine.Fault{
		Title:       title,
		Description: te.Error(),
		Source:      source,
	}
}
