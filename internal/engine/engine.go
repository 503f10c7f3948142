// Package engine runs the iteration loop of one test: reset the tree, ask
// the strategy for a decision, apply it, hand the tree to the executor and
// honor the wait times, confirming every fault with one reproduction.
//
// The engine performs no logging or process management itself; everything
// observable is published to Listeners.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/mutator"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
)

// Executor runs the state model against the tree of one iteration. It
// blocks until the iteration completes.
type Executor interface {
	Execute(ctx context.Context, it *Iteration) (*ExecResult, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, it *Iteration) (*ExecResult, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, it *Iteration) (*ExecResult, error) {
	return f(ctx, it)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine runs one test
type Engine struct {
	test      *Test
	tree      *dom.Tree
	executor  Executor
	strategy  strategy.Strategy
	registry  *mutator.Registry
	listeners listeners
	sleep     Sleeper
	now       func() time.Time

	seed       int64
	start      int
	iterations int
	runID      uuid.UUID

	prepared bool
	active   []mutator.Mutator
}

// Option configures the Engine
type Option func(*Engine)

// WithSeed sets the run seed
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = seed
	}
}

// WithStart sets the first iteration index (default 1)
func WithStart(index int) Option {
	return func(e *Engine) {
		e.start = index
	}
}

// WithIterations limits the number of fuzz iterations, 0 runs until the
// strategy is exhausted or the context is cancelled
func WithIterations(n int) Option {
	return func(e *Engine) {
		e.iterations = n
	}
}

// WithListener registers lifecycle listeners
func WithListener(l ...Listener) Option {
	return func(e *Engine) {
		e.listeners = append(e.listeners, l...)
	}
}

// WithRegistry sets the mutator registry the active set is resolved from
func WithRegistry(r *mutator.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithSleeper replaces the wait implementation
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		e.sleep = s
	}
}

// WithRunID sets the run identifier
func WithRunID(id uuid.UUID) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// New creates an engine for test over tree
func New(test *Test, tree *dom.Tree, exec Executor, strat strategy.Strategy, opts ...Option) (*Engine, error) {
	if test == nil {
		return nil, errdefs.Config("engine", "no test")
	}
	if err := test.Validate(); err != nil {
		return nil, err
	}
	if tree == nil || exec == nil || strat == nil {
		return nil, errdefs.Config(test.Name, "tree, executor and strategy are required")
	}

	e := &Engine{
		test:     test,
		tree:     tree,
		executor: exec,
		strategy: strat,
		registry: mutator.Default(),
		sleep:    sleep,
		now:      time.Now,
		start:    1,
		runID:    uuid.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.start < 1 {
		return nil, errdefs.Config(test.Name, "start iteration must be at least 1")
	}
	if e.iterations < 0 {
		return nil, errdefs.Config(test.Name, "iteration count must not be negative")
	}
	return e, nil
}

// RunID returns the run identifier
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Active returns the resolved mutator set, nil before the run is prepared
func (e *Engine) Active() []mutator.Mutator {
	return e.active
}

// prepare applies the mutability rules, resolves the active mutators and
// binds the strategy. Every error here is a configuration error.
func (e *Engine) prepare() error {
	if e.prepared {
		return nil
	}

	for _, r := range e.test.Mutables {
		if _, err := e.tree.SetMutable(r.Path, r.Allow); err != nil {
			return err
		}
	}

	active, err := e.registry.Active(e.test.IncludedMutators, e.test.ExcludedMutators)
	if err != nil {
		return err
	}
	e.active = active

	if err := e.strategy.Prepare(e.tree, active, e.seed); err != nil {
		return errdefs.WrapConfig(e.test.Name, err)
	}
	e.prepared = true
	return nil
}

func (e *Engine) info() *RunInfo {
	names := make([]string, len(e.active))
	for i, m := range e.active {
		names[i] = m.Name()
	}
	return &RunInfo{
		RunID:    e.runID,
		Test:     e.test.Name,
		Seed:     e.seed,
		Start:    e.start,
		Total:    e.strategy.Total(),
		Strategy: e.strategy.Name(),
		Mutators: names,
	}
}

// Run executes the iteration loop. Configuration errors abort before the
// first iteration; per-iteration failures are counted and the loop goes on
// unless the executor escalates with errdefs.Fatal. Cancelling ctx stops the
// run at the next wait or executor boundary.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if err := e.prepare(); err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:   e.runID,
		Test:    e.test.Name,
		Seed:    e.seed,
		Started: e.now(),
	}
	e.listeners.testStarting(e.info())
	defer func() {
		summary.Finished = e.now()
		e.listeners.testFinished(summary)
	}()

	for index := e.start; e.iterations == 0 || index < e.start+e.iterations; index++ {
		if ctx.Err() != nil {
			summary.Stopped = true
			return summary, nil
		}

		// decisions carry their values, so the control iteration may run
		// between selection and execution
		e.tree.Reset()
		d, err := e.strategy.Next(index)
		if errors.Is(err, strategy.ErrExhausted) {
			summary.Exhausted = true
			return summary, nil
		}

		if e.controlDue(index) {
			summary.Controls++
			stop, cerr := e.iterate(ctx, summary, &strategy.Decision{Index: index}, true)
			if cerr != nil || stop {
				e.strategy.Release()
				return summary, cerr
			}
		}

		summary.Iterations++
		if err != nil {
			// a broken mutator costs one iteration, not the run
			e.fail(index, summary, err)
			e.strategy.Release()
			continue
		}

		stop, err := e.iterate(ctx, summary, d, false)
		e.strategy.Release()
		if err != nil || stop {
			return summary, err
		}
	}
	return summary, nil
}

func (e *Engine) controlDue(index int) bool {
	every := e.test.ControlIterationEvery
	return every > 0 && (index-e.start)%every == 0
}

func (e *Engine) fail(index int, summary *Summary, err error) {
	summary.Failures++
	it := e.newIteration(&strategy.Decision{Index: index}, false, false)
	e.listeners.iterationFinished(it, &IterationResult{Err: err})
}

// iterate runs one fuzz or control iteration and, on a fault, its
// reproduction. stop reports a cancelled context.
func (e *Engine) iterate(ctx context.Context, summary *Summary, d *strategy.Decision, control bool) (stop bool, err error) {
	it := e.newIteration(d, control, false)
	res := e.execute(ctx, it)

	switch {
	case res.Err != nil:
		summary.Failures++
		if errdefs.IsFatal(res.Err) {
			return true, fmt.Errorf("iteration %d: %w", d.Index, res.Err)
		}
		if !res.Applied {
			// the target was never touched
			return ctx.Err() != nil, nil
		}
		return e.wait(ctx, summary, e.test.FaultWaitTime), nil

	case res.Fault != nil:
		rec := &FaultRecord{
			RunID:     e.runID.String(),
			Test:      e.test.Name,
			Seed:      e.seed,
			Iteration: d.Index,
			Control:   control,
			Decision:  d,
			Fault:     res.Fault,
			Time:      e.now(),
		}
		summary.Faults = append(summary.Faults, rec)
		e.listeners.faultDetected(it, rec)

		if e.wait(ctx, summary, e.test.FaultWaitTime) {
			return true, nil
		}
		return e.reproduce(ctx, summary, rec)

	default:
		return e.wait(ctx, summary, e.test.WaitTime), nil
	}
}

// reproduce replays rec's decision once. It does not touch the strategy or
// the iteration counter.
func (e *Engine) reproduce(ctx context.Context, summary *Summary, rec *FaultRecord) (bool, error) {
	it := e.newIteration(rec.Decision, rec.Control, true)
	res := e.execute(ctx, it)

	rec.Reproduced = res.Err == nil && res.Fault != nil
	e.listeners.reproductionFinished(it, rec)

	if res.Err != nil {
		summary.Failures++
		if errdefs.IsFatal(res.Err) {
			return true, fmt.Errorf("reproduction of iteration %d: %w", rec.Iteration, res.Err)
		}
	}
	return ctx.Err() != nil, nil
}

func (e *Engine) newIteration(d *strategy.Decision, control, reproduction bool) *Iteration {
	it := &Iteration{
		RunID:        e.runID,
		Test:         e.test.Name,
		Index:        d.Index,
		Control:      control,
		Reproduction: reproduction,
		Decision:     d,
		Tree:         e.tree,
	}
	it.onAction = func(a Action) {
		e.listeners.actionFinished(it, a)
	}
	return it
}

// execute resets the tree, applies the decision and runs the executor
func (e *Engine) execute(ctx context.Context, it *Iteration) *IterationResult {
	e.listeners.iterationStarting(it)
	started := e.now()
	res := &IterationResult{}

	e.tree.Reset()
	if err := strategy.Apply(e.tree, it.Decision); err != nil {
		res.Err = fmt.Errorf("apply decision: %w", err)
	} else {
		res.Applied = true
		out, err := e.executor.Execute(ctx, it)
		res.Err = err
		if out != nil && err == nil {
			res.Fault = out.Fault
		}
	}

	res.Duration = e.now().Sub(started)
	e.listeners.iterationFinished(it, res)
	return res
}

// wait sleeps for d and reports whether the run was cancelled meanwhile
func (e *Engine) wait(ctx context.Context, summary *Summary, d time.Duration) bool {
	if err := e.sleep(ctx, d); err != nil {
		summary.Stopped = true
		return true
	}
	return false
}

// Replay runs the single iteration index without waits or reproduction and
// returns its result. The decision is rebuilt from the seed alone.
func (e *Engine) Replay(ctx context.Context, index int) (*Iteration, *IterationResult, error) {
	if err := e.prepare(); err != nil {
		return nil, nil, err
	}

	e.tree.Reset()
	d, err := e.strategy.Next(index)
	if err != nil {
		return nil, nil, err
	}
	defer e.strategy.Release()

	it := e.newIteration(d, false, false)
	return it, e.execute(ctx, it), nil
}

// Decide returns the decision for index without executing it
func (e *Engine) Decide(index int) (*strategy.Decision, error) {
	if err := e.prepare(); err != nil {
		return nil, err
	}
	e.tree.Reset()
	d, err := e.strategy.Next(index)
	if err != nil {
		return nil, err
	}
	e.strategy.Release()
	return d, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
