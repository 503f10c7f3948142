// Package runner assembles an engine from a run definition and the global
// configuration: strategy, publishers, state model executor, agents and
// loggers are created from their registries by the names the test binds.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/agent"
	"github.com/fluxfuzzer/fluxcore/internal/config"
	"github.com/fluxfuzzer/fluxcore/internal/definition"
	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/faults"
	"github.com/fluxfuzzer/fluxcore/internal/logger"
	"github.com/fluxfuzzer/fluxcore/internal/publisher"
	"github.com/fluxfuzzer/fluxcore/internal/report"
	"github.com/fluxfuzzer/fluxcore/internal/statemodel"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
)

// Runner runs one test of a definition
type Runner struct {
	doc       *definition.Document
	cfg       *config.Config
	test      *engine.Test
	seed      int64
	logger    *slog.Logger
	listeners []engine.Listener
	sleeper   engine.Sleeper
}

// Option configures the Runner
type Option func(*Runner)

// WithLogger sets the logger used for session messages
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithListener adds listeners on top of the test's loggers
func WithListener(l ...engine.Listener) Option {
	return func(r *Runner) {
		r.listeners = append(r.listeners, l...)
	}
}

// WithSleeper replaces the engine wait implementation
func WithSleeper(s engine.Sleeper) Option {
	return func(r *Runner) {
		r.sleeper = s
	}
}

// Result is the outcome of Run
type Result struct {
	Summary    *engine.Summary
	Report     string
	FaultFiles []string
}

// New creates a runner for the named test, the first test when name is
// empty. The seed comes from the configuration or the clock.
func New(doc *definition.Document, cfg *config.Config, name string, opts ...Option) (*Runner, error) {
	if doc == nil {
		return nil, errdefs.Config("runner", "no definition")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	test, err := doc.Test(name)
	if err != nil {
		return nil, err
	}
	if cfg.Engine.Strategy != "" && cfg.Engine.Strategy != test.Strategy.Class {
		test.SetStrategy(engine.Binding{Name: test.Strategy.Name, Class: cfg.Engine.Strategy})
	}

	r := &Runner{
		doc:    doc,
		cfg:    cfg,
		test:   test,
		logger: slog.Default(),
	}
	if cfg.Engine.Seed != nil {
		r.seed = *cfg.Engine.Seed
	} else {
		r.seed = time.Now().UnixNano()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Seed returns the run seed
func (r *Runner) Seed() int64 {
	return r.seed
}

// Test returns the resolved test
func (r *Runner) Test() *engine.Test {
	return r.test
}

// session is one assembled engine with the collaborators it owns
type session struct {
	engine  *engine.Engine
	agents  *agent.Manager
	store   *faults.Store
	closers []io.Closer
}

func (s *session) close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (r *Runner) assemble(persist bool) (*session, error) {
	s := &session{}

	tree, err := r.doc.Tree()
	if err != nil {
		return nil, err
	}

	strat, err := strategy.Registry.Create(r.test.Strategy.Class, r.test.Strategy.Params)
	if err != nil {
		return nil, err
	}

	pubs := make(map[string]publisher.Publisher, len(r.test.Publishers))
	for _, b := range r.test.Publishers {
		p, err := publisher.Registry.Create(b.Class, b.Params)
		if err != nil {
			return nil, err
		}
		pubs[bindingName(b)] = p
	}

	model, err := r.doc.StateModel(r.test.StateModel)
	if err != nil {
		return nil, err
	}
	var exec engine.Executor
	exec, err = statemodel.NewExecutor(model, pubs, statemodel.WithMaxSteps(r.cfg.Engine.MaxSteps))
	if err != nil {
		return nil, err
	}

	s.agents, err = agent.NewManager(&agent.ManagerOptions{Size: r.cfg.Agents.Workers})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent pool: %w", err)
	}
	for _, b := range r.test.Agents {
		m, err := agent.Registry.Create(b.Class, b.Params)
		if err != nil {
			s.agents.Release()
			return nil, err
		}
		s.agents.Add(bindingName(b), m)
	}
	if s.agents.Len() > 0 {
		exec = s.agents.Wrap(exec)
	}

	listeners := make([]engine.Listener, 0, len(r.test.Loggers)+len(r.listeners)+1)
	for _, b := range r.test.Loggers {
		l, err := logger.Registry.Create(b.Class, b.Params)
		if err != nil {
			s.agents.Release()
			_ = s.close()
			return nil, err
		}
		if c, ok := l.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
		listeners = append(listeners, l)
	}
	if persist && r.cfg.Faults.Persist {
		s.store = faults.NewStore(r.cfg.Faults.Dir, r.logger)
		listeners = append(listeners, s.store)
	}
	listeners = append(listeners, r.listeners...)

	opts := []engine.Option{
		engine.WithSeed(r.seed),
		engine.WithStart(r.cfg.Engine.Start),
		engine.WithIterations(r.cfg.Engine.Iterations),
		engine.WithListener(listeners...),
	}
	if r.sleeper != nil {
		opts = append(opts, engine.WithSleeper(r.sleeper))
	}
	s.engine, err = engine.New(r.test, tree, exec, strat, opts...)
	if err != nil {
		s.agents.Release()
		_ = s.close()
		return nil, err
	}
	return s, nil
}

func bindingName(b engine.Binding) string {
	if b.Name != "" {
		return b.Name
	}
	return b.Class
}

// Run executes the test and writes the run report
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	s, err := r.assemble(true)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.close(); err != nil {
			r.logger.Warn("failed to close loggers", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("starting session",
		slog.String("test", r.test.Name),
		slog.String("run_id", s.engine.RunID().String()),
		slog.Int64("seed", r.seed),
		slog.Int("agents", s.agents.Len()),
	)

	if err := s.agents.Start(ctx); err != nil {
		_ = s.agents.Stop(context.Background())
		return nil, fmt.Errorf("failed to start agents: %w", err)
	}

	summary, runErr := s.engine.Run(ctx)
	if err := s.agents.Stop(context.Background()); err != nil {
		r.logger.Warn("failed to stop agents", slog.String("error", err.Error()))
	}

	res := &Result{Summary: summary}
	if s.store != nil {
		res.FaultFiles = s.store.Written()
	}
	if summary != nil {
		path, err := report.NewManager(r.cfg.Output.Dir).Generate(report.FromSummary(summary), r.cfg.Output.Format)
		if err != nil {
			r.logger.Warn("failed to write report", slog.String("error", err.Error()))
		} else {
			res.Report = path
		}
	}
	return res, runErr
}

// Replay re-executes the iteration at index with the runner's seed. Fault
// records are not written.
func (r *Runner) Replay(ctx context.Context, index int) (*engine.Iteration, *engine.IterationResult, error) {
	s, err := r.assemble(false)
	if err != nil {
		return nil, nil, err
	}
	defer s.close()

	if err := s.agents.Start(ctx); err != nil {
		_ = s.agents.Stop(context.Background())
		return nil, nil, fmt.Errorf("failed to start agents: %w", err)
	}
	defer func() {
		if err := s.agents.Stop(context.Background()); err != nil {
			r.logger.Warn("failed to stop agents", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("replaying iteration",
		slog.String("test", r.test.Name),
		slog.Int64("seed", r.seed),
		slog.Int("iteration", index),
	)
	return s.engine.Replay(ctx, index)
}
