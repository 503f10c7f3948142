// Package logger turns run lifecycle notifications into logs: structured
// slog records or a JSON-lines event file.
package logger

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/config"
	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/plugin"
)

// --- Slog ---

// Slog logs lifecycle events through a slog.Logger
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a Slog listener, nil uses slog.Default()
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

// TestStarting logs the run parameters
func (l *Slog) TestStarting(info *engine.RunInfo) {
	l.logger.Info("test starting",
		slog.String("test", info.Test),
		slog.String("run_id", info.RunID.String()),
		slog.Int64("seed", info.Seed),
		slog.Int("start", info.Start),
		slog.Int("total", info.Total),
		slog.String("strategy", info.Strategy),
		slog.Any("mutators", info.Mutators),
	)
}

// IterationStarting logs at debug level
func (l *Slog) IterationStarting(it *engine.Iteration) {
	l.logger.Debug("iteration starting",
		slog.Int("iteration", it.Index),
		slog.String("kind", it.Kind()),
		slog.Int("mutations", len(it.Decision.Mutations)),
	)
}

// ActionFinished logs at debug level
func (l *Slog) ActionFinished(it *engine.Iteration, a engine.Action) {
	attrs := []any{
		slog.Int("iteration", it.Index),
		slog.String("state", a.State),
		slog.String("action", a.Name),
		slog.String("type", a.Type),
		slog.Int("bytes", len(a.Data)),
		slog.Duration("duration", a.Duration),
	}
	if a.Err != nil {
		attrs = append(attrs, slog.String("error", a.Err.Error()))
	}
	l.logger.Debug("action finished", attrs...)
}

// IterationFinished logs iteration errors as warnings
func (l *Slog) IterationFinished(it *engine.Iteration, res *engine.IterationResult) {
	if res.Err != nil {
		l.logger.Warn("iteration failed",
			slog.Int("iteration", it.Index),
			slog.String("kind", it.Kind()),
			slog.String("error", res.Err.Error()),
		)
		return
	}
	l.logger.Debug("iteration finished",
		slog.Int("iteration", it.Index),
		slog.Duration("duration", res.Duration),
	)
}

// FaultDetected logs the fault
func (l *Slog) FaultDetected(it *engine.Iteration, rec *engine.FaultRecord) {
	l.logger.Warn("fault detected",
		slog.Int("iteration", rec.Iteration),
		slog.Bool("control", rec.Control),
		slog.String("title", rec.Fault.Title),
		slog.String("source", rec.Fault.Source),
		slog.String("description", rec.Fault.Description),
	)
}

// ReproductionFinished logs whether the fault reproduced
func (l *Slog) ReproductionFinished(it *engine.Iteration, rec *engine.FaultRecord) {
	l.logger.Info("reproduction finished",
		slog.Int("iteration", rec.Iteration),
		slog.Bool("reproduced", rec.Reproduced),
	)
}

// TestFinished logs the summary
func (l *Slog) TestFinished(s *engine.Summary) {
	l.logger.Info("test finished",
		slog.String("test", s.Test),
		slog.Int("iterations", s.Iterations),
		slog.Int("controls", s.Controls),
		slog.Int("failures", s.Failures),
		slog.Int("faults", len(s.Faults)),
		slog.Int("reproduced", s.Reproduced()),
		slog.Bool("exhausted", s.Exhausted),
		slog.Bool("stopped", s.Stopped),
		slog.Duration("elapsed", s.Finished.Sub(s.Started)),
	)
}

// --- JsonLines ---

// Event is one line of the JSON-lines log
type Event struct {
	Time       time.Time `json:"time"`
	Event      string    `json:"event"`
	Test       string    `json:"test,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Seed       *int64    `json:"seed,omitempty"`
	Iteration  int       `json:"iteration,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	State      string    `json:"state,omitempty"`
	Action     string    `json:"action,omitempty"`
	Data       string    `json:"data,omitempty"` // hex
	Fault      string    `json:"fault,omitempty"`
	Reproduced *bool     `json:"reproduced,omitempty"`
	Error      string    `json:"error,omitempty"`
	Mutations  int       `json:"mutations,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	Faults     int       `json:"faults,omitempty"`
}

// JSONLines writes one JSON object per event
type JSONLines struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
	err    error
}

// NewJSONLines writes events to w
func NewJSONLines(w io.Writer) *JSONLines {
	l := &JSONLines{enc: json.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// OpenJSONLines appends events to the file at path
func OpenJSONLines(path string) (*JSONLines, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewJSONLines(f), nil
}

func (l *JSONLines) write(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.Time = l.now()
	if err := l.enc.Encode(ev); err != nil && l.err == nil {
		l.err = err
	}
}

// Err returns the first write error
func (l *JSONLines) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the underlying writer when it is a Closer
func (l *JSONLines) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *JSONLines) TestStarting(info *engine.RunInfo) {
	seed := info.Seed
	l.write(Event{Event: "test_starting", Test: info.Test, RunID: info.RunID.String(), Seed: &seed})
}

func (l *JSONLines) IterationStarting(it *engine.Iteration) {
	l.write(Event{Event: "iteration_starting", Iteration: it.Index, Kind: it.Kind(), Mutations: len(it.Decision.Mutations)})
}

func (l *JSONLines) ActionFinished(it *engine.Iteration, a engine.Action) {
	ev := Event{Event: "action_finished", Iteration: it.Index, State: a.State, Action: a.Name, Data: hex.EncodeToString(a.Data)}
	if a.Err != nil {
		ev.Error = a.Err.Error()
	}
	l.write(ev)
}

func (l *JSONLines) IterationFinished(it *engine.Iteration, res *engine.IterationResult) {
	ev := Event{Event: "iteration_finished", Iteration: it.Index, Kind: it.Kind()}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	if res.Fault != nil {
		ev.Fault = res.Fault.Title
	}
	l.write(ev)
}

func (l *JSONLines) FaultDetected(it *engine.Iteration, rec *engine.FaultRecord) {
	l.write(Event{Event: "fault_detected", Iteration: rec.Iteration, Fault: rec.Fault.Title})
}

func (l *JSONLines) ReproductionFinished(it *engine.Iteration, rec *engine.FaultRecord) {
	reproduced := rec.Reproduced
	l.write(Event{Event: "reproduction_finished", Iteration: rec.Iteration, Fault: rec.Fault.Title, Reproduced: &reproduced})
}

func (l *JSONLines) TestFinished(s *engine.Summary) {
	l.write(Event{Event: "test_finished", Test: s.Test, RunID: s.RunID.String(), Iterations: s.Iterations, Faults: len(s.Faults)})
}

// --- Registry ---

// Registry holds the logger classes run definitions can name
var Registry = plugin.NewRegistry[engine.Listener]("logger")

func init() {
	Registry.Register(plugin.Spec[engine.Listener]{
		Name:        "Slog",
		Description: "Log lifecycle events through the process logger",
		Params: []plugin.Parameter{
			{Name: "level", Type: plugin.TypeString, Description: "Minimum level, defaults to the process level"},
		},
		New: func(args plugin.Args) (engine.Listener, error) {
			if !args.Has("level") {
				return NewSlog(nil), nil
			}
			level, err := config.ParseLevel(args.String("level"))
			if err != nil {
				return nil, err
			}
			h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			return NewSlog(slog.New(h)), nil
		},
	})
	Registry.Register(plugin.Spec[engine.Listener]{
		Name:        "JsonLines",
		Description: "Append one JSON object per lifecycle event to a file",
		Params: []plugin.Parameter{
			{Name: "path", Type: plugin.TypeString, Required: true, Description: "Event log file"},
		},
		New: func(args plugin.Args) (engine.Listener, error) {
			return OpenJSONLines(args.String("path"))
		},
	})
}
