package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
)

// Iteration is one execution of the state model against the tree
type Iteration struct {
	RunID        uuid.UUID
	Test         string
	Index        int
	Control      bool
	Reproduction bool
	Decision     *strategy.Decision
	Tree         *dom.Tree

	onAction func(Action)
}

// ActionFinished reports a completed state model action to the listeners
func (it *Iteration) ActionFinished(a Action) {
	if it.onAction != nil {
		it.onAction(a)
	}
}

// Kind returns a short label for the iteration type
func (it *Iteration) Kind() string {
	switch {
	case it.Reproduction:
		return "reproduction"
	case it.Control:
		return "control"
	default:
		return "fuzz"
	}
}

// Action describes a completed state model action
type Action struct {
	Name     string
	Type     string
	State    string
	Model    string
	Data     []byte
	Duration time.Duration
	Err      error
}

// Fault is a failure observed on the target
type Fault struct {
	Title       string            `msgpack:"title" json:"title"`
	Description string            `msgpack:"description" json:"description"`
	Source      string            `msgpack:"source" json:"source"`
	Data        map[string][]byte `msgpack:"data,omitempty" json:"data,omitempty"`
}

// ExecResult is returned by an Executor for one iteration
type ExecResult struct {
	Fault *Fault
}

// IterationResult is what listeners see after every iteration
type IterationResult struct {
	Fault    *Fault
	Err      error
	Duration time.Duration

	// Applied is false when the decision could not be written to the tree
	// and nothing reached the executor
	Applied bool
}

// FaultRecord is a confirmed or transient fault, with everything needed to
// replay it
type FaultRecord struct {
	RunID      string             `msgpack:"run_id" json:"run_id"`
	Test       string             `msgpack:"test" json:"test"`
	Seed       int64              `msgpack:"seed" json:"seed"`
	Iteration  int                `msgpack:"iteration" json:"iteration"`
	Control    bool               `msgpack:"control" json:"control"`
	Reproduced bool               `msgpack:"reproduced" json:"reproduced"`
	Decision   *strategy.Decision `msgpack:"decision" json:"decision"`
	Fault      *Fault             `msgpack:"fault" json:"fault"`
	Time       time.Time          `msgpack:"time" json:"time"`
}

// RunInfo describes a run that is about to start
type RunInfo struct {
	RunID    uuid.UUID
	Test     string
	Seed     int64
	Start    int
	Total    int // size of the mutation space, -1 when unbounded
	Strategy string
	Mutators []string
}

// Summary describes a finished run
type Summary struct {
	RunID      uuid.UUID
	Test       string
	Seed       int64
	Iterations int
	Controls   int
	Failures   int
	Faults     []*FaultRecord
	Exhausted  bool
	Stopped    bool
	Started    time.Time
	Finished   time.Time
}

// Reproduced returns the number of faults that reproduced
func (s *Summary) Reproduced() int {
	n := 0
	for _, f := range s.Faults {
		if f.Reproduced {
			n++
		}
	}
	return n
}

// Listener receives lifecycle notifications. Calls are synchronous and made
// from the iteration loop.
type Listener interface {
	TestStarting(info *RunInfo)
	IterationStarting(it *Iteration)
	ActionFinished(it *Iteration, a Action)
	IterationFinished(it *Iteration, res *IterationResult)
	FaultDetected(it *Iteration, rec *FaultRecord)
	ReproductionFinished(it *Iteration, rec *FaultRecord)
	TestFinished(s *Summary)
}

// NopListener implements Listener with no-ops, for embedding
type NopListener struct{}

func (NopListener) TestStarting(*RunInfo)                         {}
func (NopListener) IterationStarting(*Iteration)                  {}
func (NopListener) ActionFinished(*Iteration, Action)             {}
func (NopListener) IterationFinished(*Iteration, *IterationResult) {}
func (NopListener) FaultDetected(*Iteration, *FaultRecord)        {}
func (NopListener) ReproductionFinished(*Iteration, *FaultRecord) {}
func (NopListener) TestFinished(*Summary)                         {}

type listeners []Listener

func (ls listeners) testStarting(info *RunInfo) {
	for _, l := range ls {
		l.TestStarting(info)
	}
}

func (ls listeners) iterationStarting(it *Iteration) {
	for _, l := range ls {
		l.IterationStarting(it)
	}
}

func (ls listeners) actionFinished(it *Iteration, a Action) {
	for _, l := range ls {
		l.ActionFinished(it, a)
	}
}

func (ls listeners) iterationFinished(it *Iteration, res *IterationResult) {
	for _, l := range ls {
		l.IterationFinished(it, res)
	}
}

func (ls listeners) faultDetected(it *Iteration, rec *FaultRecord) {
	for _, l := range ls {
		l.FaultDetected(it, rec)
	}
}

func (ls listeners) reproductionFinished(it *Iteration, rec *FaultRecord) {
	for _, l := range ls {
		l.ReproductionFinished(it, rec)
	}
}

func (ls listeners) testFinished(s *Summary) {
	for _, l := range ls {
		l.TestFinished(s)
	}
}
