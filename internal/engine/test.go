package engine

import (
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// DefaultFaultWaitTime is the delay applied while confirming a fault
const DefaultFaultWaitTime = 2 * time.Second

// MutableRule is one mutability selector, applied in declaration order
type MutableRule struct {
	Allow bool
	Path  string
}

// Binding names a collaborator class and its arguments
type Binding struct {
	Name   string
	Class  string
	Params map[string]string
}

// Test is the configuration of one fuzzing run
type Test struct {
	Name          string
	WaitTime      time.Duration
	FaultWaitTime time.Duration

	// IncludedMutators, when non-empty, is exactly the active set and
	// ExcludedMutators is ignored
	IncludedMutators []string
	ExcludedMutators []string

	Mutables []MutableRule

	// ControlIterationEvery runs an unmutated iteration before every Nth
	// fuzz iteration, 0 disables control iterations
	ControlIterationEvery int

	StateModel string
	Strategy   Binding
	Publishers []Binding
	Agents     []Binding
	Loggers    []Binding
}

// NewTest creates a test with default timing and the Sequential strategy
func NewTest(name string) *Test {
	return &Test{
		Name:          name,
		FaultWaitTime: DefaultFaultWaitTime,
		Strategy:      Binding{Class: "Sequential"},
	}
}

// SetStrategy binds the mutation strategy
func (t *Test) SetStrategy(b Binding) {
	t.Strategy = b
}

// BindPublisher adds a publisher collaborator
func (t *Test) BindPublisher(b Binding) {
	t.Publishers = append(t.Publishers, b)
}

// BindAgent adds an agent collaborator
func (t *Test) BindAgent(b Binding) {
	t.Agents = append(t.Agents, b)
}

// BindLogger adds a logger collaborator
func (t *Test) BindLogger(b Binding) {
	t.Loggers = append(t.Loggers, b)
}

// AddMutable appends a mutability selector rule
func (t *Test) AddMutable(allow bool, path string) {
	t.Mutables = append(t.Mutables, MutableRule{Allow: allow, Path: path})
}

// Validate checks the configuration before a run starts
func (t *Test) Validate() error {
	switch {
	case t.Name == "":
		return errdefs.Config("test", "name is required")
	case t.WaitTime < 0:
		return errdefs.Config(t.Name, "wait time must not be negative")
	case t.FaultWaitTime < 0:
		return errdefs.Config(t.Name, "fault wait time must not be negative")
	case t.ControlIterationEvery < 0:
		return errdefs.Config(t.Name, "control iteration interval must not be negative")
	}

	for i, r := range t.Mutables {
		if r.Path == "" {
			return errdefs.Config(t.Name, "mutable rule %d has no path", i)
		}
	}

	seen := make(map[string]bool)
	for _, group := range [][]Binding{t.Publishers, t.Agents, t.Loggers} {
		for _, b := range group {
			if b.Class == "" {
				return errdefs.Config(t.Name, "binding %q has no class", b.Name)
			}
			if b.Name == "" {
				continue
			}
			if seen[b.Name] {
				return errdefs.Config(t.Name, "duplicate collaborator name %q", b.Name)
			}
			seen[b.Name] = true
		}
	}
	return nil
}
