// Package mutator provides the units of corruption logic applied to data
// model elements. A mutator declares which elements it applies to and the
// size of its choice space; every choice maps to exactly one replacement
// value, so sequential strategies can enumerate it and random strategies can
// sample it reproducibly.
package mutator

import (
	"sync"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/random"
)

// Mutator defines the interface for all mutation implementations.
//
// Mutators never write to the tree. They return the replacement raw value
// and flag side effects (relation suppression) in the Result; the engine
// applies it.
type Mutator interface {
	// Name returns the identifier used by include/exclude lists
	Name() string

	// Description returns a brief description of what this mutator does
	Description() string

	// AppliesTo reports whether the mutator can corrupt el in its current state
	AppliesTo(el *dom.Element) bool

	// Count returns the number of distinct choices for el
	Count(el *dom.Element) int

	// MutateAt computes the replacement for choice k in [0, Count(el))
	MutateAt(el *dom.Element, k int) (*Result, error)

	// Mutate picks a choice with g and computes its replacement
	Mutate(el *dom.Element, g *random.Generator) (*Result, error)
}

// Result is a computed mutation, not yet applied
type Result struct {
	Mutator string
	Element string
	Choice  int
	Value   []byte

	// SuppressRelation exempts the mutated relation element from the next
	// recompute so the corrupted value reaches the output.
	SuppressRelation bool
}

// pick draws a choice uniformly from m's choice space
func pick(m Mutator, el *dom.Element, g *random.Generator) (*Result, error) {
	n := m.Count(el)
	if n <= 0 {
		return nil, errdefs.InvalidArgument("mutator %s has no choices for %s", m.Name(), el.FullName())
	}
	return m.MutateAt(el, g.NextN(n))
}

func checkChoice(m Mutator, el *dom.Element, k int) error {
	if !m.AppliesTo(el) {
		return errdefs.InvalidArgument("mutator %s does not apply to %s", m.Name(), el.FullName())
	}
	if n := m.Count(el); k < 0 || k >= n {
		return errdefs.InvalidArgument("choice %d out of range [0,%d) for %s", k, n, el.FullName())
	}
	return nil
}

func newResult(m Mutator, el *dom.Element, k int, value []byte) *Result {
	return &Result{
		Mutator: m.Name(),
		Element: el.FullName(),
		Choice:  k,
		Value:   value,
	}
}

// --- Registry: Manages available mutators ---

// Registry stores and manages available mutators
type Registry struct {
	mu       sync.RWMutex
	mutators map[string]Mutator
	order    []string // maintains insertion order
}

// NewRegistry creates a new mutator registry
func NewRegistry() *Registry {
	return &Registry{
		mutators: make(map[string]Mutator),
		order:    make([]string, 0),
	}
}

// Default returns a registry holding every built-in mutator
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewSizedNumericalEdgeCasesMutator())
	r.Register(NewNumericalEdgeCasesMutator())
	r.Register(NewArithmeticMutator(35))
	r.Register(NewBitFlipMutator(1))
	r.Register(NewBitFlipMutator(2))
	r.Register(NewBitFlipMutator(4))
	r.Register(NewDataLengthEdgeCasesMutator())
	r.Register(NewStringTokenMutator())
	return r
}

// Register adds a mutator to the registry
func (r *Registry) Register(m Mutator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Name()
	if _, exists := r.mutators[name]; !exists {
		r.order = append(r.order, name)
	}
	r.mutators[name] = m
}

// Get retrieves a mutator by name
func (r *Registry) Get(name string) (Mutator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.mutators[name]
	return m, exists
}

// All returns all registered mutators in insertion order
func (r *Registry) All() []Mutator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Mutator, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.mutators[name])
	}
	return result
}

// Names returns the names of all registered mutators
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Count returns the number of registered mutators
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mutators)
}

// Active resolves the active mutator set. A non-empty include list selects
// exactly those mutators (exclude is ignored); otherwise every registered
// mutator except the excluded ones is active. Registry order is kept.
// Unknown names are configuration errors.
func (r *Registry) Active(include, exclude []string) ([]Mutator, error) {
	for _, name := range append(append([]string{}, include...), exclude...) {
		if _, ok := r.Get(name); !ok {
			return nil, errdefs.Config("mutators", "unknown mutator %q", name)
		}
	}

	selected := make(map[string]bool)
	if len(include) > 0 {
		for _, name := range include {
			selected[name] = true
		}
	} else {
		for _, name := range r.Names() {
			selected[name] = true
		}
		for _, name := range exclude {
			delete(selected, name)
		}
	}

	var result []Mutator
	for _, m := range r.All() {
		if selected[m.Name()] {
			result = append(result, m)
		}
	}
	return result, nil
}

// Applicable returns the mutators in set that apply to el
func Applicable(set []Mutator, el *dom.Element) []Mutator {
	var result []Mutator
	for _, m := range set {
		if m.AppliesTo(el) && m.Count(el) > 0 {
			result = append(result, m)
		}
	}
	return result
}
