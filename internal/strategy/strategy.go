// Package strategy decides, for every iteration, which elements are mutated
// and how. A decision depends only on the seed, the iteration index, the
// tree shape and the active mutator set, so any iteration can be
// reconstructed without replaying the ones before it.
package strategy

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/mutator"
	"github.com/fluxfuzzer/fluxcore/internal/plugin"
)

// ErrExhausted is returned by Next once every mutation has been produced
var ErrExhausted = errors.New("mutation space exhausted")

// State of a strategy between iterations
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateApplied
	StateExhausted
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateApplied:
		return "applied"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Mutation is one computed element replacement
type Mutation struct {
	Element          string `msgpack:"element" json:"element"`
	Mutator          string `msgpack:"mutator" json:"mutator"`
	Choice           int    `msgpack:"choice" json:"choice"`
	Value            []byte `msgpack:"value" json:"value"`
	SuppressRelation bool   `msgpack:"suppress_relation" json:"suppress_relation"`
}

// Decision is the mutation set of one iteration. An empty decision runs the
// iteration with baseline values.
type Decision struct {
	Index     int        `msgpack:"index" json:"index"`
	Mutations []Mutation `msgpack:"mutations" json:"mutations"`
}

// Empty reports whether the decision mutates nothing
func (d *Decision) Empty() bool {
	return d == nil || len(d.Mutations) == 0
}

// Strategy selects mutations for iterations
type Strategy interface {
	// Name returns the registered class name
	Name() string

	// Prepare binds the strategy to a prepared tree and the active mutators
	Prepare(tree *dom.Tree, mutators []mutator.Mutator, seed int64) error

	// Next returns the decision for iteration index (1-based). The tree must
	// hold its baseline values.
	Next(index int) (*Decision, error)

	// Release returns the strategy to idle once the decision has been executed
	Release()

	// State returns the current state
	State() State

	// Total returns the size of the mutation space, -1 when unbounded
	Total() int
}

// candidate is a mutable element with the active mutators that apply to it
type candidate struct {
	el       *dom.Element
	mutators []mutator.Mutator
}

// candidates lists mutable leaves with at least one applicable mutator, in
// document order
func candidates(tree *dom.Tree, set []mutator.Mutator) []candidate {
	var out []candidate
	for _, el := range tree.Elements() {
		if el.IsContainer() || !el.IsMutable() {
			continue
		}
		if ms := mutator.Applicable(set, el); len(ms) > 0 {
			out = append(out, candidate{el: el, mutators: ms})
		}
	}
	return out
}

// invoke runs a mutator call and verifies it left the tree untouched
func invoke(tree *dom.Tree, m mutator.Mutator, el *dom.Element, call func() (*mutator.Result, error)) (Mutation, error) {
	before := tree.Digest()
	res, err := call()
	if tree.Digest() != before {
		return Mutation{}, &errdefs.MutatorError{Mutator: m.Name(), Element: el.FullName(), Reason: "wrote to the tree"}
	}
	if err != nil {
		return Mutation{}, fmt.Errorf("mutator %s on %s: %w", m.Name(), el.FullName(), err)
	}
	if res.SuppressRelation && el.Relation() == nil {
		return Mutation{}, &errdefs.MutatorError{Mutator: m.Name(), Element: el.FullName(), Reason: "suppressed a relation the element does not hold"}
	}
	return Mutation{
		Element:          el.FullName(),
		Mutator:          m.Name(),
		Choice:           res.Choice,
		Value:            res.Value,
		SuppressRelation: res.SuppressRelation,
	}, nil
}

// Apply writes the decision's values into tree, suppresses the flagged
// relations and recomputes the rest. The tree must hold its baseline values.
// Later mutations of the same element win. A relation left inconsistent
// without being suppressed is a contract violation of the decision.
func Apply(tree *dom.Tree, d *Decision) error {
	rs := tree.Relations()
	suppressed := make(map[*dom.Element]bool)
	for _, mut := range d.Mutations {
		el, err := tree.Find(mut.Element)
		if err != nil {
			return err
		}
		if err := el.SetRaw(mut.Value); err != nil {
			return fmt.Errorf("apply %s to %s: %w", mut.Mutator, mut.Element, err)
		}
		if mut.SuppressRelation {
			if err := rs.Suppress(el); err != nil {
				return &errdefs.MutatorError{Mutator: mut.Mutator, Element: mut.Element, Reason: err.Error()}
			}
			suppressed[el] = true
		}
	}
	if err := rs.Recompute(); err != nil {
		return err
	}

	broken, err := tree.Consistent()
	if err != nil {
		return err
	}
	for _, r := range broken {
		if suppressed[r.Element()] {
			continue
		}
		return &errdefs.MutatorError{
			Mutator: mutatorOf(d, r.Element()),
			Element: r.Element().FullName(),
			Reason:  fmt.Sprintf("broke the %s relation of %s", r.Kind(), r.Of()),
		}
	}
	return nil
}

// mutatorOf names the last mutation written to el, or every mutator of d
// when el was only changed through recomputation
func mutatorOf(d *Decision, el *dom.Element) string {
	for i := len(d.Mutations) - 1; i >= 0; i-- {
		if d.Mutations[i].Element == el.FullName() {
			return d.Mutations[i].Mutator
		}
	}
	names := make([]string, len(d.Mutations))
	for i, m := range d.Mutations {
		names[i] = m.Mutator
	}
	return strings.Join(names, ",")
}

// tracker holds the state machine shared by the built-in strategies
type tracker struct {
	mu    sync.Mutex
	state State
}

func (t *tracker) enter(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateExhausted {
		t.state = s
	}
}

// Release returns the strategy to idle
func (t *tracker) Release() {
	t.enter(StateIdle)
}

// State returns the current state
func (t *tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
}

func (t *tracker) exhaust() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateExhausted
}

// Registry holds the strategy classes run definitions can name
var Registry = plugin.NewRegistry[Strategy]("strategy")

func init() {
	Registry.Register(plugin.Spec[Strategy]{
		Name:        "Sequential",
		Description: "Enumerate every choice of every mutator for every mutable element",
		New: func(plugin.Args) (Strategy, error) {
			return NewSequential(), nil
		},
	})
	Registry.Register(plugin.Spec[Strategy]{
		Name:        "Random",
		Description: "Pick elements and mutators at random from the iteration seed",
		Params: []plugin.Parameter{
			{Name: "max_mutations", Type: plugin.TypeInt, Default: "1", Description: "Maximum elements mutated per iteration"},
		},
		New: func(args plugin.Args) (Strategy, error) {
			n := args.Int("max_mutations")
			if n < 1 {
				return nil, errdefs.Config("strategy Random", "max_mutations must be at least 1, got %d", n)
			}
			return NewRandom(n), nil
		},
	})
}
