package strategy

import (
	"sort"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/mutator"
)

// slot is one (element, mutator) pair and the first global position it owns
type slot struct {
	el    *dom.Element
	m     mutator.Mutator
	start int
	count int
}

// Sequential walks the whole mutation space in a fixed order: elements in
// document order, mutators in registry order, choices ascending. Iteration i
// produces position i-1, so the mapping needs no history.
type Sequential struct {
	tracker
	tree  *dom.Tree
	slots []slot
	total int
}

// NewSequential creates a new Sequential strategy
func NewSequential() *Sequential {
	return &Sequential{}
}

// Name returns the class name
func (s *Sequential) Name() string {
	return "Sequential"
}

// Prepare enumerates the mutation space of tree
func (s *Sequential) Prepare(tree *dom.Tree, set []mutator.Mutator, seed int64) error {
	s.tree = tree
	s.slots = nil
	s.total = 0
	s.reset()

	for _, c := range candidates(tree, set) {
		for _, m := range c.mutators {
			n := m.Count(c.el)
			s.slots = append(s.slots, slot{el: c.el, m: m, start: s.total, count: n})
			s.total += n
		}
	}
	return nil
}

// Total returns the number of iterations needed to exhaust the space
func (s *Sequential) Total() int {
	if s.total == 0 {
		return 1
	}
	return s.total
}

// Next returns the mutation at position index-1
func (s *Sequential) Next(index int) (*Decision, error) {
	if index < 1 {
		return nil, errdefs.InvalidArgument("iteration index %d", index)
	}
	if s.tree == nil {
		return nil, errdefs.Config("strategy Sequential", "not prepared")
	}

	d := &Decision{Index: index}
	pos := index - 1
	if s.total == 0 && pos == 0 {
		// nothing to mutate; one baseline iteration exhausts the space
		s.enter(StateApplied)
		return d, nil
	}
	if pos >= s.total {
		s.exhaust()
		return nil, ErrExhausted
	}
	s.enter(StateSelecting)

	i := sort.Search(len(s.slots), func(i int) bool {
		return s.slots[i].start+s.slots[i].count > pos
	})
	sl := s.slots[i]
	k := pos - sl.start

	mut, err := invoke(s.tree, sl.m, sl.el, func() (*mutator.Result, error) {
		return sl.m.MutateAt(sl.el, k)
	})
	if err != nil {
		return nil, err
	}
	d.Mutations = append(d.Mutations, mut)
	s.enter(StateApplied)
	return d, nil
}
