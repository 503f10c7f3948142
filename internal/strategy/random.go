package strategy

import (
	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/mutator"
	"github.com/fluxfuzzer/fluxcore/internal/random"
)

// Random picks between 1 and maxMutations elements per iteration, then an
// applicable mutator and a choice for each. Every draw comes from a
// generator derived from (seed, index). It never exhausts.
type Random struct {
	tracker
	maxMutations int
	tree         *dom.Tree
	seed         int64
	cands        []candidate
}

// NewRandom creates a new Random strategy
func NewRandom(maxMutations int) *Random {
	if maxMutations < 1 {
		maxMutations = 1
	}
	return &Random{maxMutations: maxMutations}
}

// Name returns the class name
func (s *Random) Name() string {
	return "Random"
}

// MaxMutations returns the per-iteration mutation limit
func (s *Random) MaxMutations() int {
	return s.maxMutations
}

// Prepare collects the mutable elements of tree
func (s *Random) Prepare(tree *dom.Tree, set []mutator.Mutator, seed int64) error {
	s.tree = tree
	s.seed = seed
	s.cands = candidates(tree, set)
	s.reset()
	return nil
}

// Total is unbounded
func (s *Random) Total() int {
	return -1
}

// Next draws the decision for index
func (s *Random) Next(index int) (*Decision, error) {
	if index < 1 {
		return nil, errdefs.InvalidArgument("iteration index %d", index)
	}
	if s.tree == nil {
		return nil, errdefs.Config("strategy Random", "not prepared")
	}

	d := &Decision{Index: index}
	if len(s.cands) == 0 {
		s.enter(StateApplied)
		return d, nil
	}
	s.enter(StateSelecting)

	g := random.ForIteration(s.seed, index)
	n := 1 + g.NextN(s.maxMutations)

	for i := 0; i < n; i++ {
		c, err := random.Choice(g, s.cands)
		if err != nil {
			return nil, err
		}
		m, err := random.Choice(g, c.mutators)
		if err != nil {
			return nil, err
		}
		mut, err := invoke(s.tree, m, c.el, func() (*mutator.Result, error) {
			return m.Mutate(c.el, g)
		})
		if err != nil {
			return nil, err
		}
		d.Mutations = append(d.Mutations, mut)
	}

	s.enter(StateApplied)
	return d, nil
}
