package strategy

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/mutator"
	"github.com/fluxfuzzer/fluxcore/internal/random"
)

func newTree(t *testing.T) *dom.Tree {
	t.Helper()
	tree, err := dom.NewTree(dom.NewDataModel("DataModel",
		dom.NewNumber("len", 16, 0, dom.WithRelation(dom.RelationSize, "body")),
		dom.NewBlock("body",
			dom.NewString("string1", "hello"),
			dom.NewString("string2", "world"),
			dom.NewNumber("flags", 8, 3),
		),
	))
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func activeSet(t *testing.T, include ...string) []mutator.Mutator {
	t.Helper()
	set, err := mutator.Default().Active(include, nil)
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// rogueMutator writes to the element it was given
type rogueMutator struct{}

func (rogueMutator) Name() string                   { return "rogue" }
func (rogueMutator) Description() string            { return "writes to the tree" }
func (rogueMutator) AppliesTo(el *dom.Element) bool { return el.Kind() == dom.KindString }
func (rogueMutator) Count(el *dom.Element) int      { return 1 }
func (m rogueMutator) MutateAt(el *dom.Element, k int) (*mutator.Result, error) {
	_ = el.SetRaw([]byte("oops"))
	return &mutator.Result{Mutator: m.Name(), Value: []byte("x")}, nil
}
func (m rogueMutator) Mutate(el *dom.Element, g *random.Generator) (*mutator.Result, error) {
	return m.MutateAt(el, 0)
}

func TestSequential_EnumeratesAndExhausts(t *testing.T) {
	tree := newTree(t)
	s := NewSequential()
	if err := s.Prepare(tree, activeSet(t, "bitflip/1"), 0); err != nil {
		t.Fatal(err)
	}

	// string1, string2: 40 bits each, flags: 8 bits
	if s.Total() != 88 {
		t.Fatalf("expected 88 mutations, got %d", s.Total())
	}

	seen := make(map[string]int)
	for i := 1; i <= s.Total(); i++ {
		d, err := s.Next(i)
		if err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
		if len(d.Mutations) != 1 {
			t.Fatalf("Next(%d): expected one mutation", i)
		}
		seen[d.Mutations[0].Element]++
		s.Release()
	}
	if seen["DataModel.body.string1"] != 40 || seen["DataModel.body.flags"] != 8 {
		t.Errorf("unexpected distribution %v", seen)
	}

	if _, err := s.Next(s.Total() + 1); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
	if s.State() != StateExhausted {
		t.Errorf("expected exhausted state, got %s", s.State())
	}
}

func TestSequential_ReplayIndex(t *testing.T) {
	tree := newTree(t)
	s := NewSequential()
	_ = s.Prepare(tree, activeSet(t), 0)

	a, err := s.Next(17)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 10; i++ {
		_, _ = s.Next(i)
	}
	b, err := s.Next(17)
	if err != nil {
		t.Fatal(err)
	}
	if a.Mutations[0].Mutator != b.Mutations[0].Mutator || a.Mutations[0].Choice != b.Mutations[0].Choice {
		t.Error("expected iteration 17 to be independent of call history")
	}
}

func TestRandom_Deterministic(t *testing.T) {
	run := func() []*Decision {
		tree := newTree(t)
		s := NewRandom(3)
		if err := s.Prepare(tree, activeSet(t), 42); err != nil {
			t.Fatal(err)
		}
		var out []*Decision
		for i := 1; i <= 200; i++ {
			d, err := s.Next(i)
			if err != nil {
				t.Fatalf("Next(%d): %v", i, err)
			}
			out = append(out, d)
			s.Release()
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		a, b := first[i], second[i]
		if len(a.Mutations) != len(b.Mutations) {
			t.Fatalf("iteration %d: mutation count differs", i+1)
		}
		if len(a.Mutations) < 1 || len(a.Mutations) > 3 {
			t.Fatalf("iteration %d: %d mutations", i+1, len(a.Mutations))
		}
		for j := range a.Mutations {
			ma, mb := a.Mutations[j], b.Mutations[j]
			if ma.Element != mb.Element || ma.Mutator != mb.Mutator || ma.Choice != mb.Choice || !bytes.Equal(ma.Value, mb.Value) {
				t.Fatalf("iteration %d mutation %d differs: %+v vs %+v", i+1, j, ma, mb)
			}
		}
	}
}

func TestRandom_SeedsDiverge(t *testing.T) {
	decisions := func(seed int64) []string {
		tree := newTree(t)
		s := NewRandom(1)
		_ = s.Prepare(tree, activeSet(t), seed)
		var out []string
		for i := 1; i <= 20; i++ {
			d, _ := s.Next(i)
			out = append(out, d.Mutations[0].Element+d.Mutations[0].Mutator)
		}
		return out
	}

	a, b := decisions(1), decisions(2)
	same := 0
	for i := range a {
		if a[i] == b[i] {
			same++
		}
	}
	if same == len(a) {
		t.Error("expected different seeds to pick different mutations")
	}
}

func TestRandom_SkipsImmutable(t *testing.T) {
	tree := newTree(t)
	if _, err := tree.SetMutable("/DataModel/body/string1", false); err != nil {
		t.Fatal(err)
	}

	s := NewRandom(2)
	if err := s.Prepare(tree, activeSet(t), 7); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 500; i++ {
		d, err := s.Next(i)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range d.Mutations {
			if m.Element == "DataModel.body.string1" {
				t.Fatalf("iteration %d selected an immutable element", i)
			}
		}
	}
}

func TestStrategy_NoCandidates(t *testing.T) {
	tree := newTree(t)
	if _, err := tree.SetMutable("/DataModel", false); err != nil {
		t.Fatal(err)
	}

	for _, s := range []Strategy{NewSequential(), NewRandom(1)} {
		if err := s.Prepare(tree, activeSet(t), 1); err != nil {
			t.Fatal(err)
		}
		d, err := s.Next(1)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", s.Name(), err)
		}
		if !d.Empty() {
			t.Errorf("%s: expected an empty decision", s.Name())
		}
	}
}

func TestSequential_EmptySpaceExhausts(t *testing.T) {
	tree := newTree(t)
	if _, err := tree.SetMutable("/DataModel", false); err != nil {
		t.Fatal(err)
	}
	s := NewSequential()
	if err := s.Prepare(tree, activeSet(t), 0); err != nil {
		t.Fatal(err)
	}
	if s.Total() != 1 {
		t.Errorf("expected one baseline iteration, got %d", s.Total())
	}

	if d, err := s.Next(1); err != nil || !d.Empty() {
		t.Fatalf("expected a baseline decision, got %v %v", d, err)
	}
	if _, err := s.Next(2); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted after the baseline, got %v", err)
	}
	if s.State() != StateExhausted {
		t.Errorf("expected StateExhausted, got %v", s.State())
	}
}

// growingTransformer pads its output one byte more on every call
type growingTransformer struct{ calls int }

func (g *growingTransformer) Name() string { return "growing" }
func (g *growingTransformer) Encode(data []byte) ([]byte, error) {
	g.calls++
	return append(append([]byte{}, data...), bytes.Repeat([]byte{0}, g.calls)...), nil
}
func (g *growingTransformer) Decode(data []byte) ([]byte, error) { return data, nil }

func TestApply_BrokenRelation(t *testing.T) {
	tree, err := dom.NewTree(dom.NewDataModel("DataModel",
		dom.NewNumber("len", 16, 0, dom.WithRelation(dom.RelationSize, "body")),
		dom.NewString("body", "hello", dom.WithTransformer(&growingTransformer{})),
	))
	if err != nil {
		t.Fatal(err)
	}

	d := &Decision{Index: 1, Mutations: []Mutation{
		{Element: "DataModel.body", Mutator: "StringTokenMutator", Value: []byte("hi")},
	}}
	err = Apply(tree, d)
	var me *errdefs.MutatorError
	if !errors.As(err, &me) {
		t.Fatalf("expected a contract violation, got %v", err)
	}
	if me.Element != "DataModel.len" || me.Mutator != "StringTokenMutator" {
		t.Errorf("unexpected violation %+v", me)
	}

	tree.Reset()
	suppressed := &Decision{Index: 2, Mutations: []Mutation{
		{Element: "DataModel.len", Mutator: "SizedNumericalEdgeCasesMutator", Value: []byte{0xff, 0xff}, SuppressRelation: true},
	}}
	if err := Apply(tree, suppressed); err != nil {
		t.Errorf("a suppressed relation may disagree with its target, got %v", err)
	}
}

func TestStrategy_ContractViolation(t *testing.T) {
	tree := newTree(t)
	s := NewSequential()
	_ = s.Prepare(tree, []mutator.Mutator{rogueMutator{}}, 0)

	_, err := s.Next(1)
	var me *errdefs.MutatorError
	if !errors.As(err, &me) || !errors.Is(err, errdefs.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if me.Mutator != "rogue" {
		t.Errorf("unexpected mutator %q", me.Mutator)
	}
}

func TestApply_SuppressAndRecompute(t *testing.T) {
	tree := newTree(t)
	lenEl, _ := tree.Find("DataModel.len")
	body, _ := tree.Find("DataModel.body")

	d := &Decision{Index: 1, Mutations: []Mutation{
		{Element: "DataModel.body.string1", Mutator: "a", Value: []byte("first")},
		{Element: "DataModel.body.string1", Mutator: "b", Value: []byte("longer value")},
	}}
	if err := Apply(tree, d); err != nil {
		t.Fatal(err)
	}
	s1, _ := tree.Find("DataModel.body.string1")
	if string(s1.Raw()) != "longer value" {
		t.Errorf("expected last mutation to win, got %q", s1.Raw())
	}
	n, _ := body.Len()
	if v, _ := lenEl.Int(); v != int64(n) {
		t.Errorf("expected len to follow body: %d != %d", v, n)
	}

	tree.Reset()
	d = &Decision{Index: 2, Mutations: []Mutation{
		{Element: "DataModel.len", Mutator: "SizedNumericalEdgeCasesMutator", Value: []byte{0xff, 0xff}, SuppressRelation: true},
		{Element: "DataModel.body.string2", Mutator: "c", Value: []byte("w")},
	}}
	if err := Apply(tree, d); err != nil {
		t.Fatal(err)
	}
	if v, _ := lenEl.Int(); v != 0xffff {
		t.Errorf("expected suppressed len to keep 0xffff, got %d", v)
	}
}

func TestRegistry_Create(t *testing.T) {
	s, err := Registry.Create("Random", map[string]string{"max_mutations": "4"})
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := s.(*Random); !ok || r.MaxMutations() != 4 {
		t.Errorf("unexpected strategy %#v", s)
	}

	if _, err := Registry.Create("Random", map[string]string{"max_mutations": "0"}); !errdefs.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
	if _, err := Registry.Create("Sequential", nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
