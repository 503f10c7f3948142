package dom

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// Tree owns one or more data models together with their relation engine and
// the baseline values every iteration starts from.
type Tree struct {
	models    []*Element
	byName    map[string]*Element
	elements  []*Element // document order across all models
	index     map[*Element]int
	relations *Relations
	baseline  map[*Element][]byte
}

// NewTree validates models, binds their relations and records the baseline
func NewTree(models ...*Element) (*Tree, error) {
	if len(models) == 0 {
		return nil, errdefs.Config("tree", "no data models")
	}

	t := &Tree{
		byName: make(map[string]*Element, len(models)),
		index:  make(map[*Element]int),
	}

	for _, m := range models {
		if m == nil {
			return nil, errdefs.Config("tree", "nil data model")
		}
		if m.kind != KindDataModel || m.parent != nil {
			return nil, errdefs.Config(m.FullName(), "ambiguous root: %s element is not a data model", m.kind)
		}
		if _, dup := t.byName[m.name]; dup {
			return nil, errdefs.Config(m.name, "duplicate data model name")
		}
		if err := validate(m); err != nil {
			return nil, err
		}
		t.byName[m.name] = m
		t.models = append(t.models, m)

		m.Walk(func(e *Element) bool {
			t.index[e] = len(t.elements)
			t.elements = append(t.elements, e)
			return true
		})
	}

	rs, err := bindRelations(t)
	if err != nil {
		return nil, err
	}
	t.relations = rs

	if err := rs.Recompute(); err != nil {
		return nil, errdefs.WrapConfig("relations", err)
	}
	t.Snapshot()
	return t, nil
}

func validate(root *Element) error {
	var err error
	root.Walk(func(e *Element) bool {
		switch {
		case e.err != nil:
			err = errdefs.WrapConfig(e.FullName(), e.err)
		case e.name == "":
			err = errdefs.Config(e.FullName(), "element has no name")
		case strings.ContainsAny(e.name, "./[]"):
			err = errdefs.Config(e.FullName(), "element name %q contains a reserved character", e.name)
		}
		if err != nil {
			return false
		}

		seen := make(map[string]bool, len(e.children))
		for _, c := range e.children {
			if seen[c.name] {
				err = errdefs.Config(e.FullName(), "duplicate child name %q", c.name)
				return false
			}
			seen[c.name] = true
		}
		return true
	})
	return err
}

// Models returns the data models in declaration order
func (t *Tree) Models() []*Element {
	out := make([]*Element, len(t.models))
	copy(out, t.models)
	return out
}

// Model returns the data model named name
func (t *Tree) Model(name string) (*Element, error) {
	m, ok := t.byName[name]
	if !ok {
		return nil, errdefs.NotFound("data model", name)
	}
	return m, nil
}

// Elements returns every element in document order
func (t *Tree) Elements() []*Element {
	out := make([]*Element, len(t.elements))
	copy(out, t.elements)
	return out
}

// Index returns the document position of el, -1 if el is not in the tree
func (t *Tree) Index(el *Element) int {
	i, ok := t.index[el]
	if !ok {
		return -1
	}
	return i
}

// Relations returns the relation engine
func (t *Tree) Relations() *Relations {
	return t.relations
}

// Find resolves a dotted structural path such as "Model.block.field". The
// leading model name may be omitted when the tree holds a single model.
func (t *Tree) Find(path string) (*Element, error) {
	if path == "" {
		return nil, errdefs.NotFound("element", path)
	}

	head, rest, _ := strings.Cut(path, ".")
	if m, ok := t.byName[head]; ok {
		if rest == "" {
			return m, nil
		}
		if el := m.lookup(rest); el != nil {
			return el, nil
		}
	}
	if len(t.models) == 1 {
		if el := t.models[0].lookup(path); el != nil {
			return el, nil
		}
	}
	return nil, errdefs.NotFound("element", path)
}

// resolve finds a relation target relative to from: the nearest enclosing
// scope containing ref wins, then absolute paths.
func (t *Tree) resolve(from *Element, ref string) *Element {
	for scope := from.parent; scope != nil; scope = scope.parent {
		if el := scope.lookup(ref); el != nil {
			return el
		}
	}
	el, err := t.Find(ref)
	if err != nil {
		return nil
	}
	return el
}

// SetMutable applies one mutability selector rule and returns the number of
// matched elements. A rule that matches nothing is a configuration error.
func (t *Tree) SetMutable(expr string, allow bool) (int, error) {
	matches, err := t.Select(expr)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, errdefs.Config(expr, "path expression matches no element")
	}
	for _, el := range matches {
		el.SetMutable(allow)
	}
	return len(matches), nil
}

// Snapshot records the current leaf values as the baseline
func (t *Tree) Snapshot() {
	t.baseline = make(map[*Element][]byte, len(t.elements))
	for _, el := range t.elements {
		if !el.IsContainer() {
			t.baseline[el] = el.Raw()
		}
	}
}

// Reset restores every leaf to its baseline value and clears any pending
// relation suppression. Mutability flags are not part of the baseline.
func (t *Tree) Reset() {
	for el, raw := range t.baseline {
		el.raw = append(el.raw[:0], raw...)
	}
	t.relations.clearSuppressed()
}

// Digest hashes every leaf value, used to detect writes outside a mutation
func (t *Tree) Digest() [sha256.Size]byte {
	h := sha256.New()
	var n [8]byte
	for _, el := range t.elements {
		if el.IsContainer() {
			continue
		}
		binary.LittleEndian.PutUint64(n[:], uint64(len(el.raw)))
		h.Write(n[:])
		h.Write(el.raw)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Value returns the output bytes of the named data model
func (t *Tree) Value(model string) ([]byte, error) {
	m, err := t.Model(model)
	if err != nil {
		return nil, err
	}
	return m.Value()
}

// Consistent returns the relations whose element disagrees with its target
func (t *Tree) Consistent() ([]*Relation, error) {
	var broken []*Relation
	var errs []error
	for _, r := range t.relations.order {
		ok, err := r.Consistent()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.element.FullName(), err))
			continue
		}
		if !ok {
			broken = append(broken, r)
		}
	}
	return broken, errors.Join(errs...)
}
