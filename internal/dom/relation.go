package dom

import (
	"fmt"
	"sort"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// RelationKind is the derivation a relation element applies to its target
type RelationKind string

const (
	RelationSize   RelationKind = "size"
	RelationCount  RelationKind = "count"
	RelationOffset RelationKind = "offset"
)

// ParseRelationKind validates a relation kind name
func ParseRelationKind(s string) (RelationKind, error) {
	switch k := RelationKind(s); k {
	case RelationSize, RelationCount, RelationOffset:
		return k, nil
	default:
		return "", errdefs.InvalidArgument("unknown relation type %q", s)
	}
}

type relationDecl struct {
	kind RelationKind
	of   string
}

// Relation binds a relation element to the target its value is derived from
type Relation struct {
	kind    RelationKind
	of      string
	element *Element
	target  *Element
}

// Kind returns the derivation kind
func (r *Relation) Kind() RelationKind { return r.kind }

// Of returns the target reference as declared
func (r *Relation) Of() string { return r.of }

// Element returns the element holding the derived value
func (r *Relation) Element() *Element { return r.element }

// Target returns the element the value is derived from
func (r *Relation) Target() *Element { return r.target }

// Compute returns the value the relation element should hold for the
// target's current state
func (r *Relation) Compute() (int64, error) {
	switch r.kind {
	case RelationSize:
		n, err := r.target.Len()
		return int64(n), err
	case RelationCount:
		return int64(len(r.target.children)), nil
	case RelationOffset:
		return offsetOf(r.target)
	default:
		return 0, fmt.Errorf("unknown relation kind %q", r.kind)
	}
}

// Consistent reports whether the relation element holds the derived value
func (r *Relation) Consistent() (bool, error) {
	want, err := r.Compute()
	if err != nil {
		return false, err
	}
	got, err := r.element.Int()
	if err != nil {
		return false, nil
	}
	return got == want, nil
}

// offsetOf returns the byte offset of target from the start of its data model
func offsetOf(target *Element) (int64, error) {
	var offset int64
	var err error
	target.Root().Walk(func(e *Element) bool {
		if e == target {
			return false
		}
		if e.IsContainer() {
			return true
		}
		n, lerr := e.Len()
		if lerr != nil {
			err = lerr
			return false
		}
		offset += int64(n)
		return true
	})
	return offset, err
}

// Relations is the relation engine of one tree. It keeps an index from each
// relation element to its relation, a reverse index from targets to the
// relations derived from them, and a precomputed evaluation order.
type Relations struct {
	order      []*Relation
	byElement  map[*Element]*Relation
	dependents map[*Element][]*Relation
	suppressed map[*Element]bool
}

// Of returns the relation whose value is held by el
func (rs *Relations) Of(el *Element) *Relation {
	return rs.byElement[el]
}

// All returns every relation in evaluation order
func (rs *Relations) All() []*Relation {
	out := make([]*Relation, len(rs.order))
	copy(out, rs.order)
	return out
}

// DependentsOf returns the relations whose target is target
func (rs *Relations) DependentsOf(target *Element) []*Relation {
	return rs.dependents[target]
}

// Suppress exempts the relation element el from the next Recompute pass
func (rs *Relations) Suppress(el *Element) error {
	if _, ok := rs.byElement[el]; !ok {
		return errdefs.InvalidArgument("%s is not a relation element", el.FullName())
	}
	rs.suppressed[el] = true
	return nil
}

// IsSuppressed reports whether el will be skipped by the next Recompute
func (rs *Relations) IsSuppressed(el *Element) bool {
	return rs.suppressed[el]
}

// Recompute rewrites every relation element from its target in a single
// forward pass, skipping suppressed elements. Suppression is cleared afterwards.
func (rs *Relations) Recompute() error {
	defer rs.clearSuppressed()

	for _, r := range rs.order {
		if rs.suppressed[r.element] {
			continue
		}
		v, err := r.Compute()
		if err != nil {
			return fmt.Errorf("relation %s of %s: %w", r.element.FullName(), r.of, err)
		}
		if err := r.element.SetInt(v); err != nil {
			return fmt.Errorf("relation %s of %s: %w", r.element.FullName(), r.of, err)
		}
	}
	return nil
}

func (rs *Relations) clearSuppressed() {
	for k := range rs.suppressed {
		delete(rs.suppressed, k)
	}
}

// variableWidth reports whether rewriting el can change its output length
func variableWidth(el *Element) bool {
	return el.kind != KindNumber || el.transformer != nil
}

// bindRelations resolves every declared relation and computes the evaluation
// order. A relation must run after every variable-width relation element
// whose length it observes; a cycle among those is a configuration error.
func bindRelations(t *Tree) (*Relations, error) {
	rs := &Relations{
		byElement:  make(map[*Element]*Relation),
		dependents: make(map[*Element][]*Relation),
		suppressed: make(map[*Element]bool),
	}

	var declared []*Relation
	for _, el := range t.elements {
		if el.declared == nil {
			continue
		}
		if el.IsContainer() || el.kind == KindBlob {
			return nil, errdefs.Config(el.FullName(), "%s element cannot hold a relation", el.kind)
		}
		target := t.resolve(el, el.declared.of)
		if target == nil {
			return nil, errdefs.Config(el.FullName(), "relation %s of %q: target not found", el.declared.kind, el.declared.of)
		}
		if el.declared.kind == RelationCount && !target.IsContainer() {
			return nil, errdefs.Config(el.FullName(), "count relation target %q is not a container", el.declared.of)
		}
		r := &Relation{kind: el.declared.kind, of: el.declared.of, element: el, target: target}
		el.relation = r
		rs.byElement[el] = r
		rs.dependents[target] = append(rs.dependents[target], r)
		declared = append(declared, r)
	}

	order, err := orderRelations(t, declared)
	if err != nil {
		return nil, err
	}
	rs.order = order

	for _, el := range t.elements {
		if el.IsContainer() {
			continue
		}
		for _, r := range order {
			if r.kind != RelationCount && observes(t, r, el) {
				el.observers = append(el.observers, r)
			}
		}
	}
	return rs, nil
}

// orderRelations topologically sorts relations, ties broken by document order
func orderRelations(t *Tree, relations []*Relation) ([]*Relation, error) {
	indegree := make(map[*Relation]int, len(relations))
	edges := make(map[*Relation][]*Relation, len(relations))

	for _, r := range relations {
		indegree[r] += 0
		for _, dep := range relations {
			if !variableWidth(dep.element) || !observes(t, r, dep.element) {
				continue
			}
			if dep == r {
				return nil, errdefs.Config(r.element.FullName(), "cyclic relation graph: %s depends on its own length", r.element.FullName())
			}
			edges[dep] = append(edges[dep], r)
			indegree[r]++
		}
	}

	byDoc := func(list []*Relation) {
		sort.SliceStable(list, func(i, j int) bool {
			return t.index[list[i].element] < t.index[list[j].element]
		})
	}

	var ready []*Relation
	for _, r := range relations {
		if indegree[r] == 0 {
			ready = append(ready, r)
		}
	}
	byDoc(ready)

	order := make([]*Relation, 0, len(relations))
	for len(ready) > 0 {
		r := ready[0]
		ready = ready[1:]
		order = append(order, r)

		var next []*Relation
		for _, succ := range edges[r] {
			indegree[succ]--
			if indegree[succ] == 0 {
				next = append(next, succ)
			}
		}
		ready = append(ready, next...)
		byDoc(ready)
	}

	if len(order) != len(relations) {
		var stuck []string
		for _, r := range relations {
			if indegree[r] > 0 {
				stuck = append(stuck, r.element.FullName())
			}
		}
		return nil, errdefs.Config("relations", "cyclic relation graph among %v", stuck)
	}
	return order, nil
}

// observes reports whether r's derived value depends on the length of el
func observes(t *Tree, r *Relation, el *Element) bool {
	switch r.kind {
	case RelationSize:
		return isDescendant(el, r.target)
	case RelationOffset:
		return el.Root() == r.target.Root() && t.index[el] < t.index[r.target] && !isDescendant(r.target, el)
	default:
		return false
	}
}

// isDescendant reports whether el is node or lies below it
func isDescendant(el, node *Element) bool {
	for cur := el; cur != nil; cur = cur.parent {
		if cur == node {
			return true
		}
	}
	return false
}
