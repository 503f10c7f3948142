package dom

import (
	"strings"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// Query is a compiled path expression.
//
//	/Model/block/field    child steps from the document root
//	//String             any descendant whose kind is String
//	/Model//*[@name='x'] descendants of Model named x
//
// A step test matches an element name, a kind name or "*".
type Query struct {
	expr  string
	steps []step
}

type step struct {
	descendant bool
	test       string
	name       string // [@name='...'] predicate
}

// Compile parses a path expression
func Compile(expr string) (*Query, error) {
	if !strings.HasPrefix(expr, "/") {
		return nil, errdefs.Config(expr, "path expression must start with '/'")
	}

	q := &Query{expr: expr}
	rest := expr
	for rest != "" {
		var s step
		switch {
		case strings.HasPrefix(rest, "//"):
			s.descendant = true
			rest = rest[2:]
		case strings.HasPrefix(rest, "/"):
			rest = rest[1:]
		default:
			return nil, errdefs.Config(expr, "unexpected %q", rest)
		}

		end := strings.IndexAny(rest, "/[")
		if end < 0 {
			end = len(rest)
		}
		s.test = rest[:end]
		rest = rest[end:]

		if strings.HasPrefix(rest, "[") {
			closing := strings.IndexByte(rest, ']')
			if closing < 0 {
				return nil, errdefs.Config(expr, "unterminated predicate")
			}
			name, err := parsePredicate(rest[1:closing])
			if err != nil {
				return nil, errdefs.Config(expr, "%v", err)
			}
			s.name = name
			rest = rest[closing+1:]
		}

		if s.test == "" {
			return nil, errdefs.Config(expr, "empty step")
		}
		q.steps = append(q.steps, s)
	}
	return q, nil
}

func parsePredicate(p string) (string, error) {
	attr, value, ok := strings.Cut(p, "=")
	if !ok || strings.TrimSpace(attr) != "@name" {
		return "", errdefs.InvalidArgument("unsupported predicate [%s]", p)
	}
	value = strings.TrimSpace(value)
	if len(value) < 2 || (value[0] != '\'' && value[0] != '"') || value[len(value)-1] != value[0] {
		return "", errdefs.InvalidArgument("predicate value %s must be quoted", value)
	}
	return value[1 : len(value)-1], nil
}

// String returns the source expression
func (q *Query) String() string { return q.expr }

func (s step) match(e *Element) bool {
	if s.name != "" && e.name != s.name {
		return false
	}
	return s.test == "*" || s.test == e.name || s.test == e.kind.String()
}

// Select returns the matching elements of t in document order
func (q *Query) Select(t *Tree) []*Element {
	// nil stands for the document root above the data models
	current := []*Element{nil}

	for _, s := range q.steps {
		seen := make(map[*Element]bool)
		for _, node := range current {
			for _, cand := range t.candidates(node, s.descendant) {
				if !seen[cand] && s.match(cand) {
					seen[cand] = true
				}
			}
		}

		next := make([]*Element, 0, len(seen))
		for _, el := range t.elements {
			if seen[el] {
				next = append(next, el)
			}
		}
		current = next
		if len(current) == 0 {
			break
		}
	}
	return current
}

func (t *Tree) candidates(node *Element, descendant bool) []*Element {
	var roots []*Element
	if node == nil {
		roots = t.models
	} else {
		roots = node.children
	}
	if !descendant {
		return roots
	}

	var out []*Element
	for _, r := range roots {
		r.Walk(func(e *Element) bool {
			out = append(out, e)
			return true
		})
	}
	return out
}

// Select compiles expr and returns the matching elements in document order
func (t *Tree) Select(expr string) ([]*Element, error) {
	q, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return q.Select(t), nil
}
