// Package plugin is the explicit registry behind every named, configurable
// collaborator (strategies, publishers, monitors, loggers). A class is
// registered once with its parameter schema and a factory; run definitions
// refer to it by name and pass string arguments that are checked against the
// schema before the factory runs.
package plugin

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// Parameter types understood by Args accessors
const (
	TypeString   = "string"
	TypeInt      = "int"
	TypeBool     = "bool"
	TypeFloat    = "float"
	TypeDuration = "duration"
)

// Parameter describes one named argument of a class
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     string
}

// Spec describes a registered class
type Spec[T any] struct {
	Name        string
	Description string
	Params      []Parameter
	New         func(args Args) (T, error)
}

// Registry maps class names to specs for one collaborator kind
type Registry[T any] struct {
	kind  string
	mu    sync.RWMutex
	specs map[string]Spec[T]
	order []string
}

// NewRegistry creates an empty registry. kind names the collaborator in errors.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:  kind,
		specs: make(map[string]Spec[T]),
	}
}

// Register adds or replaces a class
func (r *Registry[T]) Register(spec Spec[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.specs[spec.Name] = spec
}

// Lookup returns the Spec registered as name
func (r *Registry[T]) Lookup(name string) (Spec[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return Spec[T]{}, errdefs.NotFound(r.kind, name)
	}
	return spec, nil
}

// Specs returns every registered spec in registration order
func (r *Registry[T]) Specs() []Spec[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec[T], 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Create validates args against the class schema and builds an instance.
// Unknown classes, unknown or malformed parameters and missing required
// parameters are configuration errors.
func (r *Registry[T]) Create(name string, args map[string]string) (T, error) {
	var zero T

	spec, err := r.Lookup(name)
	if err != nil {
		return zero, errdefs.WrapConfig(r.kind, err)
	}

	resolved, err := spec.resolve(r.kind, args)
	if err != nil {
		return zero, err
	}

	v, err := spec.New(resolved)
	if err != nil {
		if errdefs.IsConfig(err) {
			return zero, err
		}
		return zero, errdefs.WrapConfig(r.kind+" "+name, err)
	}
	return v, nil
}

func (s Spec[T]) resolve(kind string, args map[string]string) (Args, error) {
	subject := kind + " " + s.Name
	known := make(map[string]Parameter, len(s.Params))
	for _, p := range s.Params {
		known[p.Name] = p
	}

	var unknown []string
	for k := range args {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errdefs.Config(subject, "unknown parameter %q", unknown[0])
	}

	out := make(Args, len(s.Params))
	for _, p := range s.Params {
		v, ok := args[p.Name]
		if !ok {
			if p.Required {
				return nil, errdefs.Config(subject, "missing required parameter %q", p.Name)
			}
			if p.Default == "" {
				continue
			}
			v = p.Default
		}
		if err := checkType(p.Type, v); err != nil {
			return nil, errdefs.Config(subject, "parameter %q: %v", p.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}

func checkType(typ, v string) error {
	var err error
	switch typ {
	case TypeInt:
		_, err = strconv.Atoi(v)
	case TypeBool:
		_, err = strconv.ParseBool(v)
	case TypeFloat:
		_, err = strconv.ParseFloat(v, 64)
	case TypeDuration:
		_, err = parseDuration(v)
	}
	return err
}

// parseDuration accepts Go durations and plain fractional seconds
func parseDuration(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Args holds validated parameter values
type Args map[string]string

// String returns the value of name, empty when unset
func (a Args) String(name string) string {
	return a[name]
}

// Has reports whether name was given or defaulted
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Int returns the value of name as an int, 0 when unset
func (a Args) Int(name string) int {
	v, _ := strconv.Atoi(a[name])
	return v
}

// Bool returns the value of name as a bool, false when unset
func (a Args) Bool(name string) bool {
	v, _ := strconv.ParseBool(a[name])
	return v
}

// Float returns the value of name as a float64, 0 when unset
func (a Args) Float(name string) float64 {
	v, _ := strconv.ParseFloat(a[name], 64)
	return v
}

// Duration returns the value of name as a duration, 0 when unset
func (a Args) Duration(name string) time.Duration {
	v, _ := parseDuration(a[name])
	return v
}
