package plugin

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

type monitor struct {
	exe     string
	retries int
	wait    time.Duration
}

func newTestRegistry() *Registry[*monitor] {
	r := NewRegistry[*monitor]("monitor")
	r.Register(Spec[*monitor]{
		Name:        "PageHeap",
		Description: "test monitor",
		Params: []Parameter{
			{Name: "Executable", Type: TypeString, Required: true},
			{Name: "Retries", Type: TypeInt, Default: "3"},
			{Name: "Wait", Type: TypeDuration},
		},
		New: func(args Args) (*monitor, error) {
			return &monitor{
				exe:     args.String("Executable"),
				retries: args.Int("Retries"),
				wait:    args.Duration("Wait"),
			}, nil
		},
	})
	return r
}

func TestRegistry_Create(t *testing.T) {
	r := newTestRegistry()

	m, err := r.Create("PageHeap", map[string]string{"Executable": "target.exe", "Wait": "0.5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.exe != "target.exe" {
		t.Errorf("unexpected executable %q", m.exe)
	}
	if m.retries != 3 {
		t.Errorf("expected default retries 3, got %d", m.retries)
	}
	if m.wait != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", m.wait)
	}
}

func TestRegistry_CreateErrors(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name  string
		class string
		args  map[string]string
		msg   string
	}{
		{"missing required", "PageHeap", nil, "missing required parameter"},
		{"unknown parameter", "PageHeap", map[string]string{"Executable": "x", "Bogus": "1"}, "unknown parameter"},
		{"bad int", "PageHeap", map[string]string{"Executable": "x", "Retries": "many"}, "Retries"},
		{"unknown class", "Nope", nil, "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.class, tt.args)
			if !errdefs.IsConfig(err) {
				t.Fatalf("expected config error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("expected %q in %v", tt.msg, err)
			}
		})
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	r := NewRegistry[int]("thing")
	r.Register(Spec[int]{Name: "Broken", New: func(Args) (int, error) {
		return 0, errors.New("boom")
	}})

	_, err := r.Create("Broken", nil)
	if !errdefs.IsConfig(err) {
		t.Errorf("expected factory failure to be a config error, got %v", err)
	}
}

func TestRegistry_Specs(t *testing.T) {
	r := newTestRegistry()
	r.Register(Spec[*monitor]{Name: "Other"})
	r.Register(Spec[*monitor]{Name: "PageHeap"})

	specs := r.Specs()
	if len(specs) != 2 || specs[0].Name != "PageHeap" || specs[1].Name != "Other" {
		t.Errorf("unexpected specs %v", specs)
	}

	if _, err := r.Lookup("Missing"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
