package statemodel

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/publisher"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
)

func newIteration(t *testing.T) *engine.Iteration {
	t.Helper()
	tree, err := dom.NewTree(
		dom.NewDataModel("Request",
			dom.NewNumber("len", 8, 0, dom.WithRelation(dom.RelationSize, "body")),
			dom.NewString("body", "hello"),
		),
		dom.NewDataModel("Bye", dom.NewString("word", "bye")),
	)
	if err != nil {
		t.Fatal(err)
	}
	return &engine.Iteration{Index: 1, Tree: tree, Decision: &strategy.Decision{Index: 1}}
}

func pingPong() *Model {
	return &Model{
		Name:    "Default",
		Initial: "Start",
		States: []State{
			{Name: "Start", Actions: []Action{
				{Name: "send", Type: ActionOutput, Model: "Request"},
				{Name: "recv", Type: ActionInput},
				{Name: "next", Type: ActionChangeState, Target: "End"},
				{Name: "skipped", Type: ActionOutput, Model: "Request"},
			}},
			{Name: "End", Actions: []Action{
				{Name: "bye", Type: ActionOutput, Model: "Bye"},
			}},
		},
	}
}

func TestModel_Validate(t *testing.T) {
	tests := []struct {
		name  string
		model *Model
	}{
		{"no name", &Model{States: []State{{Name: "a"}}}},
		{"no states", &Model{Name: "m"}},
		{"duplicate state", &Model{Name: "m", States: []State{{Name: "a"}, {Name: "a"}}}},
		{"missing initial", &Model{Name: "m", Initial: "x", States: []State{{Name: "a"}}}},
		{"bad target", &Model{Name: "m", States: []State{{Name: "a", Actions: []Action{{Type: ActionChangeState, Target: "b"}}}}}},
		{"output without model", &Model{Name: "m", States: []State{{Name: "a", Actions: []Action{{Type: ActionOutput}}}}}},
		{"unknown type", &Model{Name: "m", States: []State{{Name: "a", Actions: []Action{{Type: "call"}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.model.Validate(); !errdefs.IsConfig(err) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}

	if err := pingPong().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecutor_RunsActions(t *testing.T) {
	mem := publisher.NewMemory()
	mem.Queue([]byte("pong"))
	exec, err := NewExecutor(pingPong(), map[string]publisher.Publisher{"out": mem})
	if err != nil {
		t.Fatal(err)
	}

	it := newIteration(t)
	res, err := exec.Execute(context.Background(), it)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fault != nil {
		t.Fatalf("unexpected fault %+v", res.Fault)
	}

	outs := mem.Outputs()
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if string(outs[0]) != "\x05hello" || string(outs[1]) != "bye" {
		t.Errorf("unexpected outputs %q", outs)
	}
	if opened, closed := mem.Sessions(); opened != 1 || closed != 1 {
		t.Errorf("expected one publisher session, got %d/%d", opened, closed)
	}
}

type actionRecorder struct {
	engine.NopListener
	actions *[]engine.Action
}

func (r *actionRecorder) ActionFinished(it *engine.Iteration, a engine.Action) {
	*r.actions = append(*r.actions, a)
}

func TestExecutor_ActionNotifications(t *testing.T) {
	mem := publisher.NewMemory()
	exec, _ := NewExecutor(pingPong(), map[string]publisher.Publisher{"out": mem})

	var actions []engine.Action
	tree := newIteration(t).Tree
	e, err := engine.New(engine.NewTest("t"), tree, exec, strategy.NewSequential(),
		engine.WithIterations(1), engine.WithListener(&actionRecorder{actions: &actions}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{"send", "recv", "next", "bye"}
	if len(actions) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(actions))
	}
	for i, name := range want {
		if actions[i].Name != name {
			t.Errorf("action %d: expected %s, got %s", i, name, actions[i].Name)
		}
	}
	if actions[3].State != "End" {
		t.Errorf("expected the last action in state End, got %s", actions[3].State)
	}
}

func TestExecutor_MaxSteps(t *testing.T) {
	loop := &Model{Name: "loop", States: []State{
		{Name: "a", Actions: []Action{{Name: "again", Type: ActionChangeState, Target: "a"}}},
	}}
	exec, err := NewExecutor(loop, nil, WithMaxSteps(10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Execute(context.Background(), newIteration(t)); !errors.Is(err, ErrMaxSteps) {
		t.Errorf("expected ErrMaxSteps, got %v", err)
	}
}

func TestExecutor_UnboundPublisher(t *testing.T) {
	m := pingPong()
	m.States[0].Actions[0].Publisher = "missing"
	if _, err := NewExecutor(m, map[string]publisher.Publisher{"out": publisher.NewMemory()}); !errdefs.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
	if _, err := NewExecutor(pingPong(), nil); !errdefs.IsConfig(err) {
		t.Errorf("expected config error without publishers, got %v", err)
	}
}

func TestExecutor_UnreachableIsFault(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p, err := publisher.NewHTTP(&publisher.HTTPOptions{URL: "http://" + addr + "/"})
	if err != nil {
		t.Fatal(err)
	}
	exec, _ := NewExecutor(pingPong(), map[string]publisher.Publisher{"web": p})

	res, err := exec.Execute(context.Background(), newIteration(t))
	if err != nil {
		t.Fatalf("expected a fault, not an error: %v", err)
	}
	if res.Fault == nil || res.Fault.Title != "target unreachable" || res.Fault.Source != "web" {
		t.Fatalf("unexpected fault %+v", res.Fault)
	}
	if string(res.Fault.Data["send"]) != "\x05hello" {
		t.Errorf("expected the sent data in the fault, got %q", res.Fault.Data["send"])
	}
}
