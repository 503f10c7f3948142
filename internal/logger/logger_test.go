package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
)

func events(l engine.Listener) {
	it := &engine.Iteration{Index: 3, Decision: &strategy.Decision{Index: 3}}
	rec := &engine.FaultRecord{Iteration: 3, Reproduced: true, Fault: &engine.Fault{Title: "crash"}}

	l.TestStarting(&engine.RunInfo{RunID: uuid.New(), Test: "Default", Seed: 7})
	l.IterationStarting(it)
	l.ActionFinished(it, engine.Action{Name: "send", State: "Initial", Data: []byte{0xab}})
	l.IterationFinished(it, &engine.IterationResult{Err: errors.New("closed")})
	l.FaultDetected(it, rec)
	l.ReproductionFinished(it, rec)
	l.TestFinished(&engine.Summary{Test: "Default", Iterations: 3, Faults: []*engine.FaultRecord{rec}})
}

func TestSlog(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	events(l)

	out := buf.String()
	for _, want := range []string{"test starting", "seed=7", "iteration failed", "error=closed", "fault detected", "title=crash", "reproduced=true", "test finished"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output:\n%s", want, out)
		}
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLines(&buf)
	events(l)
	if l.Err() != nil {
		t.Fatal(l.Err())
	}

	var got []Event
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, ev)
	}

	want := []string{"test_starting", "iteration_starting", "action_finished", "iteration_finished", "fault_detected", "reproduction_finished", "test_finished"}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Event != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i].Event)
		}
	}
	if got[0].Seed == nil || *got[0].Seed != 7 {
		t.Error("expected the seed in test_starting")
	}
	if got[2].Data != "ab" {
		t.Errorf("expected hex data, got %q", got[2].Data)
	}
	if got[5].Reproduced == nil || !*got[5].Reproduced {
		t.Error("expected reproduced=true")
	}
}

func TestRegistry(t *testing.T) {
	if _, err := Registry.Create("JsonLines", nil); !errdefs.IsConfig(err) {
		t.Errorf("expected config error for missing path, got %v", err)
	}
	l, err := Registry.Create("JsonLines", map[string]string{"path": filepath.Join(t.TempDir(), "events.jsonl")})
	if err != nil {
		t.Fatal(err)
	}
	_ = l.(*JSONLines).Close()

	if _, err := Registry.Create("Slog", map[string]string{"level": "loud"}); !errdefs.IsConfig(err) {
		t.Errorf("expected config error for bad level, got %v", err)
	}
}
