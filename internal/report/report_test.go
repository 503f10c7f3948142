package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/strategy"
)

func summary() *engine.Summary {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &engine.Summary{
		RunID:      uuid.MustParse("6f1c1c4e-3c1f-4d7a-9d55-2d7c9a0c1b11"),
		Test:       "Default",
		Seed:       31337,
		Iterations: 8,
		Controls:   2,
		Failures:   1,
		Exhausted:  true,
		Started:    start,
		Finished:   start.Add(5 * time.Second),
		Faults: []*engine.FaultRecord{
			{
				Iteration:  3,
				Reproduced: true,
				Decision: &strategy.Decision{Index: 3, Mutations: []strategy.Mutation{
					{Element: "TheDataModel.sizeRelation1", Mutator: "SizedNumericalEdgeCasesMutator", Choice: 2},
				}},
				Fault: &engine.Fault{Title: "crash", Source: "cores", Data: map[string][]byte{"core.1": bytes.Repeat([]byte{0xaa}, 300)}},
			},
			{Iteration: 5, Fault: &engine.Fault{Title: "timeout"}},
			{Iteration: 7, Control: true, Fault: &engine.Fault{Title: "target unreachable"}},
		},
	}
}

func TestFromSummary(t *testing.T) {
	r := FromSummary(summary())

	if r.RunID != "6f1c1c4e-3c1f-4d7a-9d55-2d7c9a0c1b11" {
		t.Errorf("unexpected run id %s", r.RunID)
	}
	if r.Statistics.Faults != 3 || r.Statistics.Reproduced != 1 {
		t.Errorf("expected 3 faults with 1 reproduced, got %+v", r.Statistics)
	}
	if r.Statistics.Duration != 5*time.Second {
		t.Errorf("expected 5s duration, got %s", r.Statistics.Duration)
	}
	if r.Statistics.IterationsSec != 2 {
		t.Errorf("expected 2 iterations/sec, got %f", r.Statistics.IterationsSec)
	}

	want := []Status{StatusConfirmed, StatusTransient, StatusControl}
	for i, f := range r.Faults {
		if f.Status != want[i] {
			t.Errorf("fault %d: expected %s, got %s", i, want[i], f.Status)
		}
	}
	if len(r.Faults[0].Mutations) != 1 || r.Faults[0].Mutations[0].Choice != 2 {
		t.Errorf("expected the decision in the fault entry, got %+v", r.Faults[0].Mutations)
	}
	if d := r.Faults[0].Data["core.1"]; !strings.HasSuffix(d, "...") || len(d) != 2*maxData+3 {
		t.Errorf("expected truncated hex data, got %d chars", len(d))
	}
	if got := r.FilterByStatus(StatusTransient); len(got) != 1 || got[0].Iteration != 5 {
		t.Errorf("unexpected transient faults %+v", got)
	}
}

func TestJSONGenerator(t *testing.T) {
	r := FromSummary(summary())

	data, err := (&JSONGenerator{}).GenerateBytes(r)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	stats := decoded["statistics"].(map[string]any)
	if stats["duration"] != "5s" {
		t.Errorf("expected duration as string, got %v", stats["duration"])
	}
	if decoded["seed"].(float64) != 31337 {
		t.Errorf("expected seed 31337, got %v", decoded["seed"])
	}
}

func TestMarkdownGenerator(t *testing.T) {
	var buf bytes.Buffer
	if err := (&MarkdownGenerator{}).Generate(FromSummary(summary()), &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"# Default", "## Faults (3)", "Iteration 3: crash (confirmed)", "fluxcore replay --seed 31337 --iteration 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in markdown:\n%s", want, out)
		}
	}
}

func TestTextGenerator(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TextGenerator{}).Generate(FromSummary(summary()), &buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected summary plus 3 fault lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "seed 31337") {
		t.Errorf("unexpected summary line %q", lines[0])
	}
}

func TestHTMLGenerator(t *testing.T) {
	var buf bytes.Buffer
	r := FromSummary(summary())
	r.Faults[1].Title = "<script>"
	if err := NewHTMLGenerator().Generate(r, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `class="confirmed"`) {
		t.Error("expected status class in html")
	}
	if strings.Contains(out, "<script>") {
		t.Error("expected fault titles to be escaped")
	}

	if _, err := CustomHTMLGenerator("{{.Broken"); err == nil {
		t.Error("expected parse error for a broken template")
	}
}

func TestManager_Generate(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	r := FromSummary(summary())

	path, err := m.Generate(r, "json")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != r.RunID+".json" {
		t.Errorf("unexpected report path %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("report not written: %v", err)
	}

	if _, err := m.Generate(r, "pdf"); err == nil {
		t.Error("expected error for unknown format")
	}

	var buf bytes.Buffer
	if err := m.WriteToWriter(r, "md", &buf); err != nil || buf.Len() == 0 {
		t.Errorf("expected markdown output, got %v", err)
	}

	formats := m.Formats()
	if len(formats) != 5 || formats[0] != "html" {
		t.Errorf("unexpected formats %v", formats)
	}
}
