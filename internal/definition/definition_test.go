package definition

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

const sample = `
models:
  - name: TheDataModel
    children:
      - type: string
        name: sizeRelation1
        value: "0"
        relation: {kind: size, of: string1}
      - type: string
        name: string1
        value: AAAAA
      - type: block
        name: header
        mutable: false
        children:
          - {type: number, name: magic, width: 16, endian: big, value: "0x4242"}
          - {type: blob, name: pad, hex: "0001ff"}
      - type: number
        name: hexlen
        width: 32
        transformer: IntToHex
        relation: {kind: size, of: string1}
state_models:
  - name: Default
    initial: Initial
    states:
      - name: Initial
        actions:
          - {name: send, type: output, model: TheDataModel}
tests:
  - name: Default
    state_model: Default
    wait_time: 0.25
    fault_wait_time: 1.5
    control_iteration_every: 10
    include: [SizedNumericalEdgeCasesMutator]
    exclude: [bitflip/1]
    mutables:
      - {allow: false, path: /TheDataModel/string1}
      - {allow: true, path: "//String[@name='string1']"}
    strategy: {class: Random, params: {max_mutations: 2}}
    publishers:
      - {name: out, class: Memory}
    agents:
      - {name: cores, class: CoreFile, params: {dir: /tmp}}
    loggers:
      - {name: log, class: Slog}
`

func TestParse_Build(t *testing.T) {
	doc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}

	tree, err := doc.Tree()
	if err != nil {
		t.Fatal(err)
	}
	rel, err := tree.Find("TheDataModel.sizeRelation1")
	if err != nil {
		t.Fatal(err)
	}
	if string(rel.Raw()) != "5" {
		t.Errorf("expected size relation to be computed, got %q", rel.Raw())
	}
	magic, _ := tree.Find("TheDataModel.header.magic")
	if v, _ := magic.Int(); v != 0x4242 || magic.IsMutable() {
		t.Errorf("unexpected magic %d mutable=%v", v, magic.IsMutable())
	}
	hexlen, _ := tree.Find("TheDataModel.hexlen")
	if out, _ := hexlen.Value(); string(out) != "5" {
		t.Errorf("expected IntToHex output 5, got %q", out)
	}

	test, err := doc.Test("Default")
	if err != nil {
		t.Fatal(err)
	}
	if test.WaitTime != 250*time.Millisecond || test.FaultWaitTime != 1500*time.Millisecond {
		t.Errorf("unexpected wait times %v %v", test.WaitTime, test.FaultWaitTime)
	}
	if test.Strategy.Class != "Random" || test.Strategy.Params["max_mutations"] != "2" {
		t.Errorf("unexpected strategy %+v", test.Strategy)
	}
	if len(test.Mutables) != 2 || test.Mutables[0].Allow || !test.Mutables[1].Allow {
		t.Errorf("unexpected mutables %+v", test.Mutables)
	}
	if len(test.Publishers) != 1 || len(test.Agents) != 1 || len(test.Loggers) != 1 {
		t.Error("expected all collaborator bindings")
	}
	if test.ControlIterationEvery != 10 {
		t.Errorf("expected control iterations every 10, got %d", test.ControlIterationEvery)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	doc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	tree, _ := doc.Tree()
	test, _ := doc.Test("")
	first := Export(tree, doc.StateModels, test)

	data, err := Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("exported document does not parse: %v\n%s", err, data)
	}
	tree2, err := again.Tree()
	if err != nil {
		t.Fatal(err)
	}
	test2, _ := again.Test("")
	second := Export(tree2, again.StateModels, test2)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip changed the document:\n%s", data)
	}

	orig, got := doc.Tests[0], second.Tests[0]
	if !reflect.DeepEqual(orig.Include, got.Include) || !reflect.DeepEqual(orig.Exclude, got.Exclude) {
		t.Error("include/exclude names were not preserved")
	}
	if !reflect.DeepEqual(orig.Mutables, got.Mutables) {
		t.Errorf("mutability rules were not preserved: %+v", got.Mutables)
	}
	if !reflect.DeepEqual(orig.Agents, got.Agents) || !reflect.DeepEqual(orig.Strategy, got.Strategy) {
		t.Error("bindings were not preserved")
	}
	if r := second.Models[0].Children[0].Relation; r == nil || r.Of != "string1" {
		t.Errorf("relation target was not preserved: %+v", r)
	}
	if second.Models[0].Children[2].Children[0].Endian != "big" {
		t.Error("number endianness was not preserved")
	}
}

func TestExport_MutableOverride(t *testing.T) {
	src := `
models:
  - name: M
    children:
      - type: block
        name: header
        mutable: false
        children:
          - {type: string, name: magic, value: FX}
          - {type: string, name: note, value: hi, mutable: true}
state_models:
  - name: S
    initial: A
    states:
      - name: A
tests:
  - name: Default
    state_model: S
`
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := doc.Tree()
	if err != nil {
		t.Fatal(err)
	}
	note, _ := tree.Find("M.header.note")
	magic, _ := tree.Find("M.header.magic")
	if !note.IsMutable() || magic.IsMutable() {
		t.Fatalf("expected only note to be mutable, got note=%v magic=%v", note.IsMutable(), magic.IsMutable())
	}

	test, _ := doc.Test("")
	exported := Export(tree, doc.StateModels, test)
	header := exported.Models[0].Children[0]
	if header.Mutable == nil || *header.Mutable {
		t.Errorf("expected the block to export mutable: false")
	}
	if header.Children[0].Mutable != nil {
		t.Errorf("expected magic to inherit, got %v", *header.Children[0].Mutable)
	}
	if m := header.Children[1].Mutable; m == nil || !*m {
		t.Errorf("expected note to export mutable: true")
	}

	data, err := Marshal(exported)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("exported document does not parse: %v\n%s", err, data)
	}
	tree2, _ := again.Tree()
	if n, _ := tree2.Find("M.header.note"); !n.IsMutable() {
		t.Error("note lost its mutable flag on reload")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
	}{
		{"unknown field", [2]string{"wait_time: 0.25", "wait_tme: 0.25"}},
		{"bad type", [2]string{"type: blob", "type: array"}},
		{"bad width", [2]string{"width: 16", "width: 12"}},
		{"bad relation kind", [2]string{"kind: size, of: string1}\n      - type: string", "kind: length, of: string1}\n      - type: string"}},
		{"dotted name", [2]string{"name: string1\n", "name: string.1\n"}},
		{"negative wait", [2]string{"wait_time: 0.25", "wait_time: -1"}},
		{"missing state model", [2]string{"state_model: Default", "state_model: Other"}},
		{"missing data model", [2]string{"model: TheDataModel", "model: Nope"}},
		{"binding without class", [2]string{"{name: out, class: Memory}", "{name: out}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := strings.Replace(sample, tt.replace[0], tt.replace[1], 1)
			if src == sample {
				t.Fatal("replacement did not apply")
			}
			if _, err := Parse([]byte(src)); !errdefs.IsConfig(err) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestTree_RelationErrors(t *testing.T) {
	src := strings.Replace(sample, "of: string1}\n      - type: string", "of: missing}\n      - type: string", 1)
	doc, err := Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Tree(); !errdefs.IsConfig(err) {
		t.Errorf("expected config error for unresolved relation, got %v", err)
	}
}

func TestDocument_Test(t *testing.T) {
	doc, _ := Parse([]byte(sample))
	if _, err := doc.Test("missing"); !errdefs.IsConfig(err) {
		t.Errorf("expected config error, got %v", err)
	}
	if _, err := doc.StateModel("Default"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	var defaults Test
	defaults.Name, defaults.StateModel = "t", "Default"
	if got := defaults.build(); got.FaultWaitTime != engine.DefaultFaultWaitTime || got.Strategy.Class != "Sequential" {
		t.Errorf("unexpected defaults %+v", got)
	}
}
