package definition

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/statemodel"
)

// Export writes a tree, its state models and tests back into a document.
// Element values are taken from the tree's current values.
func Export(tree *dom.Tree, stateModels []*statemodel.Model, tests ...*engine.Test) *Document {
	doc := &Document{StateModels: stateModels}
	for _, m := range tree.Models() {
		dm := DataModel{Name: m.Name()}
		for _, c := range m.Children() {
			dm.Children = append(dm.Children, exportElement(c, true))
		}
		doc.Models = append(doc.Models, dm)
	}
	for _, t := range tests {
		doc.Tests = append(doc.Tests, exportTest(t))
	}
	return doc
}

// exportElement writes el. inherited is the flag el would get from its
// block on reload; the mutable key is only written when el differs from it.
func exportElement(el *dom.Element, inherited bool) Element {
	out := Element{
		Type: strings.ToLower(el.Kind().String()),
		Name: el.Name(),
	}
	if m := el.IsMutable(); m != inherited {
		out.Mutable = &m
	}
	if kind, of, ok := el.DeclaredRelation(); ok {
		out.Relation = &Relation{Kind: string(kind), Of: of}
	}
	if t := el.Transformer(); t != nil {
		out.Transformer = t.Name()
	}

	switch el.Kind() {
	case dom.KindString:
		out.Value = string(el.Raw())
	case dom.KindNumber:
		out.Width = el.Width()
		out.Signed = el.IsSigned()
		if el.IsBigEndian() {
			out.Endian = "big"
		}
		if v, err := el.Int(); err == nil {
			out.Value = strconv.FormatInt(v, 10)
		}
	case dom.KindBlob:
		out.Hex = hex.EncodeToString(el.Raw())
	case dom.KindBlock:
		for _, c := range el.Children() {
			out.Children = append(out.Children, exportElement(c, el.IsMutable()))
		}
	}
	return out
}

func exportTest(t *engine.Test) Test {
	out := Test{
		Name:                  t.Name,
		StateModel:            t.StateModel,
		WaitTime:              t.WaitTime.Seconds(),
		ControlIterationEvery: t.ControlIterationEvery,
		Include:               t.IncludedMutators,
		Exclude:               t.ExcludedMutators,
	}
	if t.FaultWaitTime != engine.DefaultFaultWaitTime {
		f := t.FaultWaitTime.Seconds()
		out.FaultWaitTime = &f
	}
	for _, m := range t.Mutables {
		out.Mutables = append(out.Mutables, Mutable{Allow: m.Allow, Path: m.Path})
	}
	if t.Strategy.Class != "" {
		b := exportBinding(t.Strategy)
		out.Strategy = &b
	}
	for _, b := range t.Publishers {
		out.Publishers = append(out.Publishers, exportBinding(b))
	}
	for _, b := range t.Agents {
		out.Agents = append(out.Agents, exportBinding(b))
	}
	for _, b := range t.Loggers {
		out.Loggers = append(out.Loggers, exportBinding(b))
	}
	return out
}

func exportBinding(b engine.Binding) Binding {
	return Binding{Name: b.Name, Class: b.Class, Params: b.Params}
}
