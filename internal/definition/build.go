package definition

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/fluxfuzzer/fluxcore/internal/dom"
	"github.com/fluxfuzzer/fluxcore/internal/engine"
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/statemodel"
	"github.com/fluxfuzzer/fluxcore/internal/transform"
)

// Tree builds the data model tree of the document
func (d *Document) Tree() (*dom.Tree, error) {
	models := make([]*dom.Element, 0, len(d.Models))
	for _, m := range d.Models {
		root := dom.NewDataModel(m.Name)
		for _, c := range m.Children {
			el, err := buildElement(c)
			if err != nil {
				return nil, err
			}
			root.Append(el)
		}
		for i, c := range root.Children() {
			applyMutable(c, m.Children[i])
		}
		models = append(models, root)
	}
	return dom.NewTree(models...)
}

// applyMutable sets the declared flags top-down, so a child's own flag wins
// over the one its block propagated
func applyMutable(el *dom.Element, e Element) {
	if e.Mutable != nil {
		el.SetMutable(*e.Mutable)
	}
	for i, c := range el.Children() {
		applyMutable(c, e.Children[i])
	}
}

func buildElement(e Element) (*dom.Element, error) {
	var opts []dom.Option
	if e.Relation != nil {
		kind, err := dom.ParseRelationKind(e.Relation.Kind)
		if err != nil {
			return nil, errdefs.WrapConfig(e.Name, err)
		}
		opts = append(opts, dom.WithRelation(kind, e.Relation.Of))
	}
	if e.Transformer != "" {
		t, err := transform.New(e.Transformer)
		if err != nil {
			return nil, errdefs.WrapConfig(e.Name, err)
		}
		opts = append(opts, dom.WithTransformer(t))
	}

	switch e.Type {
	case "string":
		return dom.NewString(e.Name, e.Value, opts...), nil

	case "number":
		if e.Signed {
			opts = append(opts, dom.Signed())
		}
		if e.Endian == "big" {
			opts = append(opts, dom.BigEndian())
		}
		width := e.Width
		if width == 0 {
			width = 32
		}
		var v int64
		if e.Value != "" {
			var err error
			if v, err = strconv.ParseInt(e.Value, 0, 64); err != nil {
				return nil, errdefs.Config(e.Name, "bad number value %q", e.Value)
			}
		}
		return dom.NewNumber(e.Name, width, v, opts...), nil

	case "blob":
		data, err := hex.DecodeString(strings.TrimPrefix(e.Hex, "0x"))
		if err != nil {
			return nil, errdefs.Config(e.Name, "bad hex value: %v", err)
		}
		return dom.NewBlob(e.Name, data, opts...), nil

	case "block":
		block := dom.NewBlock(e.Name)
		for _, c := range e.Children {
			child, err := buildElement(c)
			if err != nil {
				return nil, err
			}
			block.Append(child)
		}
		if e.Relation != nil || e.Transformer != "" {
			return nil, errdefs.Config(e.Name, "blocks cannot carry a relation or transformer")
		}
		return block, nil
	}
	return nil, errdefs.Config(e.Name, "unknown element type %q", e.Type)
}

// Test returns the named test, or the first one when name is empty
func (d *Document) Test(name string) (*engine.Test, error) {
	for _, t := range d.Tests {
		if name == "" || t.Name == name {
			return t.build(), nil
		}
	}
	return nil, errdefs.WrapConfig("definition", errdefs.NotFound("test", name))
}

func (t Test) build() *engine.Test {
	out := engine.NewTest(t.Name)
	out.StateModel = t.StateModel
	out.WaitTime = seconds(t.WaitTime)
	if t.FaultWaitTime != nil {
		out.FaultWaitTime = seconds(*t.FaultWaitTime)
	}
	out.ControlIterationEvery = t.ControlIterationEvery
	out.IncludedMutators = t.Include
	out.ExcludedMutators = t.Exclude
	for _, m := range t.Mutables {
		out.AddMutable(m.Allow, m.Path)
	}
	if t.Strategy != nil {
		out.SetStrategy(t.Strategy.binding())
	}
	for _, b := range t.Publishers {
		out.BindPublisher(b.binding())
	}
	for _, b := range t.Agents {
		out.BindAgent(b.binding())
	}
	for _, b := range t.Loggers {
		out.BindLogger(b.binding())
	}
	return out
}

func (b Binding) binding() engine.Binding {
	return engine.Binding{Name: b.Name, Class: b.Class, Params: b.Params}
}

// StateModel returns the named state model
func (d *Document) StateModel(name string) (*statemodel.Model, error) {
	for _, sm := range d.StateModels {
		if sm.Name == name {
			return sm, nil
		}
	}
	return nil, errdefs.WrapConfig("definition", errdefs.NotFound("state model", name))
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
