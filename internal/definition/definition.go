// Package definition loads and writes run definitions: the YAML document
// holding data models, state models and tests.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
	"github.com/fluxfuzzer/fluxcore/internal/statemodel"
)

// Document is a complete run definition
type Document struct {
	Models      []DataModel         `yaml:"models" validate:"required,min=1,dive"`
	StateModels []*statemodel.Model `yaml:"state_models" validate:"required,min=1,dive,required"`
	Tests       []Test              `yaml:"tests" validate:"required,min=1,dive"`
}

// DataModel is a top-level data model
type DataModel struct {
	Name     string    `yaml:"name" validate:"required,elemname"`
	Children []Element `yaml:"children" validate:"dive"`
}

// Element is one data model element. Value holds the text of a string or
// the integer literal of a number; Hex holds the bytes of a blob.
type Element struct {
	Type        string    `yaml:"type" validate:"required,oneof=string number blob block"`
	Name        string    `yaml:"name" validate:"required,elemname"`
	Value       string    `yaml:"value,omitempty"`
	Hex         string    `yaml:"hex,omitempty" validate:"omitempty,hexadecimal"`
	Width       int       `yaml:"width,omitempty" validate:"omitempty,oneof=8 16 32 64"`
	Signed      bool      `yaml:"signed,omitempty"`
	Endian      string    `yaml:"endian,omitempty" validate:"omitempty,oneof=little big"`
	Mutable     *bool     `yaml:"mutable,omitempty"`
	Transformer string    `yaml:"transformer,omitempty"`
	Relation    *Relation `yaml:"relation,omitempty"`
	Children    []Element `yaml:"children,omitempty" validate:"dive"`
}

// Relation declares a size, count or offset relation
type Relation struct {
	Kind string `yaml:"kind" validate:"required,oneof=size count offset"`
	Of   string `yaml:"of" validate:"required"`
}

// Test configures one fuzzing run. Times are fractional seconds.
type Test struct {
	Name                  string    `yaml:"name" validate:"required"`
	StateModel            string    `yaml:"state_model" validate:"required"`
	WaitTime              float64   `yaml:"wait_time,omitempty" validate:"gte=0"`
	FaultWaitTime         *float64  `yaml:"fault_wait_time,omitempty" validate:"omitempty,gte=0"`
	ControlIterationEvery int       `yaml:"control_iteration_every,omitempty" validate:"gte=0"`
	Include               []string  `yaml:"include,omitempty"`
	Exclude               []string  `yaml:"exclude,omitempty"`
	Mutables              []Mutable `yaml:"mutables,omitempty" validate:"dive"`
	Strategy              *Binding  `yaml:"strategy,omitempty"`
	Publishers            []Binding `yaml:"publishers,omitempty" validate:"dive"`
	Agents                []Binding `yaml:"agents,omitempty" validate:"dive"`
	Loggers               []Binding `yaml:"loggers,omitempty" validate:"dive"`
}

// Mutable is one mutability rule
type Mutable struct {
	Allow bool   `yaml:"allow"`
	Path  string `yaml:"path" validate:"required"`
}

// Binding names a collaborator class and its parameters
type Binding struct {
	Name   string            `yaml:"name,omitempty"`
	Class  string            `yaml:"class" validate:"required"`
	Params map[string]string `yaml:"params,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("elemname", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), ".[]/")
	})
}

// LoadFile reads and parses a run definition
func LoadFile(path string) (*Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse strictly decodes and validates a run definition. Unknown fields are
// configuration errors.
func Parse(data []byte) (*Document, error) {
	var doc Document

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, errdefs.WrapConfig("definition", fmt.Errorf("failed to parse YAML: %w", err))
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks field constraints and cross references
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return errdefs.WrapConfig("definition", describe(err))
	}

	models := make(map[string]bool)
	for _, m := range d.Models {
		if models[m.Name] {
			return errdefs.Config("definition", "duplicate data model %q", m.Name)
		}
		models[m.Name] = true
	}

	states := make(map[string]bool)
	for _, sm := range d.StateModels {
		if states[sm.Name] {
			return errdefs.Config("definition", "duplicate state model %q", sm.Name)
		}
		states[sm.Name] = true
		if err := sm.Validate(); err != nil {
			return err
		}
		for _, s := range sm.States {
			for _, a := range s.Actions {
				if a.Type == statemodel.ActionOutput && !models[a.Model] {
					return errdefs.Config("state model "+sm.Name, "action %q: data model %q not found", a.Name, a.Model)
				}
			}
		}
	}

	tests := make(map[string]bool)
	for _, t := range d.Tests {
		if tests[t.Name] {
			return errdefs.Config("definition", "duplicate test %q", t.Name)
		}
		tests[t.Name] = true
		if !states[t.StateModel] {
			return errdefs.Config("test "+t.Name, "state model %q not found", t.StateModel)
		}
	}
	return nil
}

// describe flattens validator errors into one readable error
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Marshal encodes d as YAML
func Marshal(d *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
