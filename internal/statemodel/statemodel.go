// Package statemodel describes how an iteration talks to the target: a set of
// states, each a list of actions that send data models through publishers,
// read responses or move to another state.
package statemodel

import (
	"fmt"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// ActionType defines the type of an action
type ActionType string

const (
	ActionOutput      ActionType = "output"       // send a data model
	ActionInput       ActionType = "input"        // read from the target
	ActionChangeState ActionType = "change_state" // jump to another state
)

// Action is one step of a state
type Action struct {
	Name      string     `yaml:"name" json:"name"`
	Type      ActionType `yaml:"type" json:"type"`
	Publisher string     `yaml:"publisher,omitempty" json:"publisher,omitempty"`
	Model     string     `yaml:"model,omitempty" json:"model,omitempty"`
	Target    string     `yaml:"target,omitempty" json:"target,omitempty"`
}

// State is a named list of actions
type State struct {
	Name    string   `yaml:"name" json:"name"`
	Actions []Action `yaml:"actions" json:"actions"`
}

// Model is a complete state machine
type Model struct {
	Name    string  `yaml:"name" json:"name"`
	Initial string  `yaml:"initial" json:"initial"`
	States  []State `yaml:"states" json:"states"`
}

// GetState returns the state with the given name and its index
func (m *Model) GetState(name string) (*State, int) {
	for i := range m.States {
		if m.States[i].Name == name {
			return &m.States[i], i
		}
	}
	return nil, -1
}

// Validate checks the state machine
func (m *Model) Validate() error {
	if m.Name == "" {
		return errdefs.Config("state model", "name is required")
	}
	subject := "state model " + m.Name
	if len(m.States) == 0 {
		return errdefs.Config(subject, "at least one state is required")
	}

	names := make(map[string]bool)
	for _, s := range m.States {
		if s.Name == "" {
			return errdefs.Config(subject, "state name is required")
		}
		if names[s.Name] {
			return errdefs.Config(subject, "duplicate state name %q", s.Name)
		}
		names[s.Name] = true
	}

	initial := m.Initial
	if initial == "" {
		initial = m.States[0].Name
	}
	if !names[initial] {
		return errdefs.Config(subject, "initial state %q not found", initial)
	}

	for _, s := range m.States {
		for i, a := range s.Actions {
			where := fmt.Sprintf("state %s action %d", s.Name, i)
			switch a.Type {
			case ActionOutput:
				if a.Model == "" {
					return errdefs.Config(subject, "%s: output requires a model", where)
				}
			case ActionInput:
			case ActionChangeState:
				if !names[a.Target] {
					return errdefs.Config(subject, "%s: target state %q not found", where, a.Target)
				}
			default:
				return errdefs.Config(subject, "%s: unknown action type %q", where, a.Type)
			}
		}
	}
	return nil
}

// InitialState returns the state execution starts in
func (m *Model) InitialState() string {
	if m.Initial != "" {
		return m.Initial
	}
	if len(m.States) > 0 {
		return m.States[0].Name
	}
	return ""
}

// Publishers returns the publisher names the actions refer to
func (m *Model) Publishers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.States {
		for _, a := range s.Actions {
			if a.Publisher != "" && !seen[a.Publisher] {
				seen[a.Publisher] = true
				out = append(out, a.Publisher)
			}
		}
	}
	return out
}
