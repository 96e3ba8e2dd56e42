// Package models defines the core domain models for declarative codemod workflows.
package models

import "fmt"

// Workflow is a versioned, declarative pipeline definition. It is loaded once
// and treated as immutable for the lifetime of every run created from it.
type Workflow struct {
	Version   string        `json:"version"             yaml:"version"             validate:"required"`
	Name      string        `json:"name,omitempty"      yaml:"name,omitempty"`
	State     *SimpleSchema `json:"state,omitempty"     yaml:"state,omitempty"`
	Params    *SimpleSchema `json:"params,omitempty"    yaml:"params,omitempty"`
	Templates []*Template   `json:"templates,omitempty" yaml:"templates,omitempty" validate:"dive"`
	Nodes     []*Node       `json:"nodes"               yaml:"nodes"               validate:"required,min=1,dive"`
}

// NodeType distinguishes nodes that run as soon as their dependencies complete
// from nodes that wait for a human approval before running.
type NodeType string

const (
	NodeTypeAutomatic NodeType = "automatic"
	NodeTypeManual    NodeType = "manual"
)

// Node is one schedulable unit of work inside a workflow definition.
type Node struct {
	ID          string            `json:"id"                    yaml:"id"                    validate:"required"`
	Name        string            `json:"name,omitempty"        yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Type        NodeType          `json:"type,omitempty"        yaml:"type,omitempty"        validate:"omitempty,oneof=automatic manual"`
	DependsOn   []string          `json:"depends_on,omitempty"  yaml:"depends_on,omitempty"`
	Trigger     *Trigger          `json:"trigger,omitempty"     yaml:"trigger,omitempty"`
	Strategy    *Strategy         `json:"strategy,omitempty"    yaml:"strategy,omitempty"`
	Runtime     *Runtime          `json:"runtime,omitempty"     yaml:"runtime,omitempty"`
	Steps       []*Step           `json:"steps"                 yaml:"steps"                 validate:"dive"`
	Env         map[string]string `json:"env,omitempty"         yaml:"env,omitempty"`
	If          string            `json:"if,omitempty"          yaml:"if,omitempty"`
}

// IsManual reports whether the node requires an approval gate before running.
// A node is gated either by its declared type or by an explicit manual trigger.
func (n *Node) IsManual() bool {
	if n.Type == NodeTypeManual {
		return true
	}

	return n.Trigger != nil && n.Trigger.Type == TriggerTypeManual
}

// TriggerType enumerates the supported node gating mechanisms.
type TriggerType string

const (
	TriggerTypeManual TriggerType = "manual"
)

// Trigger gates a node behind an external approval event.
type Trigger struct {
	Type TriggerType `json:"type" yaml:"type" validate:"required,oneof=manual"`
}

// StrategyType enumerates the supported fan-out strategies.
type StrategyType string

const (
	StrategyTypeMatrix StrategyType = "matrix"
)

// Strategy describes data-driven fan-out for a node. Exactly one of Values or
// FromState must be set; FromState names a key in the run state that must hold
// an array of objects at expansion time.
type Strategy struct {
	Type      StrategyType     `json:"type"                 yaml:"type"                 validate:"required,oneof=matrix"`
	Values    []map[string]any `json:"values,omitempty"     yaml:"values,omitempty"`
	FromState string           `json:"from_state,omitempty" yaml:"from_state,omitempty"`
}

// Validate enforces the values/from_state arity on the strategy.
func (s *Strategy) Validate() error {
	hasValues := len(s.Values) > 0
	hasFromState := s.FromState != ""

	if hasValues == hasFromState {
		return fmt.Errorf("strategy requires exactly one of values or from_state")
	}

	return nil
}

// Template is a reusable, parameterized group of steps invoked via a step's
// `use` variant. Inputs are bound by name; outputs are rendered against the
// template's step outputs and written back as the calling step's outputs.
type Template struct {
	ID      string            `json:"id"                yaml:"id"      validate:"required"`
	Name    string            `json:"name,omitempty"    yaml:"name,omitempty"`
	Inputs  []TemplateInput   `json:"inputs,omitempty"  yaml:"inputs,omitempty"`
	Runtime *Runtime          `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Env     map[string]string `json:"env,omitempty"     yaml:"env,omitempty"`
	Steps   []*Step           `json:"steps"             yaml:"steps"   validate:"dive"`
	Outputs []TemplateOutput  `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// TemplateInput declares a named parameter of a template.
type TemplateInput struct {
	Name        string `json:"name"                  yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty"    yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty"     yaml:"default,omitempty"`
}

// TemplateOutput maps a template-internal step output to a named output of the
// calling step. Value is a template expression rendered after the last step.
type TemplateOutput struct {
	Name        string `json:"name"                  yaml:"name"  validate:"required"`
	Value       string `json:"value"                 yaml:"value" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TemplateByID returns the template declared under the given id.
func (w *Workflow) TemplateByID(id string) (*Template, bool) {
	for _, tpl := range w.Templates {
		if tpl.ID == id {
			return tpl, true
		}
	}

	return nil, false
}

// NodeByID returns the node declared under the given id.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Validate performs the structural checks that do not require graph analysis:
// unique node ids, dependency references, step variant arity, strategy arity
// and runtime image requirements. Cycle detection lives in the graph package.
func (w *Workflow) Validate() error {
	seen := make(map[string]struct{}, len(w.Nodes))

	for _, node := range w.Nodes {
		if _, dup := seen[node.ID]; dup {
			return fmt.Errorf("duplicate node id %q", node.ID)
		}

		seen[node.ID] = struct{}{}
	}

	for _, node := range w.Nodes {
		for _, dep := range node.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("node %q depends on unknown node %q", node.ID, dep)
			}
		}

		if node.Strategy != nil {
			if err := node.Strategy.Validate(); err != nil {
				return fmt.Errorf("node %q: %w", node.ID, err)
			}
		}

		if node.Runtime != nil {
			if err := node.Runtime.Validate(); err != nil {
				return fmt.Errorf("node %q: %w", node.ID, err)
			}
		}

		for _, step := range node.Steps {
			if err := step.Validate(); err != nil {
				return fmt.Errorf("node %q: %w", node.ID, err)
			}

			if step.Use != nil {
				if _, ok := w.TemplateByID(step.Use.Template); !ok {
					return fmt.Errorf("node %q step %q uses unknown template %q", node.ID, step.Name, step.Use.Template)
				}
			}
		}
	}

	for _, tpl := range w.Templates {
		if tpl.Runtime != nil {
			if err := tpl.Runtime.Validate(); err != nil {
				return fmt.Errorf("template %q: %w", tpl.ID, err)
			}
		}

		for _, step := range tpl.Steps {
			if err := step.Validate(); err != nil {
				return fmt.Errorf("template %q: %w", tpl.ID, err)
			}

			if step.Use != nil {
				return fmt.Errorf("template %q step %q: nested template use is not supported", tpl.ID, step.Name)
			}
		}
	}

	return nil
}
