package models

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepKind is the wire discriminant of a step variant.
type StepKind string

const (
	StepKindUse       StepKind = "use"
	StepKindRun       StepKind = "run"
	StepKindAstGrep   StepKind = "ast-grep"
	StepKindJSAstGrep StepKind = "js-ast-grep"
	StepKindCodemod   StepKind = "codemod"
	StepKindAI        StepKind = "ai"
)

// Step is one action inside a node or template. It is a closed tagged union:
// exactly one of the variant option bags must be set.
type Step struct {
	Name string            `json:"name,omitempty" yaml:"name,omitempty"`
	Env  map[string]string `json:"env,omitempty"  yaml:"env,omitempty"`
	If   string            `json:"if,omitempty"   yaml:"if,omitempty"`

	Use       *UseOptions       `json:"use,omitempty"         yaml:"use,omitempty"`
	Run       *RunOptions       `json:"run,omitempty"         yaml:"run,omitempty"`
	AstGrep   *AstGrepOptions   `json:"ast-grep,omitempty"    yaml:"ast-grep,omitempty"`
	JSAstGrep *JSAstGrepOptions `json:"js-ast-grep,omitempty" yaml:"js-ast-grep,omitempty"`
	Codemod   *CodemodOptions   `json:"codemod,omitempty"     yaml:"codemod,omitempty"`
	AI        *AIOptions        `json:"ai,omitempty"          yaml:"ai,omitempty"`
}

// Kind returns the active variant discriminant. It assumes Validate passed.
func (s *Step) Kind() StepKind {
	switch {
	case s.Use != nil:
		return StepKindUse
	case s.Run != nil:
		return StepKindRun
	case s.AstGrep != nil:
		return StepKindAstGrep
	case s.JSAstGrep != nil:
		return StepKindJSAstGrep
	case s.Codemod != nil:
		return StepKindCodemod
	case s.AI != nil:
		return StepKindAI
	}

	return ""
}

// Validate enforces the exactly-one-variant rule.
func (s *Step) Validate() error {
	count := 0

	for _, set := range []bool{
		s.Use != nil, s.Run != nil, s.AstGrep != nil,
		s.JSAstGrep != nil, s.Codemod != nil, s.AI != nil,
	} {
		if set {
			count++
		}
	}

	if count != 1 {
		return fmt.Errorf("step %q must declare exactly one of use, run, ast-grep, js-ast-grep, codemod, ai (got %d)", s.Name, count)
	}

	return nil
}

// UseOptions invokes a template with named inputs.
type UseOptions struct {
	Template string         `json:"template"         yaml:"template" validate:"required"`
	Inputs   map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// RunOptions executes a shell command inside the resolved runtime. On the wire
// it may appear either as a bare command string or as a mapping.
type RunOptions struct {
	Command string `json:"command" yaml:"command" validate:"required"`
}

// UnmarshalYAML accepts both `run: echo hi` and `run: {command: echo hi}`.
func (r *RunOptions) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Command = value.Value

		return nil
	}

	type plain RunOptions

	return value.Decode((*plain)(r))
}

// UnmarshalJSON accepts both a bare string and an object form.
func (r *RunOptions) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.Command)
	}

	type plain RunOptions

	return json.Unmarshal(data, (*plain)(r))
}

// AstGrepOptions invokes the code-search/transform collaborator with a YAML
// rule config.
type AstGrepOptions struct {
	ConfigFile string   `json:"config_file"           yaml:"config_file" validate:"required"`
	Include    []string `json:"include,omitempty"     yaml:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"     yaml:"exclude,omitempty"`
	BasePath   string   `json:"base_path,omitempty"   yaml:"base_path,omitempty"`
	MaxThreads int      `json:"max_threads,omitempty" yaml:"max_threads,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"     yaml:"dry_run,omitempty"`
	Language   string   `json:"language,omitempty"    yaml:"language,omitempty"`
}

// JSAstGrepOptions invokes the code-search/transform collaborator with a
// JavaScript transform script.
type JSAstGrepOptions struct {
	JSFile     string   `json:"js_file"               yaml:"js_file" validate:"required"`
	Include    []string `json:"include,omitempty"     yaml:"include,omitempty"`
	Exclude    []string `json:"exclude,omitempty"     yaml:"exclude,omitempty"`
	BasePath   string   `json:"base_path,omitempty"   yaml:"base_path,omitempty"`
	MaxThreads int      `json:"max_threads,omitempty" yaml:"max_threads,omitempty"`
	DryRun     bool     `json:"dry_run,omitempty"     yaml:"dry_run,omitempty"`
	Language   string   `json:"language,omitempty"    yaml:"language,omitempty"`
}

// CodemodOptions invokes the codemod-execution collaborator.
type CodemodOptions struct {
	Source     string            `json:"source"                yaml:"source" validate:"required"`
	Args       []string          `json:"args,omitempty"        yaml:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"         yaml:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
}

// AIOptions invokes the AI-agent collaborator. The timeout is the only
// per-step timeout the engine honors; other step kinds rely on the caller.
type AIOptions struct {
	Prompt       string   `json:"prompt"                  yaml:"prompt" validate:"required"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"         yaml:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"         yaml:"tools,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty"     yaml:"max_steps,omitempty"`
	TimeoutMS    int64    `json:"timeout_ms,omitempty"    yaml:"timeout_ms,omitempty"`
	Endpoint     string   `json:"endpoint,omitempty"      yaml:"endpoint,omitempty"`
	APIKey       string   `json:"api_key,omitempty"       yaml:"api_key,omitempty"`
}
