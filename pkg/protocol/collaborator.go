package protocol

import (
	"context"

	"github.com/flowmod/flowmod/pkg/models"
)

// SearchTransformRequest describes one structural search-and-transform
// invocation over a working tree. Rules come either from a YAML config
// file (ast-grep) or a JavaScript rule module (js-ast-grep).
type SearchTransformRequest struct {
	ConfigFile string
	JSFile     string
	Include    []string
	Exclude    []string
	BasePath   string
	MaxThreads int
	DryRun     bool
	Language   string
	Runtime    *models.Runtime
	Env        map[string]string
}

// CodemodRequest describes one codemod script invocation.
type CodemodRequest struct {
	Source     string
	Args       []string
	WorkingDir string
	Runtime    *models.Runtime
	Env        map[string]string
}

// AgentRequest describes one AI agent invocation. TimeoutMS of zero
// means no deadline beyond the caller's context.
type AgentRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Tools        []string
	MaxSteps     int
	TimeoutMS    int64
	Endpoint     string
	APIKey       string
	Runtime      *models.Runtime
	Env          map[string]string
}

// CollaboratorResult is the outcome of a collaborator invocation. The
// engine does not interpret the transformed content, only success or
// failure plus captured output for the task log.
type CollaboratorResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Output   map[string]any
}

// Success reports whether the collaborator exited cleanly.
func (r *CollaboratorResult) Success() bool {
	return r.ExitCode == 0
}

// SearchTransformer runs structural search-and-transform rules against
// a working tree.
type SearchTransformer interface {
	Transform(ctx context.Context, req SearchTransformRequest) (*CollaboratorResult, error)
}

// CodemodRunner executes codemod scripts.
type CodemodRunner interface {
	Run(ctx context.Context, req CodemodRequest) (*CollaboratorResult, error)
}

// Agent drives an AI agent session to completion.
type Agent interface {
	Complete(ctx context.Context, req AgentRequest) (*CollaboratorResult, error)
}
