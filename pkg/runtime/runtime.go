// Package runtime abstracts the execution environments a task's steps run
// inside: direct host processes, docker containers and podman containers,
// behind a single invocation contract.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowmod/flowmod/pkg/models"
)

// CommandSpec is one shell invocation to run inside a runtime.
type CommandSpec struct {
	Command    string
	Env        map[string]string
	WorkingDir string
}

// Result is the outcome of one invocation. A non-zero exit code is reported
// here, not as an error; errors mean the invocation itself could not happen.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited cleanly.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Adapter executes commands inside one kind of runtime. Implementations must
// honor context cancellation by terminating the running command; the caller
// controls grace periods through the context.
type Adapter interface {
	Type() models.RuntimeType
	Execute(ctx context.Context, spec CommandSpec, rt *models.Runtime) (*Result, error)
}

// Registry resolves the adapter for a runtime declaration. Selection is a
// pure function of the runtime type.
type Registry struct {
	adapters map[models.RuntimeType]Adapter
}

// NewRegistry creates a registry with the default adapter set. The docker
// adapter connects lazily so a missing daemon only surfaces when a workflow
// actually declares a docker runtime.
func NewRegistry(logger *slog.Logger) *Registry {
	registry := &Registry{adapters: make(map[models.RuntimeType]Adapter)}

	registry.Register(NewDirectAdapter(logger))
	registry.Register(NewDockerAdapter(logger))
	registry.Register(NewPodmanAdapter(logger))

	return registry
}

// Register adds or replaces the adapter for its runtime type.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Type()] = adapter
}

// ForRuntime returns the adapter matching the runtime declaration. A nil
// runtime resolves to the direct adapter.
func (r *Registry) ForRuntime(rt *models.Runtime) (Adapter, error) {
	runtimeType := models.RuntimeTypeDirect
	if rt != nil {
		runtimeType = rt.Type
	}

	adapter, ok := r.adapters[runtimeType]
	if !ok {
		return nil, fmt.Errorf("unsupported runtime type %q", runtimeType)
	}

	return adapter, nil
}
