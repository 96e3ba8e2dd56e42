package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowmod/flowmod/pkg/protocol"
	"github.com/flowmod/flowmod/pkg/runtime"
)

// Codemod implements protocol.CodemodRunner by invoking the codemod
// CLI through the runtime adapter of the requesting node. Source names
// either a published codemod package or a local script path; the CLI
// resolves both.
type Codemod struct {
	logger   *slog.Logger
	runtimes *runtime.Registry
}

// NewCodemod creates a codemod collaborator backed by the given
// runtime registry.
func NewCodemod(logger *slog.Logger, runtimes *runtime.Registry) *Codemod {
	return &Codemod{
		logger:   logger.With("module", "collab.codemod"),
		runtimes: runtimes,
	}
}

// Run executes the codemod and reports exit status plus logs.
func (c *Codemod) Run(ctx context.Context, req protocol.CodemodRequest) (*protocol.CollaboratorResult, error) {
	if req.Source == "" {
		return nil, ErrNoCodemodSource
	}

	adapter, err := c.runtimes.ForRuntime(req.Runtime)
	if err != nil {
		return nil, err
	}

	command := buildCodemodCommand(req)

	c.logger.InfoContext(ctx, "Running codemod",
		"source", req.Source,
		"working_dir", req.WorkingDir)

	res, err := adapter.Execute(ctx, runtime.CommandSpec{
		Command:    command,
		Env:        req.Env,
		WorkingDir: req.WorkingDir,
	}, req.Runtime)
	if err != nil {
		return nil, fmt.Errorf("codemod invocation failed: %w", err)
	}

	return &protocol.CollaboratorResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

func buildCodemodCommand(req protocol.CodemodRequest) string {
	args := []string{"codemod", "run", quote(req.Source)}

	for _, arg := range req.Args {
		args = append(args, quote(arg))
	}

	return strings.Join(args, " ")
}

// quote wraps s in single quotes for inclusion in a sh -c command line.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
