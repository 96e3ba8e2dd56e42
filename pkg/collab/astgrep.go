package collab

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowmod/flowmod/pkg/protocol"
	"github.com/flowmod/flowmod/pkg/runtime"
)

// AstGrep implements protocol.SearchTransformer by shelling out to the
// ast-grep CLI (or a node harness for JS rule modules) through the
// runtime adapter of the requesting node.
type AstGrep struct {
	logger   *slog.Logger
	runtimes *runtime.Registry
}

// NewAstGrep creates a search-transform collaborator backed by the
// given runtime registry.
func NewAstGrep(logger *slog.Logger, runtimes *runtime.Registry) *AstGrep {
	return &AstGrep{
		logger:   logger.With("module", "collab.astgrep"),
		runtimes: runtimes,
	}
}

// Transform runs the requested rules against the working tree and
// reports pass/fail plus captured output. Transformed file contents are
// not interpreted here.
func (a *AstGrep) Transform(ctx context.Context, req protocol.SearchTransformRequest) (*protocol.CollaboratorResult, error) {
	if req.ConfigFile == "" && req.JSFile == "" {
		return nil, ErrNoRuleSource
	}

	adapter, err := a.runtimes.ForRuntime(req.Runtime)
	if err != nil {
		return nil, err
	}

	command := buildSearchTransformCommand(req)

	a.logger.InfoContext(ctx, "Running search-transform",
		"command", command,
		"base_path", req.BasePath,
		"dry_run", req.DryRun)

	res, err := adapter.Execute(ctx, runtime.CommandSpec{
		Command:    command,
		Env:        req.Env,
		WorkingDir: req.BasePath,
	}, req.Runtime)
	if err != nil {
		return nil, fmt.Errorf("search-transform invocation failed: %w", err)
	}

	return &protocol.CollaboratorResult{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

// buildSearchTransformCommand renders the CLI invocation. YAML configs
// go through `ast-grep scan`; JS rule modules run under node and
// receive the same flags.
func buildSearchTransformCommand(req protocol.SearchTransformRequest) string {
	var args []string

	if req.JSFile != "" {
		args = append(args, "node", quote(req.JSFile))
	} else {
		args = append(args, "ast-grep", "scan", "--config", quote(req.ConfigFile))

		if !req.DryRun {
			args = append(args, "--update-all")
		}
	}

	for _, glob := range req.Include {
		args = append(args, "--globs", quote(glob))
	}

	for _, glob := range req.Exclude {
		args = append(args, "--globs", quote("!"+glob))
	}

	if req.MaxThreads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", req.MaxThreads))
	}

	if req.Language != "" {
		args = append(args, "--lang", quote(req.Language))
	}

	if req.JSFile != "" && req.DryRun {
		args = append(args, "--dry-run")
	}

	args = append(args, ".")

	return strings.Join(args, " ")
}
