package cmd

import (
	"log/slog"

	"github.com/flowmod/flowmod/pkg/collab"
	"github.com/flowmod/flowmod/pkg/runtime"
	"github.com/flowmod/flowmod/pkg/state"
	"github.com/flowmod/flowmod/pkg/task"
)

// NewExecutor wires a task executor with the default runtime adapters and
// collaborator clients.
func NewExecutor(logger *slog.Logger, store *state.Store) *task.Executor {
	runtimes := runtime.NewRegistry(logger)

	return task.NewExecutor(
		logger,
		store,
		runtimes,
		collab.NewAstGrep(logger, runtimes),
		collab.NewCodemod(logger, runtimes),
		collab.NewHTTPAgent(logger),
	)
}
