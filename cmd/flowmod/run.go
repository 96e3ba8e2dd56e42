package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/flowmod/flowmod/pkg/cmd"
	"github.com/flowmod/flowmod/pkg/loader"
	"github.com/flowmod/flowmod/pkg/log"
	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/orchestrator"
	"github.com/flowmod/flowmod/pkg/state"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a workflow definition to completion",
		ArgsUsage: "<workflow-file>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"P"},
				Usage:   "Workflow param in the form key=value, repeatable",
			},
			&cli.IntFlag{
				Name:    "max-concurrent-tasks",
				Usage:   "Maximum tasks running at once",
				Sources: cli.EnvVars("MAX_CONCURRENT_TASKS"),
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one workflow file argument")
	}

	log.Setup(command.String("log-level"))

	logger := log.WithModule("cli")

	workflow, err := loader.Load(command.Args().First())
	if err != nil {
		return err
	}

	params, err := parseParams(command.StringSlice("param"))
	if err != nil {
		return err
	}

	store := state.NewStore(logger)
	executor := cmd.NewExecutor(logger, store)
	orch := orchestrator.NewOrchestrator(logger, store, executor, nil, orchestrator.Config{
		MaxConcurrentTasks: command.Int("max-concurrent-tasks"),
	})

	run := &models.WorkflowRun{
		ID:        "run-" + uuid.New().String()[:8],
		Workflow:  workflow,
		Status:    models.WorkflowStatusPending,
		Params:    params,
		State:     map[string]any{},
		StartedAt: time.Now().UTC(),
	}

	final, err := orch.Run(ctx, run)
	if err != nil {
		return err
	}

	printSummary(store, run)

	if final != models.WorkflowStatusCompleted {
		stored, err := store.Run(run.ID)
		if err == nil && stored.Error != "" {
			return fmt.Errorf("run %s %s: %s", run.ID, final, stored.Error)
		}

		return fmt.Errorf("run %s %s", run.ID, final)
	}

	return nil
}

func printSummary(store *state.Store, run *models.WorkflowRun) {
	fmt.Printf("run %s\n", run.ID)

	for _, task := range store.TasksByRun(run.ID) {
		label := task.NodeID
		if !task.IsMaster {
			label += " " + formatMatrix(task.MatrixValues)
		}

		fmt.Printf("  %-40s %s\n", label, task.Status)

		if task.Error != "" {
			fmt.Printf("    error: %s\n", task.Error)
		}
	}
}

func formatMatrix(values map[string]any) string {
	pairs := make([]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}

	return "[" + strings.Join(pairs, " ") + "]"
}

func parseParams(entries []string) (map[string]any, error) {
	params := make(map[string]any, len(entries))

	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid param %q, expected key=value", entry)
		}

		params[key] = value
	}

	return params, nil
}
