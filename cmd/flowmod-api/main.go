package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/flowmod/flowmod/pkg/cmd"
	"github.com/flowmod/flowmod/pkg/log"
	"github.com/flowmod/flowmod/pkg/triggers/approval"
	"github.com/flowmod/flowmod/pkg/triggers/schedule"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "flowmod-api",
		Usage:                 "Serve the workflow and run management API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis address for the approval queue (disabled when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "schedule",
				Usage:   "Scheduled run in the form <workflow>@<cron>, repeatable",
				Sources: cli.EnvVars("SCHEDULES"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-tasks",
				Usage:   "Maximum tasks running at once within a run",
				Sources: cli.EnvVars("MAX_CONCURRENT_TASKS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing flowmod API")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	api := NewAPI(logger, persistence, eventBus, command.Int("max-concurrent-tasks"))

	err = startApprovalTrigger(ctx, api, command.String("redis-url"), logger)
	if err != nil {
		return err
	}

	err = startSchedules(ctx, api, command.StringSlice("schedule"), logger)
	if err != nil {
		return err
	}

	return api.Start(command.Int("port"))
}

// startApprovalTrigger consumes the Redis approval queue and releases
// suspended runs. The queue is optional; without a Redis address approvals
// only arrive over HTTP.
func startApprovalTrigger(ctx context.Context, api *API, redisURL string, logger *slog.Logger) error {
	if redisURL == "" {
		return nil
	}

	trigger, err := approval.NewTrigger(ctx, map[string]any{
		"connection": map[string]any{"addr": redisURL},
	}, logger)
	if err != nil {
		return err
	}

	return trigger.Start(ctx, func(ctx context.Context, data map[string]any) error {
		runID, _ := data["workflow_run_id"].(string)
		approvedBy, _ := data["approved_by"].(string)

		return api.Runs().Approve(runID, approvedBy)
	})
}

// startSchedules submits a run on every cron firing. Entries are given as
// <workflow>@<cron expression>.
func startSchedules(ctx context.Context, api *API, entries []string, logger *slog.Logger) error {
	for _, entry := range entries {
		workflow, cronExpr, found := strings.Cut(entry, "@")
		if !found {
			return fmt.Errorf("invalid schedule %q, expected <workflow>@<cron>", entry)
		}

		trigger, err := schedule.NewTrigger(map[string]any{
			"workflow": workflow,
			"cron":     cronExpr,
		}, logger)
		if err != nil {
			return err
		}

		err = trigger.Start(ctx, func(ctx context.Context, data map[string]any) error {
			name, _ := data["workflow"].(string)
			params, _ := data["params"].(map[string]any)

			definition, err := api.Workflows().ByName(ctx, name)
			if err != nil {
				return err
			}

			_, err = api.Runs().Submit(ctx, definition, params)

			return err
		})
		if err != nil {
			return err
		}
	}

	return nil
}
