package main

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
)

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:      "approve",
		Aliases:   []string{"a"},
		Usage:     "Push an approval for a run suspended on a manual node",
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "approved-by",
				Usage:   "Who approved the run",
				Value:   "cli",
				Sources: cli.EnvVars("USER"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis address the API consumes approvals from",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Approval queue name",
				Value:   "flowmod.approvals",
				Sources: cli.EnvVars("APPROVAL_QUEUE"),
			},
		},
		Action: approveAction,
	}
}

func approveAction(ctx context.Context, command *cli.Command) error {
	if command.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one run id argument")
	}

	runID := command.Args().First()

	message, err := json.Marshal(map[string]any{
		"workflow_run_id": runID,
		"approved_by":     command.String("approved-by"),
	})
	if err != nil {
		return err
	}

	client := redis.NewClient(&redis.Options{Addr: command.String("redis-url")})

	defer func() {
		_ = client.Close()
	}()

	err = client.LPush(ctx, command.String("queue"), message).Err()
	if err != nil {
		return fmt.Errorf("failed to push approval: %w", err)
	}

	fmt.Printf("approval for %s queued\n", runID)

	return nil
}
