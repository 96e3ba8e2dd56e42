package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/flowmod/flowmod/pkg/loader"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check a workflow definition without running it",
		ArgsUsage: "<workflow-file>",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one workflow file argument")
			}

			path := command.Args().First()

			workflow, err := loader.Load(path)
			if err != nil {
				return err
			}

			name := workflow.Name
			if name == "" {
				name = path
			}

			fmt.Printf("%s: valid, %d nodes\n", name, len(workflow.Nodes))

			return nil
		},
	}
}
