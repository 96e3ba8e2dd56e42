package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/flowmod/flowmod/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowmod",
		Usage:                 "Run and validate codemod workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			approveCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.Setup("error")
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
