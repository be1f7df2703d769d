// Package main provides the drip admin CLI.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "drip",
		Usage:                 "Administer drip workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (memory://, file://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			NewImportCommand(),
			NewActivateCommand(),
			NewStatsCommand(),
			NewMigrateCommand(),
			NewServeCommand(),
		},
	}
}

func main() {
	if err := NewRootCommand().Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
