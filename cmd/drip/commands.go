package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/log"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/urfave/cli/v3"
)

var errWorkflowIDRequired = errors.New("workflow id is required")

var companyFlag = &cli.StringFlag{
	Name:     "company",
	Aliases:  []string{"c"},
	Usage:    "Company (tenant) ID",
	Required: true,
	Sources:  cli.EnvVars("DRIP_COMPANY_ID"),
}

func NewImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import workflow definitions from a YAML file",
		Flags: []cli.Flag{
			companyFlag,
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "YAML definition file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "activate",
				Usage: "Activate every imported workflow",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			return withStore(ctx, command, func(logger *slog.Logger, store persistence.Persistence) error {
				definitions, err := workflow.LoadDefinitions(command.String("file"), command.String("company"))
				if err != nil {
					return err
				}

				imported, err := adminWorkflows(logger, store).Import(ctx, command.String("company"), definitions, command.Bool("activate"))
				if err != nil {
					return describe(err)
				}

				for _, wf := range imported {
					fmt.Fprintf(output(command), "%s\t%s\tactive=%t\n", wf.ID, wf.Name, wf.IsActive)
				}

				return nil
			})
		},
	}
}

func NewActivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "activate",
		Usage:     "Validate and activate a workflow",
		ArgsUsage: "<workflow-id>",
		Flags:     []cli.Flag{companyFlag},
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID := command.Args().First()
			if workflowID == "" {
				return errWorkflowIDRequired
			}

			return withStore(ctx, command, func(logger *slog.Logger, store persistence.Persistence) error {
				wf, err := adminWorkflows(logger, store).Activate(ctx, command.String("company"), workflowID)
				if err != nil {
					return describe(err)
				}

				fmt.Fprintf(output(command), "%s\t%s\tactive=%t\n", wf.ID, wf.Name, wf.IsActive)

				return nil
			})
		},
	}
}

func NewStatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show the run statistics of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags:     []cli.Flag{companyFlag},
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID := command.Args().First()
			if workflowID == "" {
				return errWorkflowIDRequired
			}

			return withStore(ctx, command, func(logger *slog.Logger, store persistence.Persistence) error {
				view, err := services.NewExecution(logger, store, nil).Stats(ctx, command.String("company"), workflowID)
				if err != nil {
					return err
				}

				return printJSON(output(command), view)
			})
		},
	}
}

// NewMigrateCommand opens the store, which applies pending schema migrations.
func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withStore(ctx, command, func(logger *slog.Logger, _ persistence.Persistence) error {
				logger.InfoContext(ctx, "Migrations applied")

				return nil
			})
		},
	}
}

func withStore(ctx context.Context, command *cli.Command, run func(*slog.Logger, persistence.Persistence) error) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("drip")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return run(logger, store)
}

// adminWorkflows serves commands that never delete, so no canceller is needed.
func adminWorkflows(logger *slog.Logger, store persistence.Persistence) *services.Workflow {
	return services.NewWorkflow(logger, store, nil)
}

// describe appends the validation issues to err, one per line.
func describe(err error) error {
	issues := services.ValidationIssues(err)
	if len(issues) == 0 {
		return err
	}

	var details strings.Builder
	for _, issue := range issues {
		fmt.Fprintf(&details, "\n  - [%s] %s", issue.Code, issue.String())
	}

	return fmt.Errorf("%w%s", err, details.String())
}

func output(command *cli.Command) io.Writer {
	if w := command.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}
