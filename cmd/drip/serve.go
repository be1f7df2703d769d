package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/integrations"
	"github.com/dukex/drip/pkg/log"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/retention"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/worker"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand runs the API and one worker in a single process over an in-process bus.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the API and a worker in one process",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Executions advanced in parallel",
				Value:   worker.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("drip-serve")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus("gochannel", "", "drip", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			w, err := cmd.NewWorker(logger, cmd.WorkerConfig{
				ID:                "worker-local",
				Concurrency:       int(command.Int("concurrency")),
				SchedulerInterval: scheduler.DefaultInterval,
				RecoveryInterval:  scheduler.DefaultRecoveryInterval,
				StallTimeout:      scheduler.DefaultStallTimeout,
				MaxNodeVisits:     engine.DefaultMaxVisits,
				RetentionSchedule: retention.DefaultSchedule,
				RetentionDays:     retention.DefaultDays,
			}, store, eventBus, scheduler.NewStoreQueue(store, scheduler.DefaultLease),
				integrations.ContextTagStore{}, nil, otelhelper.NoopTracer())
			if err != nil {
				return err
			}

			app := cmd.NewAPIApp(logger, store, services.NewBusSink(eventBus), w.Engine)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			g.Go(func() error {
				return app.Listen(":" + strconv.Itoa(int(command.Int("port"))))
			})
			g.Go(func() error {
				<-gctx.Done()

				if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
					return fmt.Errorf("failed to shutdown API: %w", err)
				}

				return nil
			})

			return g.Wait()
		},
	}
}
