// Package main runs the drip worker: trigger dispatcher, engine pool, delay scheduler and
// retention purge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/log"
	"github.com/dukex/drip/pkg/retention"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd := &cli.Command{
		Name:                  "drip-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to dispatch events and execute workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (memory://, file://, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Executions advanced in parallel",
				Value:   worker.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "scheduler-interval",
				Usage:   "How often due delays are claimed",
				Value:   scheduler.DefaultInterval,
				Sources: cli.EnvVars("SCHEDULER_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "recovery-interval",
				Usage:   "How often the store is scanned for overdue executions",
				Value:   scheduler.DefaultRecoveryInterval,
				Sources: cli.EnvVars("SCHEDULER_RECOVERY_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "stall-timeout",
				Usage:   "How long a pending or running execution may go unchanged before recovery restarts it",
				Value:   scheduler.DefaultStallTimeout,
				Sources: cli.EnvVars("SCHEDULER_STALL_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "delay-queue",
				Usage:   "Delay queue holding pending resumes (store, redis)",
				Value:   "store",
				Sources: cli.EnvVars("DELAY_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the redis delay queue and tag store",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "tag-store",
				Usage:   "Where contact tags live (context, redis)",
				Value:   "context",
				Sources: cli.EnvVars("TAG_STORE"),
			},
			&cli.IntFlag{
				Name:    "max-node-visits",
				Usage:   "Node visits allowed per execution before it fails",
				Value:   engine.DefaultMaxVisits,
				Sources: cli.EnvVars("MAX_NODE_VISITS"),
			},
			&cli.StringFlag{
				Name:    "retention-schedule",
				Usage:   "Cron schedule of the finished execution purge",
				Value:   retention.DefaultSchedule,
				Sources: cli.EnvVars("RETENTION_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "retention-days",
				Usage:   "Days finished executions are kept",
				Value:   retention.DefaultDays,
				Sources: cli.EnvVars("RETENTION_DAYS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("drip-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Drip Worker")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracer, shutdown, err := cmd.NewTracer(ctx, command.Bool("otel-enabled"), "drip-worker")
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				if err := shutdown(shutdownCtx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "drip-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var client redis.UniversalClient
			if url := command.String("redis-url"); url != "" {
				redisClient, err := cmd.NewRedis(ctx, url)
				if err != nil {
					return err
				}

				defer func() { _ = redisClient.Close() }()

				client = redisClient
			}

			queue, err := cmd.NewDelayQueue(command.String("delay-queue"), persistence, client)
			if err != nil {
				return err
			}

			tags, lookup, err := cmd.NewTagStore(command.String("tag-store"), client)
			if err != nil {
				return err
			}

			w, err := cmd.NewWorker(logger, cmd.WorkerConfig{
				ID:                workerID,
				Concurrency:       int(command.Int("concurrency")),
				SchedulerInterval: command.Duration("scheduler-interval"),
				RecoveryInterval:  command.Duration("recovery-interval"),
				StallTimeout:      command.Duration("stall-timeout"),
				MaxNodeVisits:     int(command.Int("max-node-visits")),
				RetentionSchedule: command.String("retention-schedule"),
				RetentionDays:     int(command.Int("retention-days")),
			}, persistence, eventBus, queue, tags, lookup, tracer)
			if err != nil {
				return err
			}

			return w.Run(ctx)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
