package main

import (
	"context"
	"os"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/log"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	cmd := &cli.Command{
		Name:                  "drip-api",
		Usage:                 "Manage workflows and ingest CRM events",
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
			&cli.StringFlag{
				Name:    "delay-queue",
				Usage:   "Delay queue holding pending resumes (store, redis)",
				Value:   "store",
				Sources: cli.EnvVars("DELAY_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the redis delay queue",
				Sources: cli.EnvVars("REDIS_URL"),
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

			logger.InfoContext(ctx, "Initializing Drip API")

			tracer, shutdown, err := cmd.NewTracer(ctx, command.Bool("otel-enabled"), "drip-api")
			if err != nil {
				return err
			}

			defer func() {
				if err := shutdown(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
				}
			}()

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "drip-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var client *redis.Client
			if url := command.String("redis-url"); url != "" {
				client, err = cmd.NewRedis(ctx, url)
				if err != nil {
					return err
				}

				defer func() { _ = client.Close() }()
			}

			queue, err := cmd.NewDelayQueue(command.String("delay-queue"), persistence, redisClient(client))
			if err != nil {
				return err
			}

			api := NewAPI(logger, persistence, eventBus, queue)
			api.tracer = tracer

			err = api.Start(int(command.Int("port")))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// redisClient keeps a nil *redis.Client from becoming a non-nil interface.
func redisClient(client *redis.Client) redis.UniversalClient {
	if client == nil {
		return nil
	}

	return client
}
