package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/actions"
	"github.com/dukex/drip/pkg/conditions"
	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/integrations"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/retention"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/worker"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// WorkerConfig holds the worker tunables exposed as flags.
type WorkerConfig struct {
	ID                string
	Concurrency       int
	SchedulerInterval time.Duration
	RecoveryInterval  time.Duration
	StallTimeout      time.Duration
	MaxNodeVisits     int
	RetentionSchedule string
	RetentionDays     int
}

// Worker is the dispatcher, engine pool, delay scheduler and retention purger wired on one bus.
type Worker struct {
	Engine     *engine.Engine
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *scheduler.Scheduler
	Pool       *worker.Pool
	Purger     *retention.Purger

	bus    eventbus.EventBus
	logger *slog.Logger
}

// NewWorker wires the execution components. Freshly dispatched and due executions travel through
// the bus as execution.queued so any worker of the group may run them.
func NewWorker(
	logger *slog.Logger,
	cfg WorkerConfig,
	store persistence.Persistence,
	bus eventbus.EventBus,
	queue scheduler.DelayQueue,
	tags actions.TagStore,
	lookup conditions.TagLookup,
	tracer trace.Tracer,
) (*Worker, error) {
	delays := scheduler.New(logger, queue, store, nil,
		scheduler.WithInterval(cfg.SchedulerInterval),
		scheduler.WithRecoveryInterval(cfg.RecoveryInterval),
		scheduler.WithStallTimeout(cfg.StallTimeout),
	)

	outbox := integrations.NewOutbox(logger, bus)
	executor := actions.NewExecutor(logger, store, outbox.Collaborators(tags), actions.WithTracer(tracer))

	eng := engine.New(logger, store, executor, conditions.NewEvaluator(logger, lookup), delays,
		engine.WithEventBus(bus),
		engine.WithMaxVisits(cfg.MaxNodeVisits),
		engine.WithTracer(tracer),
	)

	pool := worker.NewPool(cfg.ID, logger, eng, bus, cfg.Concurrency)
	delays.SetOnDue(pool.EnqueueResume)

	d := dispatcher.New(logger, store, pool.EnqueueStart, dispatcher.WithTracer(tracer))

	purger, err := retention.NewPurger(logger, store, cfg.RetentionSchedule, cfg.RetentionDays)
	if err != nil {
		return nil, err
	}

	return &Worker{
		Engine:     eng,
		Dispatcher: d,
		Scheduler:  delays,
		Pool:       pool,
		Purger:     purger,
		bus:        bus,
		logger:     logger.With("module", "worker"),
	}, nil
}

// Run subscribes to the bus and runs the scheduler and purger until ctx is done, then waits for
// running jobs.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.bus.Handle(events.TriggerReceivedEvent, w.Dispatcher.HandleTriggerReceived); err != nil {
		return fmt.Errorf("failed to register trigger handler: %w", err)
	}

	if err := w.Pool.Register(); err != nil {
		return fmt.Errorf("failed to register execution handler: %w", err)
	}

	if err := w.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	w.logger.InfoContext(ctx, "worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Scheduler.Run(gctx) })
	g.Go(func() error { return w.Purger.Run(gctx) })

	err := g.Wait()

	w.Pool.Wait()
	w.logger.InfoContext(ctx, "worker stopped")

	return err
}
