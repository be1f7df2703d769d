// Package worker runs engine jobs with bounded concurrency.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
)

const DefaultConcurrency = 8

// Advancer is the engine surface the pool drives.
type Advancer interface {
	Start(ctx context.Context, companyID, executionID string) error
	Advance(ctx context.Context, companyID, executionID string) error
}

// Job asks the pool to start or resume one execution.
type Job struct {
	CompanyID   string
	ExecutionID string
	Reason      events.QueueReason
}

// Pool runs jobs on at most concurrency goroutines. Different executions advance in parallel;
// the engine serializes work on the same execution.
type Pool struct {
	id     string
	engine Advancer
	bus    eventbus.EventBus
	slots  chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool creates a pool. bus may be nil, in which case Enqueue submits jobs directly.
func NewPool(id string, logger *slog.Logger, engine Advancer, bus eventbus.EventBus, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Pool{
		id:     id,
		engine: engine,
		bus:    bus,
		slots:  make(chan struct{}, concurrency),
		logger: logger.With("module", "worker_pool", "worker_id", id),
	}
}

// Submit blocks until a slot is free, then runs the job in the background. In-flight jobs are
// not tied to ctx, so a shutdown lets them reach their next checkpoint; use Wait to drain.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()

		p.run(context.WithoutCancel(ctx), job)
	}()

	return nil
}

func (p *Pool) run(ctx context.Context, job Job) {
	logger := p.logger.With(
		"company_id", job.CompanyID,
		"execution_id", job.ExecutionID,
		"reason", job.Reason,
	)

	logger.DebugContext(ctx, "running job")

	var err error
	if job.Reason == events.QueueStart {
		err = p.engine.Start(ctx, job.CompanyID, job.ExecutionID)
	} else {
		err = p.engine.Advance(ctx, job.CompanyID, job.ExecutionID)
	}

	if err != nil {
		logger.ErrorContext(ctx, "job failed", "error", err)
	}
}

// Wait blocks until every submitted job finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// HandleExecutionQueued is the bus handler for execution.queued.
func (p *Pool) HandleExecutionQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.ExecutionQueued)
	if !ok {
		p.logger.ErrorContext(ctx, "invalid event type for execution.queued", "type", fmt.Sprintf("%T", event))

		return nil
	}

	return p.Submit(ctx, Job{
		CompanyID:   queued.CompanyID,
		ExecutionID: queued.ExecutionID,
		Reason:      queued.Reason,
	})
}

// Register subscribes the pool to execution.queued on the bus.
func (p *Pool) Register() error {
	if p.bus == nil {
		return nil
	}

	return p.bus.Handle(events.ExecutionQueuedEvent, p.HandleExecutionQueued)
}

// EnqueueStart queues a pending execution. It matches the dispatcher's Starter.
func (p *Pool) EnqueueStart(ctx context.Context, companyID, executionID string) error {
	return p.Enqueue(ctx, Job{CompanyID: companyID, ExecutionID: executionID, Reason: events.QueueStart})
}

// EnqueueResume queues a due execution. It matches the scheduler's OnDue.
func (p *Pool) EnqueueResume(ctx context.Context, companyID, executionID string) error {
	return p.Enqueue(ctx, Job{CompanyID: companyID, ExecutionID: executionID, Reason: events.QueueResume})
}

// Enqueue publishes the job on the bus keyed by execution id, so every worker sees the jobs of
// one execution in order. Without a bus the job is submitted locally.
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	if p.bus == nil {
		return p.Submit(ctx, job)
	}

	event := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(p.bus.GenerateID(), events.ExecutionQueuedEvent, job.CompanyID, ""),
		ExecutionID: job.ExecutionID,
		Reason:      job.Reason,
	}
	event.WorkerID = p.id

	if err := p.bus.Publish(ctx, job.ExecutionID, event); err != nil {
		return fmt.Errorf("failed to enqueue execution %s: %w", job.ExecutionID, err)
	}

	return nil
}
