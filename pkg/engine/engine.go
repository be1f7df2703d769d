// Package engine walks workflow executions through their node graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxVisits bounds node visits per execution.
const DefaultMaxVisits = 100

const cancelAttempts = 5

// Store is the persistence the engine reads and writes.
type Store interface {
	WorkflowByID(ctx context.Context, companyID, id string) (*models.Workflow, error)
	ExecutionByID(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	Executions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error)
}

// ActionRunner performs action nodes and returns the updated execution context.
type ActionRunner interface {
	Execute(ctx context.Context, node *models.WorkflowNode, execution *models.WorkflowExecution) (map[string]string, error)
}

// ConditionEvaluator resolves condition nodes. It never fails.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, node *models.WorkflowNode, execCtx map[string]string) bool
}

// ResumeScheduler re-invokes Advance for suspended executions once they are due.
type ResumeScheduler interface {
	ScheduleResume(ctx context.Context, companyID, executionID string, resumeAt time.Time) error
	Deregister(ctx context.Context, companyID, executionID string) error
}

// errSuperseded stops a walk whose execution was changed by someone else.
var errSuperseded = errors.New("execution superseded")

type Engine struct {
	store      Store
	actions    ActionRunner
	conditions ConditionEvaluator
	scheduler  ResumeScheduler
	bus        eventbus.EventBus
	locks      *keyedLocks
	maxVisits  int
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Engine)

// WithEventBus publishes execution lifecycle events on the bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithMaxVisits(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.maxVisits = limit
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(
	logger *slog.Logger,
	store Store,
	actions ActionRunner,
	conditions ConditionEvaluator,
	scheduler ResumeScheduler,
	opts ...Option,
) *Engine {
	engine := &Engine{
		store:      store,
		actions:    actions,
		conditions: conditions,
		scheduler:  scheduler,
		locks:      newKeyedLocks(),
		maxVisits:  DefaultMaxVisits,
		logger:     logger.With("module", "engine"),
		tracer:     otelhelper.NoopTracer(),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Start moves a pending execution to running at its trigger node and advances it. Starting an
// execution that already left pending behaves like Advance.
func (e *Engine) Start(ctx context.Context, companyID, executionID string) error {
	return e.Advance(ctx, companyID, executionID)
}

// Advance walks the execution until it completes, fails or suspends on a delay. It is safe to
// call repeatedly: terminal executions are left untouched, a suspended execution that is not due
// yet is only rescheduled, and completed actions are not repeated. Execution failures become
// state transitions; only storage failures are returned.
func (e *Engine) Advance(ctx context.Context, companyID, executionID string) error {
	unlock, err := e.locks.Lock(ctx, executionID)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.advance",
		attribute.String(otelhelper.CompanyIDKey, companyID),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	err = e.advance(ctx, companyID, executionID)
	if err != nil && !errors.Is(err, errSuperseded) {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (e *Engine) advance(ctx context.Context, companyID, executionID string) error {
	execution, err := e.store.ExecutionByID(ctx, companyID, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}

	logger := e.logger.With("company_id", companyID, "execution_id", executionID, "workflow_id", execution.WorkflowID)

	if execution.Status.Terminal() {
		logger.DebugContext(ctx, "execution already finished", "status", execution.Status)

		return nil
	}

	definition, err := e.store.WorkflowByID(ctx, companyID, execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			logger.WarnContext(ctx, "workflow no longer exists, cancelling execution")

			return e.cancelLoaded(ctx, execution, "workflow deleted")
		}

		return fmt.Errorf("failed to load workflow: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String(otelhelper.WorkflowIDKey, definition.ID))

	graph := workflow.NewGraph(definition)
	now := e.now()

	switch execution.Status {
	case models.ExecutionPending:
		trigger := graph.Trigger()
		if trigger == nil {
			return e.fail(ctx, execution, "", fmt.Errorf("%w: workflow has no trigger", ErrNodeMissing))
		}

		if err := execution.Fire(models.TriggerStart, now); err != nil {
			return e.fail(ctx, execution, "", err)
		}

		execution.CurrentNodeID = trigger.ID

		if err := e.save(ctx, execution); err != nil {
			return err
		}

		logger.InfoContext(ctx, "execution started", "contact_id", execution.ContactID)
	case models.ExecutionWaitingDelay:
		if execution.ResumeAt != nil && now.Before(*execution.ResumeAt) {
			logger.DebugContext(ctx, "execution not due yet", "resume_at", execution.ResumeAt)

			return e.scheduler.ScheduleResume(ctx, companyID, executionID, *execution.ResumeAt)
		}

		if err := execution.Fire(models.TriggerResume, now); err != nil {
			return e.fail(ctx, execution, execution.CurrentNodeID, err)
		}

		if err := e.save(ctx, execution); err != nil {
			return err
		}

		logger.InfoContext(ctx, "execution resumed", "node_id", execution.CurrentNodeID)
	case models.ExecutionRunning:
		logger.InfoContext(ctx, "continuing running execution", "node_id", execution.CurrentNodeID)
	}

	return e.walk(ctx, logger, graph, execution)
}

func (e *Engine) walk(ctx context.Context, logger *slog.Logger, graph *workflow.Graph, execution *models.WorkflowExecution) error {
	for {
		current, ok := graph.Node(execution.CurrentNodeID)
		if !ok {
			return e.fail(ctx, execution, execution.CurrentNodeID, ErrNodeMissing)
		}

		conn, ok := e.nextConnection(ctx, graph, current, execution)
		if !ok {
			return e.complete(ctx, logger, execution)
		}

		next, ok := graph.Node(conn.To)
		if !ok {
			return e.fail(ctx, execution, conn.To, ErrNodeMissing)
		}

		if execution.Visits >= e.maxVisits {
			return e.fail(ctx, execution, next.ID, fmt.Errorf("%w (%d)", ErrVisitCapExceeded, e.maxVisits))
		}

		execution.Visits++

		switch next.Type {
		case models.NodeTypeAction:
			updated, err := e.actions.Execute(ctx, next, execution)
			if err != nil {
				if ctx.Err() != nil {
					// shutting down: leave the execution running so a redelivery continues it
					return ctx.Err()
				}

				return e.fail(ctx, execution, next.ID, err)
			}

			execution.Context = updated
			execution.CurrentNodeID = next.ID

			if err := e.save(ctx, execution); err != nil {
				return err
			}

			logger.DebugContext(ctx, "action completed", "node_id", next.ID, "kind", next.Kind)
		case models.NodeTypeCondition:
			execution.CurrentNodeID = next.ID
		case models.NodeTypeDelay:
			return e.suspend(ctx, logger, execution, next)
		case models.NodeTypeTrigger:
			return e.fail(ctx, execution, next.ID, fmt.Errorf("connection %s re-enters the trigger", conn.ID))
		default:
			return e.fail(ctx, execution, next.ID, fmt.Errorf("unknown node type %q", next.Type))
		}
	}
}

// nextConnection picks the edge leaving the node: the branch matching the condition result for
// condition nodes, the single unlabeled edge otherwise.
func (e *Engine) nextConnection(ctx context.Context, graph *workflow.Graph, node *models.WorkflowNode, execution *models.WorkflowExecution) (*models.Connection, bool) {
	if node.IsCondition() {
		result := e.conditions.Evaluate(ctx, node, execution.Context)

		return graph.Branch(node.ID, models.BranchFor(result))
	}

	return graph.Next(node.ID)
}

func (e *Engine) suspend(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, node *models.WorkflowNode) error {
	duration, err := node.DelayDuration()
	if err != nil {
		return e.fail(ctx, execution, node.ID, err)
	}

	now := e.now()
	resumeAt := now.Add(duration)

	execution.CurrentNodeID = node.ID

	if err := execution.Suspend(resumeAt, now); err != nil {
		return e.fail(ctx, execution, node.ID, err)
	}

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	logger.InfoContext(ctx, "execution waiting on delay", "node_id", node.ID, "resume_at", resumeAt)

	if err := e.scheduler.ScheduleResume(ctx, execution.CompanyID, execution.ID, resumeAt); err != nil {
		// resume_at is persisted, the recovery scan picks the execution up
		logger.ErrorContext(ctx, "failed to schedule resume", "error", err)
	}

	return nil
}

func (e *Engine) complete(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution) error {
	if err := execution.Fire(models.TriggerComplete, e.now()); err != nil {
		return e.fail(ctx, execution, execution.CurrentNodeID, err)
	}

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	logger.InfoContext(ctx, "execution completed", "visits", execution.Visits)

	var duration time.Duration
	if execution.StartedAt != nil && execution.CompletedAt != nil {
		duration = execution.CompletedAt.Sub(*execution.StartedAt)
	}

	e.publish(ctx, execution, func(base events.BaseEvent) eventbus.Event {
		return events.ExecutionCompleted{
			BaseEvent:   base,
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
			Duration:    duration,
		}
	}, events.ExecutionCompletedEvent)

	return nil
}

func (e *Engine) fail(ctx context.Context, execution *models.WorkflowExecution, nodeID string, cause error) error {
	failure := &ExecutionFailure{ExecutionID: execution.ID, NodeID: nodeID, Err: cause}

	if nodeID != "" {
		execution.CurrentNodeID = nodeID
	}

	if err := execution.Fail(failure, e.now()); err != nil {
		return fmt.Errorf("failed to mark execution failed: %w", err)
	}

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	e.logger.ErrorContext(ctx, "execution failed",
		"company_id", execution.CompanyID,
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ID,
		"node_id", nodeID,
		"error", cause)

	e.publish(ctx, execution, func(base events.BaseEvent) eventbus.Event {
		return events.ExecutionFailed{
			BaseEvent:   base,
			ExecutionID: execution.ID,
			ContactID:   execution.ContactID,
			NodeID:      nodeID,
			Error:       execution.LastError,
		}
	}, events.ExecutionFailedEvent)

	return nil
}

// save writes the execution. A version conflict means another worker or a cancel changed it;
// the walk stops and leaves the stored state alone.
func (e *Engine) save(ctx context.Context, execution *models.WorkflowExecution) error {
	err := e.store.UpdateExecution(ctx, execution)
	if err == nil {
		return nil
	}

	if persistence.IsExecutionConflict(err) {
		stored, loadErr := e.store.ExecutionByID(ctx, execution.CompanyID, execution.ID)
		if loadErr == nil {
			e.logger.InfoContext(ctx, "execution changed concurrently, stopping",
				"execution_id", execution.ID,
				"status", stored.Status)
		}

		return errSuperseded
	}

	return fmt.Errorf("failed to save execution: %w", err)
}

// Cancel moves a non-terminal execution to cancelled and deregisters its resume. An action
// already running is not interrupted; the walk stops at its next checkpoint.
func (e *Engine) Cancel(ctx context.Context, companyID, executionID, reason string) error {
	for range cancelAttempts {
		execution, err := e.store.ExecutionByID(ctx, companyID, executionID)
		if err != nil {
			return err
		}

		err = e.cancelLoaded(ctx, execution, reason)
		if !errors.Is(err, errSuperseded) {
			return err
		}
	}

	return fmt.Errorf("failed to cancel execution %s: %w", executionID, persistence.ErrExecutionConflict)
}

func (e *Engine) cancelLoaded(ctx context.Context, execution *models.WorkflowExecution, reason string) error {
	switch execution.Status {
	case models.ExecutionCancelled:
		return nil
	case models.ExecutionCompleted, models.ExecutionFailed:
		return ErrExecutionFinished
	}

	if err := execution.Fire(models.TriggerCancel, e.now()); err != nil {
		return err
	}

	execution.LastError = reason

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		if persistence.IsExecutionConflict(err) {
			return errSuperseded
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	if err := e.scheduler.Deregister(ctx, execution.CompanyID, execution.ID); err != nil {
		e.logger.WarnContext(ctx, "failed to deregister resume", "execution_id", execution.ID, "error", err)
	}

	e.logger.InfoContext(ctx, "execution cancelled",
		"company_id", execution.CompanyID,
		"execution_id", execution.ID,
		"reason", reason)

	e.publish(ctx, execution, func(base events.BaseEvent) eventbus.Event {
		return events.ExecutionCancelled{BaseEvent: base, ExecutionID: execution.ID, Reason: reason}
	}, events.ExecutionCancelledEvent)

	return nil
}

// CancelWorkflow cancels every non-terminal execution of the workflow and returns how many it
// cancelled.
func (e *Engine) CancelWorkflow(ctx context.Context, companyID, workflowID, reason string) (int, error) {
	executions, err := e.store.Executions(ctx, persistence.ExecutionFilter{
		CompanyID:  companyID,
		WorkflowID: workflowID,
		Statuses:   []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning, models.ExecutionWaitingDelay},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}

	cancelled := 0

	for _, execution := range executions {
		err := e.Cancel(ctx, companyID, execution.ID, reason)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, ErrExecutionFinished):
		default:
			return cancelled, err
		}
	}

	return cancelled, nil
}

func (e *Engine) publish(ctx context.Context, execution *models.WorkflowExecution, build func(events.BaseEvent) eventbus.Event, eventType events.EventType) {
	if e.bus == nil {
		return
	}

	base := events.NewBaseEvent(e.bus.GenerateID(), eventType, execution.CompanyID, execution.WorkflowID)

	if err := e.bus.Publish(ctx, execution.ID, build(base)); err != nil {
		e.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"execution_id", execution.ID,
			"event_type", eventType,
			"error", err)
	}
}
