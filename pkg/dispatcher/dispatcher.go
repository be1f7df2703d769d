// Package dispatcher turns CRM domain events into workflow executions.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInvalidEvent is returned for events that fail validation or carry an unknown kind.
var ErrInvalidEvent = errors.New("invalid domain event")

// Store is the persistence the dispatcher needs.
type Store interface {
	ActiveWorkflows(ctx context.Context, companyID string) ([]*models.Workflow, error)
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error
}

// Starter hands a freshly created execution to the engine.
type Starter func(ctx context.Context, companyID, executionID string) error

type Dispatcher struct {
	store    Store
	start    Starter
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() (string, error)
}

type Option func(*Dispatcher)

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDGenerator overrides execution id generation, UUIDv7 by default.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(d *Dispatcher) { d.newID = newID }
}

func New(logger *slog.Logger, store Store, start Starter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		start:    start,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "dispatcher"),
		tracer:   otelhelper.NoopTracer(),
		now:      func() time.Time { return time.Now().UTC() },
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}

			return id.String(), nil
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Validate checks the event shape and kind.
func (d *Dispatcher) Validate(event models.DomainEvent) error {
	if err := d.validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if !event.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, event.Kind)
	}

	return nil
}

// Dispatch creates one execution for every active workflow of the event's company whose trigger
// listens to the event kind, then starts each one. Manual events naming a workflow only reach
// that workflow. A redelivered event that was already dispatched to a workflow is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.DomainEvent) ([]*models.WorkflowExecution, error) {
	if err := d.Validate(event); err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.CompanyIDKey, event.CompanyID),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventKindKey, string(event.Kind)),
	)
	defer span.End()

	logger := d.logger.With(
		"company_id", event.CompanyID,
		"event_kind", event.Kind,
		"event_id", event.ID,
		"subject_id", event.SubjectID,
	)

	workflows, err := d.store.ActiveWorkflows(ctx, event.CompanyID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load active workflows: %w", err)
	}

	matched := Match(workflows, event)
	logger.InfoContext(ctx, "dispatching domain event", "matched_workflows", len(matched))

	var (
		created []*models.WorkflowExecution
		errs    []error
	)

	for _, workflow := range matched {
		execution, err := d.create(ctx, logger, workflow, event)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		if execution != nil {
			created = append(created, execution)
		}
	}

	for _, execution := range created {
		if err := d.start(ctx, execution.CompanyID, execution.ID); err != nil {
			logger.ErrorContext(ctx, "failed to start execution",
				"workflow_id", execution.WorkflowID,
				"execution_id", execution.ID,
				"error", err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)

		return created, err
	}

	otelhelper.SetOK(span, attribute.Int("drip.dispatch.executions", len(created)))

	return created, nil
}

func (d *Dispatcher) create(ctx context.Context, logger *slog.Logger, workflow *models.Workflow, event models.DomainEvent) (*models.WorkflowExecution, error) {
	id, err := d.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution id: %w", err)
	}

	execution := models.NewExecution(id, workflow, event, d.now())

	if err := d.store.CreateExecution(ctx, execution); err != nil {
		if persistence.IsDuplicateTrigger(err) {
			logger.InfoContext(ctx, "event already dispatched to workflow, skipping", "workflow_id", workflow.ID)

			return nil, nil
		}

		return nil, fmt.Errorf("failed to create execution for workflow %s: %w", workflow.ID, err)
	}

	logger.InfoContext(ctx, "execution created", "workflow_id", workflow.ID, "execution_id", execution.ID)

	return execution, nil
}

// Match returns the active workflows whose trigger listens to the event.
func Match(workflows []*models.Workflow, event models.DomainEvent) []*models.Workflow {
	var matched []*models.Workflow

	for _, workflow := range workflows {
		if !workflow.IsActive || workflow.CompanyID != event.CompanyID {
			continue
		}

		if event.WorkflowID != "" && workflow.ID != event.WorkflowID {
			continue
		}

		trigger := workflow.TriggerNode()
		if trigger == nil || trigger.TriggerEvent() != event.Kind {
			continue
		}

		matched = append(matched, workflow)
	}

	return matched
}

// HandleTriggerReceived is the bus handler for trigger.received. Invalid events are dropped
// instead of being redelivered.
func (d *Dispatcher) HandleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	_, err := d.Dispatch(ctx, received.Event)
	if errors.Is(err, ErrInvalidEvent) {
		d.logger.WarnContext(ctx, "dropping invalid domain event", "event_id", received.ID, "error", err)

		return nil
	}

	return err
}
