package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EventSink receives validated domain events.
type EventSink interface {
	Submit(ctx context.Context, event models.DomainEvent) error
}

// BusSink publishes events as trigger.received for the dispatcher to consume.
type BusSink struct {
	bus eventbus.EventBus
}

func NewBusSink(bus eventbus.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Submit(ctx context.Context, event models.DomainEvent) error {
	received := events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(s.bus.GenerateID(), events.TriggerReceivedEvent, event.CompanyID, event.WorkflowID),
		Event:     event,
	}

	if err := s.bus.Publish(ctx, event.CompanyID, received); err != nil {
		return fmt.Errorf("failed to publish trigger: %w", err)
	}

	return nil
}

// DispatchSink dispatches events in process.
type DispatchSink struct {
	dispatcher *dispatcher.Dispatcher
}

func NewDispatchSink(d *dispatcher.Dispatcher) *DispatchSink {
	return &DispatchSink{dispatcher: d}
}

func (s *DispatchSink) Submit(ctx context.Context, event models.DomainEvent) error {
	_, err := s.dispatcher.Dispatch(ctx, event)

	return err
}

// Events accepts CRM domain events and manual runs.
type Events struct {
	sink      EventSink
	workflows WorkflowReader
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// WorkflowReader loads a single workflow.
type WorkflowReader interface {
	WorkflowByID(ctx context.Context, companyID, id string) (*models.Workflow, error)
}

func NewEvents(logger *slog.Logger, sink EventSink, workflows WorkflowReader) *Events {
	return &Events{
		sink:      sink,
		workflows: workflows,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "events_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates the event, assigns an id when it has none and hands it to the sink. The id is
// returned so callers can correlate executions with the event.
func (s *Events) Ingest(ctx context.Context, event models.DomainEvent) (string, error) {
	if err := s.validate.Struct(event); err != nil {
		return "", NewValidationError("Ingest", "INVALID_EVENT", err.Error(), ErrInvalidEvent)
	}

	if !event.Kind.Valid() {
		return "", NewValidationError("Ingest", "INVALID_EVENT", fmt.Sprintf("unknown event kind %q", event.Kind), ErrInvalidEvent)
	}

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("failed to generate event id: %w", err)
		}

		event.ID = id.String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := s.sink.Submit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to submit event",
			"company_id", event.CompanyID,
			"event_id", event.ID,
			"kind", event.Kind,
			"error", err)

		return "", err
	}

	s.logger.DebugContext(ctx, "event accepted",
		"company_id", event.CompanyID,
		"event_id", event.ID,
		"kind", event.Kind)

	return event.ID, nil
}

// Run starts an active, manually triggered workflow for one contact.
func (s *Events) Run(ctx context.Context, companyID, workflowID, subjectID string, payload map[string]string) (string, error) {
	if err := requireCompany("Run", companyID); err != nil {
		return "", err
	}

	wf, err := s.workflows.WorkflowByID(ctx, companyID, workflowID)
	if err != nil {
		return "", err
	}

	if !wf.IsActive {
		return "", newConflictError("Run", "WORKFLOW_INACTIVE", ErrWorkflowInactive)
	}

	trigger := wf.TriggerNode()
	if trigger == nil || trigger.TriggerEvent() != models.EventManual {
		return "", newConflictError("Run", "NOT_MANUAL_TRIGGER", ErrNotManualTrigger)
	}

	return s.Ingest(ctx, models.DomainEvent{
		Kind:       models.EventManual,
		CompanyID:  companyID,
		SubjectID:  subjectID,
		Payload:    payload,
		WorkflowID: workflowID,
	})
}
