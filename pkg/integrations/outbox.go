// Package integrations provides the external collaborators action handlers call: an event bus
// outbox for messaging, tasks and team notifications, and tag stores.
package integrations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/actions"
	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
)

// Outbox publishes collaborator requests on the event bus for provider clients to deliver. Each
// event is keyed by the request idempotency key and its id is returned as the message id.
type Outbox struct {
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewOutbox(logger *slog.Logger, bus eventbus.EventBus) *Outbox {
	return &Outbox{
		bus:    bus,
		logger: logger.With("module", "outbox"),
	}
}

// Collaborators returns the action collaborators served by the outbox.
func (o *Outbox) Collaborators(tags actions.TagStore) actions.Collaborators {
	return actions.Collaborators{
		Mailer:   o,
		SMS:      o,
		WhatsApp: o,
		Tasks:    o,
		Team:     o,
		Tags:     tags,
	}
}

func (o *Outbox) base(eventType events.EventType, origin actions.Origin) events.BaseEvent {
	return events.NewBaseEvent(o.bus.GenerateID(), eventType, origin.CompanyID, origin.WorkflowID)
}

func (o *Outbox) publish(ctx context.Context, origin actions.Origin, event eventbus.Event) error {
	if err := o.bus.Publish(ctx, origin.IdempotencyKey, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.GetType(), err)
	}

	o.logger.DebugContext(ctx, "outbox event published",
		"event_type", event.GetType(),
		"idempotency_key", origin.IdempotencyKey)

	return nil
}

func (o *Outbox) SendEmail(ctx context.Context, req actions.EmailRequest) (string, error) {
	event := events.EmailRequested{BaseEvent: o.base(events.EmailRequestedEvent, req.Origin), Request: req}

	return event.ID, o.publish(ctx, req.Origin, event)
}

func (o *Outbox) SendSMS(ctx context.Context, req actions.SMSRequest) (string, error) {
	event := events.SMSRequested{BaseEvent: o.base(events.SMSRequestedEvent, req.Origin), Request: req}

	return event.ID, o.publish(ctx, req.Origin, event)
}

func (o *Outbox) SendWhatsApp(ctx context.Context, req actions.WhatsAppRequest) (string, error) {
	event := events.WhatsAppRequested{BaseEvent: o.base(events.WhatsAppRequestedEvent, req.Origin), Request: req}

	return event.ID, o.publish(ctx, req.Origin, event)
}

func (o *Outbox) CreateTask(ctx context.Context, req actions.TaskRequest) (string, error) {
	event := events.TaskCreateRequested{BaseEvent: o.base(events.TaskCreateRequestedEvent, req.Origin), Request: req}

	return event.ID, o.publish(ctx, req.Origin, event)
}

func (o *Outbox) NotifyTeam(ctx context.Context, req actions.TeamNotification) error {
	event := events.TeamNotificationRequested{BaseEvent: o.base(events.TeamNotificationRequestedEvent, req.Origin), Request: req}

	return o.publish(ctx, req.Origin, event)
}
