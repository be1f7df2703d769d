// Package events defines the envelopes carried on the drip event bus.
package events

import (
	"time"

	"github.com/dukex/drip/pkg/actions"
	"github.com/dukex/drip/pkg/models"
)

type EventType string

// Topic carries every drip event; consumers dispatch on the event_type metadata.
const Topic = "drip.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Ingestion and scheduling.
	TriggerReceivedEvent EventType = "trigger.received"
	ExecutionQueuedEvent EventType = "execution.queued"

	// Execution lifecycle.
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	// Outbox requests consumed by provider clients.
	EmailRequestedEvent            EventType = "message.email_requested"
	SMSRequestedEvent              EventType = "message.sms_requested"
	WhatsAppRequestedEvent         EventType = "message.whatsapp_requested"
	TaskCreateRequestedEvent       EventType = "task.create_requested"
	TeamNotificationRequestedEvent EventType = "team.notification_requested"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	CompanyID  string    `json:"company_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

// NewBaseEvent stamps a base event with the current time.
func NewBaseEvent(id string, eventType EventType, companyID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CompanyID:  companyID,
		WorkflowID: workflowID,
	}
}

// TriggerReceived hands an ingested domain event to the dispatcher.
type TriggerReceived struct {
	BaseEvent

	Event models.DomainEvent `json:"event"`
}

func (e TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

// QueueReason tells the engine pool whether to start or resume an execution.
type QueueReason string

const (
	QueueStart  QueueReason = "start"
	QueueResume QueueReason = "resume"
)

type ExecutionQueued struct {
	BaseEvent

	ExecutionID string      `json:"execution_id"`
	Reason      QueueReason `json:"reason"`
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	ContactID   string        `json:"contact_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ContactID   string `json:"contact_id"`
	NodeID      string `json:"node_id,omitempty"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// Outbox events. Provider clients dedupe on Request.IdempotencyKey.

type EmailRequested struct {
	BaseEvent

	Request actions.EmailRequest `json:"request"`
}

func (e EmailRequested) GetType() EventType {
	return EmailRequestedEvent
}

type SMSRequested struct {
	BaseEvent

	Request actions.SMSRequest `json:"request"`
}

func (e SMSRequested) GetType() EventType {
	return SMSRequestedEvent
}

type WhatsAppRequested struct {
	BaseEvent

	Request actions.WhatsAppRequest `json:"request"`
}

func (e WhatsAppRequested) GetType() EventType {
	return WhatsAppRequestedEvent
}

type TaskCreateRequested struct {
	BaseEvent

	Request actions.TaskRequest `json:"request"`
}

func (e TaskCreateRequested) GetType() EventType {
	return TaskCreateRequestedEvent
}

type TeamNotificationRequested struct {
	BaseEvent

	Request actions.TeamNotification `json:"request"`
}

func (e TeamNotificationRequested) GetType() EventType {
	return TeamNotificationRequestedEvent
}
