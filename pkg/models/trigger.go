package models

import "time"

// TriggerEvent is the fixed set of domain event kinds a trigger node can listen to.
type TriggerEvent string

const (
	EventContactCreated       TriggerEvent = "contact.created"
	EventFormSubmitted        TriggerEvent = "form.submitted"
	EventContactTagAdded      TriggerEvent = "contact.tag_added"
	EventDealStageChanged     TriggerEvent = "deal.stage_changed"
	EventDealWon              TriggerEvent = "deal.won"
	EventAppointmentScheduled TriggerEvent = "appointment.scheduled"
	EventManual               TriggerEvent = "manual"
)

// TriggerEvents lists every supported trigger event.
var TriggerEvents = []TriggerEvent{
	EventContactCreated,
	EventFormSubmitted,
	EventContactTagAdded,
	EventDealStageChanged,
	EventDealWon,
	EventAppointmentScheduled,
	EventManual,
}

// Valid reports whether e is a known trigger event.
func (e TriggerEvent) Valid() bool {
	for _, known := range TriggerEvents {
		if e == known {
			return true
		}
	}

	return false
}

// DomainEvent is a CRM occurrence fed into the trigger dispatcher.
type DomainEvent struct {
	// ID identifies the delivery; when set, it deduplicates executions per workflow.
	ID        string            `json:"id,omitempty"`
	Kind      TriggerEvent      `json:"kind"                  validate:"required"`
	CompanyID string            `json:"company_id"            validate:"required"`
	SubjectID string            `json:"subject_id"            validate:"required"`
	Payload   map[string]string `json:"payload,omitempty"`
	// WorkflowID restricts a manual event to a single workflow.
	WorkflowID string    `json:"workflow_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Context keys seeded by the dispatcher next to the event payload.
const (
	ContextSubjectID      = "subject_id"
	ContextCompanyID      = "company_id"
	ContextTriggerEvent   = "trigger_event"
	ContextTriggerEventID = "trigger_event_id"
	ContextTags           = "tags"
	ContextSource         = "source"
	ContextTag            = "tag"
)

// SeedContext builds the initial execution context from the event.
func (e DomainEvent) SeedContext() map[string]string {
	ctx := make(map[string]string, len(e.Payload)+4)
	for key, value := range e.Payload {
		ctx[key] = value
	}

	ctx[ContextSubjectID] = e.SubjectID
	ctx[ContextCompanyID] = e.CompanyID
	ctx[ContextTriggerEvent] = string(e.Kind)

	if e.ID != "" {
		ctx[ContextTriggerEventID] = e.ID
	}

	return ctx
}
