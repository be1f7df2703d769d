// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/services"
)

// CompanyHeader carries the tenant of every workflow and execution request.
const CompanyHeader = "X-Company-ID"

// WorkflowRequest is the body of workflow create and replace requests.
type WorkflowRequest struct {
	Name        string                 `json:"name"        validate:"required,min=3"`
	Description string                 `json:"description"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
	Connections []*models.Connection   `json:"connections"`
}

func (r WorkflowRequest) definition() services.WorkflowDefinition {
	return services.WorkflowDefinition{
		Name:        r.Name,
		Description: r.Description,
		Nodes:       r.Nodes,
		Connections: r.Connections,
	}
}

// EventRequest is a CRM domain event posted to /events. CompanyID falls back to the
// X-Company-ID header.
type EventRequest struct {
	ID         string            `json:"id,omitempty"`
	Kind       string            `json:"kind"                  validate:"required"`
	CompanyID  string            `json:"company_id,omitempty"`
	SubjectID  string            `json:"subject_id"            validate:"required"`
	Payload    map[string]string `json:"payload,omitempty"`
	OccurredAt *time.Time        `json:"occurred_at,omitempty"`
}

func (r EventRequest) event() models.DomainEvent {
	event := models.DomainEvent{
		ID:        r.ID,
		Kind:      models.TriggerEvent(r.Kind),
		CompanyID: r.CompanyID,
		SubjectID: r.SubjectID,
		Payload:   r.Payload,
	}

	if r.OccurredAt != nil {
		event.OccurredAt = r.OccurredAt.UTC()
	}

	return event
}

// RunWorkflowRequest starts a manual workflow for one contact.
type RunWorkflowRequest struct {
	SubjectID string            `json:"subject_id" validate:"required"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// AcceptedResponse acknowledges an event that will be dispatched asynchronously.
type AcceptedResponse struct {
	EventID string `json:"event_id"`
}

type DeleteWorkflowResponse struct {
	CancelledExecutions int `json:"cancelled_executions"`
}

type ExecutionsResponse struct {
	Executions []*models.WorkflowExecution `json:"executions"`
	Count      int                         `json:"count"`
}
