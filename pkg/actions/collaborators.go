package actions

import (
	"context"
	"time"
)

// Origin identifies the action invocation a collaborator request belongs to. IdempotencyKey is
// "executionID:nodeID" and is stable across retries and replays.
type Origin struct {
	IdempotencyKey string `json:"idempotency_key"`
	CompanyID      string `json:"company_id"`
	WorkflowID     string `json:"workflow_id"`
	ExecutionID    string `json:"execution_id"`
	NodeID         string `json:"node_id"`
	SubjectID      string `json:"subject_id"`
}

type EmailRequest struct {
	Origin

	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

type SMSRequest struct {
	Origin

	To      string `json:"to"`
	Message string `json:"message"`
}

type WhatsAppRequest struct {
	Origin

	To           string   `json:"to"`
	TemplateName string   `json:"template_name"`
	Parameters   []string `json:"parameters"`
}

type TaskRequest struct {
	Origin

	Title string    `json:"title"`
	DueAt time.Time `json:"due_at"`
}

type TeamNotification struct {
	Origin

	Channel string `json:"channel"`
	Message string `json:"message"`
}

// WebhookRequest is an outbound HTTP call. Payload is sent as the JSON body for POST and as
// query parameters for GET.
type WebhookRequest struct {
	Origin

	URL     string
	Method  string
	Headers map[string]string
	Payload map[string]string
}

// Mailer sends transactional email and returns the provider message id.
type Mailer interface {
	SendEmail(ctx context.Context, req EmailRequest) (string, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, req SMSRequest) (string, error)
}

type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, req WhatsAppRequest) (string, error)
}

// TagStore mutates a subject's tag set in the CRM.
type TagStore interface {
	AddTag(ctx context.Context, companyID, subjectID, tag string) error
	RemoveTag(ctx context.Context, companyID, subjectID, tag string) error
}

type TaskCreator interface {
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
}

type TeamNotifier interface {
	NotifyTeam(ctx context.Context, req TeamNotification) error
}

// WebhookCaller performs the webhook call and returns the response status code.
type WebhookCaller interface {
	Call(ctx context.Context, req WebhookRequest) (int, error)
}

// Collaborators groups the external services action handlers call. A nil collaborator leaves its
// action kinds without a handler, except Webhooks which defaults to a WebhookClient.
type Collaborators struct {
	Mailer   Mailer
	SMS      SMSSender
	WhatsApp WhatsAppSender
	Tags     TagStore
	Tasks    TaskCreator
	Team     TeamNotifier
	Webhooks WebhookCaller
}
