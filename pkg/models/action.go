package models

import "time"

// ActionKind names the side effect an action node performs.
type ActionKind string

const (
	ActionSendEmail    ActionKind = "send_email"
	ActionSendSMS      ActionKind = "send_sms"
	ActionSendWhatsApp ActionKind = "send_whatsapp"
	ActionAddTag       ActionKind = "add_tag"
	ActionRemoveTag    ActionKind = "remove_tag"
	ActionCreateTask   ActionKind = "create_task"
	ActionNotifyTeam   ActionKind = "notify_team"
	ActionWebhook      ActionKind = "webhook"
)

// ActionKinds lists every supported action kind.
var ActionKinds = []ActionKind{
	ActionSendEmail,
	ActionSendSMS,
	ActionSendWhatsApp,
	ActionAddTag,
	ActionRemoveTag,
	ActionCreateTask,
	ActionNotifyTeam,
	ActionWebhook,
}

// SendEmailConfig: subject and htmlBody may contain {{var}} placeholders.
type SendEmailConfig struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"htmlBody"`
}

type SendSMSConfig struct {
	Message string `json:"message"`
}

// SendWhatsAppConfig parameters are resolved against the execution context.
type SendWhatsAppConfig struct {
	TemplateName string   `json:"templateName"`
	Parameters   []string `json:"parameters"`
}

// TagConfig serves both add_tag and remove_tag.
type TagConfig struct {
	TagName string `json:"tagName"`
}

type CreateTaskConfig struct {
	TaskTitle string `json:"taskTitle"`
	DueInDays int    `json:"dueInDays"`
}

type NotifyTeamConfig struct {
	Message string `json:"message"`
	Channel string `json:"channel"`
}

type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

// ActionMarker records that the action of (ExecutionID, NodeID) completed, so a replayed
// Advance reuses its output instead of repeating the side effect.
type ActionMarker struct {
	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	Kind        ActionKind        `json:"kind"`
	Attempts    int               `json:"attempts"`
	Output      map[string]string `json:"output,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}
