package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/template"
)

// Context keys read and written by the built-in handlers.
const (
	ContextEmail          = "email"
	ContextPhone          = "phone"
	OutputEmailMessageID  = "email_message_id"
	OutputSMSMessageID    = "sms_message_id"
	OutputWhatsAppMessage = "whatsapp_message_id"
	OutputTaskID          = "task_id"
	OutputWebhookStatus   = "webhook_status"
)

// Call is one invocation of an action handler.
type Call struct {
	Node      *models.WorkflowNode
	Execution *models.WorkflowExecution
	Origin    Origin
	Attempt   int
	Now       time.Time
}

// Vars returns the execution context used for placeholder substitution.
func (c Call) Vars() map[string]string {
	return c.Execution.Context
}

// Handler performs the side effect of one action kind and returns the context entries it sets.
type Handler interface {
	Handle(ctx context.Context, call Call) (map[string]string, error)
}

type HandlerFunc func(ctx context.Context, call Call) (map[string]string, error)

func (f HandlerFunc) Handle(ctx context.Context, call Call) (map[string]string, error) {
	return f(ctx, call)
}

func decode(call Call, target any) error {
	if err := call.Node.DecodeConfig(target); err != nil {
		return Permanent(err)
	}

	return nil
}

func builtinHandlers(c Collaborators) map[models.ActionKind]Handler {
	handlers := make(map[models.ActionKind]Handler)

	if c.Mailer != nil {
		handlers[models.ActionSendEmail] = sendEmail(c.Mailer)
	}

	if c.SMS != nil {
		handlers[models.ActionSendSMS] = sendSMS(c.SMS)
	}

	if c.WhatsApp != nil {
		handlers[models.ActionSendWhatsApp] = sendWhatsApp(c.WhatsApp)
	}

	if c.Tags != nil {
		handlers[models.ActionAddTag] = addTag(c.Tags)
		handlers[models.ActionRemoveTag] = removeTag(c.Tags)
	}

	if c.Tasks != nil {
		handlers[models.ActionCreateTask] = createTask(c.Tasks)
	}

	if c.Team != nil {
		handlers[models.ActionNotifyTeam] = notifyTeam(c.Team)
	}

	webhooks := c.Webhooks
	if webhooks == nil {
		webhooks = NewWebhookClient(DefaultWebhookTimeout)
	}

	handlers[models.ActionWebhook] = callWebhook(webhooks)

	return handlers
}

func sendEmail(mailer Mailer) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		var cfg models.SendEmailConfig
		if err := decode(call, &cfg); err != nil {
			return nil, err
		}

		id, err := mailer.SendEmail(ctx, EmailRequest{
			Origin:   call.Origin,
			To:       call.Vars()[ContextEmail],
			Subject:  template.Render(cfg.Subject, call.Vars()),
			HTMLBody: template.Render(cfg.HTMLBody, call.Vars()),
		})
		if err != nil {
			return nil, err
		}

		return map[string]string{OutputEmailMessageID: id}, nil
	}
}

func sendSMS(sender SMSSender) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		var cfg models.SendSMSConfig
		if err := decode(call, &cfg); err != nil {
			return nil, err
		}

		id, err := sender.SendSMS(ctx, SMSRequest{
			Origin:  call.Origin,
			To:      call.Vars()[ContextPhone],
			Message: template.Render(cfg.Message, call.Vars()),
		})
		if err != nil {
			return nil, err
		}

		return map[string]string{OutputSMSMessageID: id}, nil
	}
}

func sendWhatsApp(sender WhatsAppSender) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		var cfg models.SendWhatsAppConfig
		if err := decode(call, &cfg); err != nil {
			return nil, err
		}

		params := make([]string, len(cfg.Parameters))
		for i, param := range cfg.Parameters {
			params[i] = resolveParameter(param, call.Vars())
		}

		id, err := sender.SendWhatsApp(ctx, WhatsAppRequest{
			Origin:       call.Origin,
			To:           call.Vars()[ContextPhone],
			TemplateName: cfg.TemplateName,
			Parameters:   params,
		})
		if err != nil {
			return nil, err
		}

		return map[string]string{OutputWhatsAppMessage: id}, nil
	}
}

// resolveParameter renders placeholders, otherwise treats the parameter as a context key and
// falls back to the literal.
func resolveParameter(param string, vars map[string]string) string {
	if strings.Contains(param, "{{") {
		return template.Render(param, vars)
	}

	if value, ok := vars[param]; ok {
		return value
	}

	return param
}

func tagName(call Call) (string, error) {
	var cfg models.TagConfig
	if err := decode(call, &cfg); err != nil {
		return "", err
	}

	tag := strings.TrimSpace(template.Render(cfg.TagName, call.Vars()))
	if tag == "" {
		return "", Permanent(fmt.Errorf("node %s has an empty tagName", call.Node.ID))
	}

	return tag, nil
}

func addTag(tags TagStore) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		tag, err := tagName(call)
		if err != nil {
			return nil, err
		}

		if err := tags.AddTag(ctx, call.Origin.CompanyID, call.Origin.SubjectID, tag); err != nil {
			return nil, err
		}

		return map[string]string{models.ContextTags: models.WithContextTag(call.Vars(), tag)}, nil
	}
}

func removeTag(tags TagStore) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		tag, err := tagName(call)
		if err != nil {
			return nil, err
		}

		if err := tags.RemoveTag(ctx, call.Origin.CompanyID, call.Origin.SubjectID, tag); err != nil {
			return nil, err
		}

		output := map[string]string{models.ContextTags: models.WithoutContextTag(call.Vars(), tag)}
		if strings.EqualFold(strings.TrimSpace(call.Vars()[models.ContextTag]), tag) {
			output[models.ContextTag] = ""
		}

		return output, nil
	}
}

func createTask(tasks TaskCreator) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		var cfg models.CreateTaskConfig
		if err := decode(call, &cfg); err != nil {
			return nil, err
		}

		id, err := tasks.CreateTask(ctx, TaskRequest{
			Origin: call.Origin,
			Title:  template.Render(cfg.TaskTitle, call.Vars()),
			DueAt:  call.Now.AddDate(0, 0, cfg.DueInDays),
		})
		if err != nil {
			return nil, err
		}

		return map[string]string{OutputTaskID: id}, nil
	}
}

func notifyTeam(team TeamNotifier) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		var cfg models.NotifyTeamConfig
		if err := decode(call, &cfg); err != nil {
			return nil, err
		}

		err := team.NotifyTeam(ctx, TeamNotification{
			Origin:  call.Origin,
			Channel: cfg.Channel,
			Message: template.Render(cfg.Message, call.Vars()),
		})

		return nil, err
	}
}

func callWebhook(caller WebhookCaller) HandlerFunc {
	return func(ctx context.Context, call Call) (map[string]string, error) {
		var cfg models.WebhookConfig
		if err := decode(call, &cfg); err != nil {
			return nil, err
		}

		headers := make(map[string]string, len(cfg.Headers))
		for key, value := range cfg.Headers {
			headers[key] = template.Render(value, call.Vars())
		}

		status, err := caller.Call(ctx, WebhookRequest{
			Origin:  call.Origin,
			URL:     template.Render(cfg.URL, call.Vars()),
			Method:  cfg.Method,
			Headers: headers,
			Payload: call.Vars(),
		})
		if err != nil {
			return nil, err
		}

		return map[string]string{OutputWebhookStatus: strconv.Itoa(status)}, nil
	}
}
