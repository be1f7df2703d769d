package steps

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/drip/pkg/actions"
)

// outbox stands in for the CRM collaborators and records every call.
type outbox struct {
	mu            sync.Mutex
	emails        []actions.EmailRequest
	sms           []actions.SMSRequest
	notifications []actions.TeamNotification
	tags          map[string][]string
}

func newOutbox() *outbox {
	return &outbox{tags: make(map[string][]string)}
}

func tagKey(companyID, subjectID string) string {
	return companyID + "/" + subjectID
}

func (o *outbox) SendEmail(_ context.Context, req actions.EmailRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.emails = append(o.emails, req)

	return fmt.Sprintf("email-%d", len(o.emails)), nil
}

func (o *outbox) SendSMS(_ context.Context, req actions.SMSRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sms = append(o.sms, req)

	return fmt.Sprintf("sms-%d", len(o.sms)), nil
}

func (o *outbox) NotifyTeam(_ context.Context, req actions.TeamNotification) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.notifications = append(o.notifications, req)

	return nil
}

func (o *outbox) AddTag(_ context.Context, companyID, subjectID, tag string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := tagKey(companyID, subjectID)
	if !slices.Contains(o.tags[key], tag) {
		o.tags[key] = append(o.tags[key], tag)
	}

	return nil
}

func (o *outbox) RemoveTag(_ context.Context, companyID, subjectID, tag string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := tagKey(companyID, subjectID)
	o.tags[key] = slices.DeleteFunc(o.tags[key], func(known string) bool { return known == tag })

	return nil
}

func (o *outbox) HasTag(_ context.Context, companyID, subjectID, tag string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return slices.ContainsFunc(o.tags[tagKey(companyID, subjectID)], func(known string) bool {
		return strings.EqualFold(known, tag)
	}), nil
}

func (o *outbox) Emails() []actions.EmailRequest {
	o.mu.Lock()
	defer o.mu.Unlock()

	return slices.Clone(o.emails)
}

func (o *outbox) SMS() []actions.SMSRequest {
	o.mu.Lock()
	defer o.mu.Unlock()

	return slices.Clone(o.sms)
}

func (o *outbox) Notifications() []actions.TeamNotification {
	o.mu.Lock()
	defer o.mu.Unlock()

	return slices.Clone(o.notifications)
}
