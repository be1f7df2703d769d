// Package steps binds the CRM automation feature files to an in-process engine.
package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/dukex/drip/pkg/actions"
	"github.com/dukex/drip/pkg/conditions"
	"github.com/dukex/drip/pkg/dispatcher"
	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/memory"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/workflow"
)

// CRMContext holds the state of one scenario: a memory store, a manual clock and an outbox that
// records every side effect.
type CRMContext struct {
	clock     *clock
	outbox    *outbox
	store     *memory.Persistence
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	workflows *services.Workflow
	events    *services.Events

	cancelled int
}

func NewCRMContext() *CRMContext {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := &CRMContext{
		clock:  &clock{now: time.Now().UTC()},
		outbox: newOutbox(),
		store:  memory.NewPersistence(),
	}
	c.store.SetClock(c.clock.Now)

	c.scheduler = scheduler.New(logger, scheduler.NewStoreQueue(c.store, time.Minute), c.store, nil,
		scheduler.WithClock(c.clock.Now))

	executor := actions.NewExecutor(logger, c.store, actions.Collaborators{
		Mailer: c.outbox,
		SMS:    c.outbox,
		Tags:   c.outbox,
		Team:   c.outbox,
	}, actions.WithClock(c.clock.Now))

	c.engine = engine.New(logger, c.store, executor, conditions.NewEvaluator(logger, c.outbox), c.scheduler,
		engine.WithClock(c.clock.Now))
	c.scheduler.SetOnDue(c.engine.Advance)

	dispatch := dispatcher.New(logger, c.store, c.engine.Start, dispatcher.WithClock(c.clock.Now))

	c.workflows = services.NewWorkflow(logger, c.store, c.engine)
	c.events = services.NewEvents(logger, services.NewDispatchSink(dispatch), c.store)

	return c
}

func (c *CRMContext) RegisterSteps(ctx *godog.ScenarioContext) {
	ctx.Step(`^the clock is at "([^"]*)"$`, c.theClockIsAt)
	ctx.Step(`^company "([^"]*)" imported the workflows in "([^"]*)"$`, c.companyImportedTheWorkflowsIn)
	ctx.Step(`^event "([^"]*)" of kind "([^"]*)" arrives for company "([^"]*)" and contact "([^"]*)" with:$`, c.eventArrives)
	ctx.Step(`^company "([^"]*)" deletes workflow "([^"]*)"$`, c.companyDeletesWorkflow)
	ctx.Step(`^(\d+) (seconds?|minutes?) pass$`, c.timePasses)
	ctx.Step(`^contact "([^"]*)" of company "([^"]*)" has tag "([^"]*)"$`, c.contactHasTag)
	ctx.Step(`^the "([^"]*)" execution of company "([^"]*)" is "([^"]*)"$`, c.theExecutionIs)
	ctx.Step(`^company "([^"]*)" has (\d+) executions? of workflow "([^"]*)"$`, c.companyHasExecutions)
	ctx.Step(`^workflow "([^"]*)" of company "([^"]*)" has (\d+) total, (\d+) successful and (\d+) failed runs$`, c.workflowHasStats)
	ctx.Step(`^(\d+) executions? (?:was|were) cancelled$`, c.executionsWereCancelled)
	ctx.Step(`^no email was sent$`, c.noEmailWasSent)
	ctx.Step(`^an email with subject "([^"]*)" was sent to "([^"]*)"$`, c.anEmailWasSent)
	ctx.Step(`^no SMS was sent$`, c.noSMSWasSent)
	ctx.Step(`^an SMS "([^"]*)" was sent to "([^"]*)"$`, c.anSMSWasSent)
	ctx.Step(`^the team channel "([^"]*)" was notified with "([^"]*)"$`, c.theTeamWasNotified)
	ctx.Step(`^the team was not notified$`, c.theTeamWasNotNotified)
}

func (c *CRMContext) theClockIsAt(value string) error {
	now, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}

	c.clock.Set(now.UTC())

	return nil
}

func (c *CRMContext) companyImportedTheWorkflowsIn(companyID, path string) error {
	definitions, err := workflow.LoadDefinitions(path, companyID)
	if err != nil {
		return err
	}

	_, err = c.workflows.Import(context.Background(), companyID, definitions, true)

	return err
}

func (c *CRMContext) eventArrives(eventID, kind, companyID, subjectID string, table *godog.Table) error {
	payload := make(map[string]string, len(table.Rows))

	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return errors.New("payload rows need a key and a value")
		}

		payload[row.Cells[0].Value] = row.Cells[1].Value
	}

	_, err := c.events.Ingest(context.Background(), models.DomainEvent{
		ID:         eventID,
		Kind:       models.TriggerEvent(kind),
		CompanyID:  companyID,
		SubjectID:  subjectID,
		Payload:    payload,
		OccurredAt: c.clock.Now(),
	})

	return err
}

func (c *CRMContext) companyDeletesWorkflow(companyID, workflowID string) error {
	cancelled, err := c.workflows.Delete(context.Background(), companyID, workflowID)
	if err != nil {
		return err
	}

	c.cancelled = cancelled

	return nil
}

func (c *CRMContext) timePasses(amount int, unit string) error {
	step := time.Second
	if strings.HasPrefix(unit, "minute") {
		step = time.Minute
	}

	c.clock.Add(time.Duration(amount) * step)
	c.scheduler.Tick(context.Background())

	return nil
}

func (c *CRMContext) contactHasTag(subjectID, companyID, tag string) error {
	has, err := c.outbox.HasTag(context.Background(), companyID, subjectID, tag)
	if err != nil {
		return err
	}

	if !has {
		return fmt.Errorf("contact %s of %s has no tag %q", subjectID, companyID, tag)
	}

	return nil
}

func (c *CRMContext) executions(companyID, workflowID string) ([]*models.WorkflowExecution, error) {
	return c.store.Executions(context.Background(), persistence.ExecutionFilter{
		CompanyID:  companyID,
		WorkflowID: workflowID,
	})
}

func (c *CRMContext) theExecutionIs(workflowID, companyID, status string) error {
	executions, err := c.executions(companyID, workflowID)
	if err != nil {
		return err
	}

	if len(executions) != 1 {
		return fmt.Errorf("expected one execution of %s, found %d", workflowID, len(executions))
	}

	if got := string(executions[0].Status); got != status {
		return fmt.Errorf("execution of %s is %q, want %q (error: %s)", workflowID, got, status, executions[0].LastError)
	}

	return nil
}

func (c *CRMContext) companyHasExecutions(companyID string, count int, workflowID string) error {
	executions, err := c.executions(companyID, workflowID)
	if err != nil {
		return err
	}

	if len(executions) != count {
		return fmt.Errorf("company %s has %d executions of %s, want %d", companyID, len(executions), workflowID, count)
	}

	return nil
}

func (c *CRMContext) workflowHasStats(workflowID, companyID string, total, successful, failed int) error {
	stored, err := c.store.WorkflowByID(context.Background(), companyID, workflowID)
	if err != nil {
		return err
	}

	want := models.WorkflowStats{TotalRuns: int64(total), SuccessfulRuns: int64(successful), FailedRuns: int64(failed)}
	if stored.Stats != want {
		return fmt.Errorf("stats of %s are %+v, want %+v", workflowID, stored.Stats, want)
	}

	return nil
}

func (c *CRMContext) executionsWereCancelled(count int) error {
	if c.cancelled != count {
		return fmt.Errorf("%d executions were cancelled, want %d", c.cancelled, count)
	}

	return nil
}

func (c *CRMContext) noEmailWasSent() error {
	if emails := c.outbox.Emails(); len(emails) > 0 {
		return fmt.Errorf("expected no email, got %d", len(emails))
	}

	return nil
}

func (c *CRMContext) anEmailWasSent(subject, to string) error {
	for _, email := range c.outbox.Emails() {
		if email.Subject == subject && email.To == to {
			return nil
		}
	}

	return fmt.Errorf("no email %q to %s among %+v", subject, to, c.outbox.Emails())
}

func (c *CRMContext) noSMSWasSent() error {
	if messages := c.outbox.SMS(); len(messages) > 0 {
		return fmt.Errorf("expected no SMS, got %d", len(messages))
	}

	return nil
}

func (c *CRMContext) anSMSWasSent(message, to string) error {
	for _, sms := range c.outbox.SMS() {
		if sms.Message == message && sms.To == to {
			return nil
		}
	}

	return fmt.Errorf("no SMS %q to %s among %+v", message, to, c.outbox.SMS())
}

func (c *CRMContext) theTeamWasNotified(channel, message string) error {
	for _, notification := range c.outbox.Notifications() {
		if notification.Channel == channel && notification.Message == message {
			return nil
		}
	}

	return fmt.Errorf("channel %s never got %q", channel, message)
}

func (c *CRMContext) theTeamWasNotNotified() error {
	if notifications := c.outbox.Notifications(); len(notifications) > 0 {
		return fmt.Errorf("expected no team notification, got %d", len(notifications))
	}

	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
