package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence/memory"
	"github.com/dukex/drip/pkg/testutil"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	company      = "company-1"
	otherCompany = "company-2"
)

type noopScheduler struct{}

func (noopScheduler) ScheduleResume(context.Context, string, string, time.Time) error { return nil }
func (noopScheduler) Deregister(context.Context, string, string) error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (s *recordingSink) Submit(_ context.Context, event models.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return nil
}

type fixture struct {
	store      *memory.Persistence
	workflows  *Workflow
	executions *Execution
	events     *Events
	sink       *recordingSink
}

func newFixture() *fixture {
	store := memory.NewPersistence()
	canceller := engine.New(slog.Default(), store, nil, nil, noopScheduler{})
	sink := &recordingSink{}

	return &fixture{
		store:      store,
		workflows:  NewWorkflow(slog.Default(), store, canceller),
		executions: NewExecution(slog.Default(), store, canceller),
		events:     NewEvents(slog.Default(), sink, store),
		sink:       sink,
	}
}

func (f *fixture) execution(t *testing.T, wf *models.Workflow, status models.ExecutionStatus) *models.WorkflowExecution {
	t.Helper()

	event := models.DomainEvent{Kind: models.EventContactCreated, CompanyID: wf.CompanyID, SubjectID: "contact-1"}
	execution := models.NewExecution(uuid.NewString(), wf, event, time.Now().UTC())
	execution.Status = status
	require.NoError(t, f.store.CreateExecution(context.Background(), execution))

	return execution
}

func welcomeDefinition() WorkflowDefinition {
	wf := testutil.WelcomeWorkflow(company, "unused")

	return WorkflowDefinition{Name: "Welcome series", Nodes: wf.Nodes, Connections: wf.Connections}
}

func TestWorkflow_CreateIsInactiveDraft(t *testing.T) {
	f := newFixture()

	wf, err := f.workflows.Create(context.Background(), company, WorkflowDefinition{Name: "Empty draft"})
	require.NoError(t, err)

	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, company, wf.CompanyID)
	assert.False(t, wf.IsActive)

	stored, err := f.workflows.FetchByID(context.Background(), company, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "Empty draft", stored.Name)
}

func TestWorkflow_CreateRejectsInvalidDraft(t *testing.T) {
	f := newFixture()

	_, err := f.workflows.Create(context.Background(), company, WorkflowDefinition{Name: "x"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = f.workflows.Create(context.Background(), "", WorkflowDefinition{Name: "Valid name"})
	assert.ErrorIs(t, err, ErrCompanyIDRequired)
}

func TestWorkflow_ActivateValidatesGraph(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	draft, err := f.workflows.Create(ctx, company, WorkflowDefinition{Name: "Empty draft"})
	require.NoError(t, err)

	_, err = f.workflows.Activate(ctx, company, draft.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	codes := make([]string, 0)
	for _, issue := range ValidationIssues(err) {
		codes = append(codes, issue.Code)
	}

	assert.Contains(t, codes, workflow.IssueNoTrigger)

	stored, err := f.workflows.FetchByID(ctx, company, draft.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	valid, err := f.workflows.Create(ctx, company, welcomeDefinition())
	require.NoError(t, err)

	activated, err := f.workflows.Activate(ctx, company, valid.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	deactivated, err := f.workflows.Deactivate(ctx, company, valid.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)
}

func TestWorkflow_UpdateKeepsActiveWorkflowValid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	wf, err := f.workflows.Create(ctx, company, welcomeDefinition())
	require.NoError(t, err)

	_, err = f.workflows.Activate(ctx, company, wf.ID)
	require.NoError(t, err)

	_, err = f.workflows.Update(ctx, company, wf.ID, WorkflowDefinition{Name: "Broken"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := f.workflows.FetchByID(ctx, company, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome series", stored.Name)
	assert.Len(t, stored.Nodes, 4)

	updated, err := f.workflows.Update(ctx, company, wf.ID, WorkflowDefinition{
		Name:        "Welcome series v2",
		Nodes:       stored.Nodes,
		Connections: stored.Connections,
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome series v2", updated.Name)
	assert.True(t, updated.IsActive)
}

func TestWorkflow_TenantIsolation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	wf, err := f.workflows.Create(ctx, company, welcomeDefinition())
	require.NoError(t, err)

	_, err = f.workflows.FetchByID(ctx, otherCompany, wf.ID)
	assert.True(t, IsNotFoundError(err))

	list, err := f.workflows.List(ctx, otherCompany)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWorkflow_DeleteCancelsExecutions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	wf := testutil.WelcomeWorkflow(company, "wf-1")
	require.NoError(t, f.store.SaveWorkflow(ctx, wf))

	waiting := f.execution(t, wf, models.ExecutionWaitingDelay)
	done := f.execution(t, wf, models.ExecutionCompleted)

	cancelled, err := f.workflows.Delete(ctx, company, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	stored, err := f.store.ExecutionByID(ctx, company, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, stored.Status)

	stored, err = f.store.ExecutionByID(ctx, company, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, stored.Status)

	_, err = f.workflows.FetchByID(ctx, company, wf.ID)
	assert.True(t, IsNotFoundError(err))
}

func TestExecution_List(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	wf := testutil.WelcomeWorkflow(company, "wf-1")
	require.NoError(t, f.store.SaveWorkflow(ctx, wf))

	f.execution(t, wf, models.ExecutionWaitingDelay)
	f.execution(t, wf, models.ExecutionCompleted)

	all, err := f.executions.List(ctx, ListExecutionsRequest{CompanyID: company, WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	waiting, err := f.executions.List(ctx, ListExecutionsRequest{CompanyID: company, WorkflowID: wf.ID, Status: "waiting_delay"})
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, models.ExecutionWaitingDelay, waiting[0].Status)

	_, err = f.executions.List(ctx, ListExecutionsRequest{CompanyID: company, WorkflowID: wf.ID, Status: "sleeping"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.True(t, IsValidationError(err))

	_, err = f.executions.List(ctx, ListExecutionsRequest{CompanyID: company, WorkflowID: "missing"})
	assert.True(t, IsNotFoundError(err))
}

func TestExecution_Cancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	wf := testutil.WelcomeWorkflow(company, "wf-1")
	require.NoError(t, f.store.SaveWorkflow(ctx, wf))

	pending := f.execution(t, wf, models.ExecutionPending)
	done := f.execution(t, wf, models.ExecutionCompleted)

	cancelled, err := f.executions.Cancel(ctx, company, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, cancelled.Status)
	assert.Equal(t, cancelledByUser, cancelled.LastError)

	_, err = f.executions.Cancel(ctx, company, pending.ID)
	require.NoError(t, err)

	_, err = f.executions.Cancel(ctx, company, done.ID)
	assert.True(t, IsConflictError(err))

	_, err = f.executions.Cancel(ctx, otherCompany, pending.ID)
	assert.True(t, IsNotFoundError(err))
}

func TestExecution_Stats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	wf := testutil.WelcomeWorkflow(company, "wf-1")
	require.NoError(t, f.store.SaveWorkflow(ctx, wf))

	f.execution(t, wf, models.ExecutionRunning)
	f.execution(t, wf, models.ExecutionWaitingDelay)
	f.execution(t, wf, models.ExecutionPending)

	view, err := f.executions.Stats(ctx, company, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), view.TotalRuns)
	assert.Equal(t, int64(2), view.ActiveExecutions)
}

func TestEvents_Ingest(t *testing.T) {
	f := newFixture()

	id, err := f.events.Ingest(context.Background(), models.DomainEvent{
		Kind:      models.EventContactCreated,
		CompanyID: company,
		SubjectID: "contact-1",
		Payload:   map[string]string{"first_name": "Ana"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, id, f.sink.events[0].ID)
	assert.False(t, f.sink.events[0].OccurredAt.IsZero())

	_, err = f.events.Ingest(context.Background(), models.DomainEvent{Kind: "contact.deleted", CompanyID: company, SubjectID: "contact-1"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = f.events.Ingest(context.Background(), models.DomainEvent{Kind: models.EventContactCreated, SubjectID: "contact-1"})
	assert.True(t, IsValidationError(err))
	assert.Len(t, f.sink.events, 1)
}

func TestEvents_Run(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	manual := testutil.NewWorkflow(company, "manual",
		[]*models.WorkflowNode{
			testutil.Trigger("trigger", models.EventManual),
			testutil.Action("tag", models.ActionAddTag, map[string]any{"tagName": "Imported"}),
		},
		testutil.Connect("trigger", "tag"),
	)
	require.NoError(t, f.store.SaveWorkflow(ctx, manual))

	welcome := testutil.WelcomeWorkflow(company, "welcome")
	require.NoError(t, f.store.SaveWorkflow(ctx, welcome))

	_, err := f.events.Run(ctx, company, welcome.ID, "contact-1", nil)
	assert.ErrorIs(t, err, ErrNotManualTrigger)

	id, err := f.events.Run(ctx, company, manual.ID, "contact-1", map[string]string{"first_name": "Ana"})
	require.NoError(t, err)
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, id, f.sink.events[0].ID)
	assert.Equal(t, manual.ID, f.sink.events[0].WorkflowID)
	assert.Equal(t, models.EventManual, f.sink.events[0].Kind)

	manual.IsActive = false
	require.NoError(t, f.store.SaveWorkflow(ctx, manual))

	_, err = f.events.Run(ctx, company, manual.ID, "contact-1", nil)
	assert.ErrorIs(t, err, ErrWorkflowInactive)
	assert.True(t, IsConflictError(err))

	_, err = f.events.Run(ctx, company, "missing", "contact-1", nil)
	assert.True(t, IsNotFoundError(err))
}

func TestWorkflow_Import(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	welcome := testutil.WelcomeWorkflow("ignored", "welcome")
	welcome.IsActive = false

	draft := &models.Workflow{Name: "Imported draft"}

	imported, err := f.workflows.Import(ctx, company, []*models.Workflow{welcome, draft}, false)
	require.NoError(t, err)
	require.Len(t, imported, 2)

	assert.Equal(t, "welcome", imported[0].ID)
	assert.Equal(t, company, imported[0].CompanyID)
	assert.False(t, imported[0].IsActive)
	assert.NotEmpty(t, imported[1].ID)

	again := testutil.WelcomeWorkflow("ignored", "welcome")
	again.IsActive = false

	imported, err = f.workflows.Import(ctx, company, []*models.Workflow{again}, true)
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.True(t, imported[0].IsActive)

	list, err := f.workflows.List(ctx, company)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.workflows.Import(ctx, company, []*models.Workflow{{Name: "Invalid for activation"}}, true)
	assert.True(t, IsValidationError(err))
}
