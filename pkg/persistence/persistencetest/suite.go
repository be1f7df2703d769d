// Package persistencetest holds the behaviour every persistence implementation must satisfy.
package persistencetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one sub-test.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the shared persistence suite against the implementation built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("workflow round trip and tenant isolation", func(t *testing.T) { testWorkflowRoundTrip(t, factory(t)) })
	t.Run("save never overwrites stats", func(t *testing.T) { testSavePreservesStats(t, factory(t)) })
	t.Run("active workflows", func(t *testing.T) { testActiveWorkflows(t, factory(t)) })
	t.Run("delete workflow", func(t *testing.T) { testDeleteWorkflow(t, factory(t)) })
	t.Run("create execution counts run", func(t *testing.T) { testCreateExecutionCountsRun(t, factory(t)) })
	t.Run("trigger dedupe", func(t *testing.T) { testTriggerDedupe(t, factory(t)) })
	t.Run("optimistic update", func(t *testing.T) { testOptimisticUpdate(t, factory(t)) })
	t.Run("terminal transition counted once", func(t *testing.T) { testTerminalCountedOnce(t, factory(t)) })
	t.Run("due executions", func(t *testing.T) { testDueExecutions(t, factory(t)) })
	t.Run("stalled executions", func(t *testing.T) { testStalledExecutions(t, factory(t)) })
	t.Run("list and count executions", func(t *testing.T) { testListAndCount(t, factory(t)) })
	t.Run("action markers", func(t *testing.T) { testActionMarkers(t, factory(t)) })
	t.Run("retention", func(t *testing.T) { testDeleteFinished(t, factory(t)) })
	t.Run("concurrent stat increments", func(t *testing.T) { testConcurrentIncrements(t, factory(t)) })
}

// NewWorkflow builds a minimal valid workflow definition for the company.
func NewWorkflow(companyID string) *models.Workflow {
	return &models.Workflow{
		CompanyID:   companyID,
		Name:        "Welcome series",
		Description: "greets new contacts",
		Nodes: []*models.WorkflowNode{
			{ID: "trigger", Type: models.NodeTypeTrigger, Config: map[string]any{"event": "contact.created"}},
			{ID: "tag", Type: models.NodeTypeAction, Kind: string(models.ActionAddTag), Config: map[string]any{"tagName": "New"}},
		},
		Connections: []*models.Connection{{ID: "c1", From: "trigger", To: "tag"}},
	}
}

// NewExecution builds a pending execution for the workflow.
func NewExecution(workflow *models.Workflow, triggerEventID string) *models.WorkflowExecution {
	event := models.DomainEvent{
		ID:        triggerEventID,
		Kind:      models.EventContactCreated,
		CompanyID: workflow.CompanyID,
		SubjectID: "contact-" + uuid.NewString()[:8],
		Payload:   map[string]string{"first_name": "Ana"},
	}

	return models.NewExecution(uuid.NewString(), workflow, event, time.Now().UTC())
}

func saveWorkflow(t *testing.T, store persistence.Persistence, companyID string) *models.Workflow {
	t.Helper()

	workflow := NewWorkflow(companyID)
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))
	require.NotEmpty(t, workflow.ID)

	return workflow
}

func testWorkflowRoundTrip(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")

	loaded, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, 2)
	assert.Len(t, loaded.Connections, 1)
	assert.Equal(t, "New", loaded.NodeByID("tag").Config["tagName"])
	assert.False(t, loaded.CreatedAt.IsZero())

	_, err = store.WorkflowByID(ctx, "company-b", workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	others, err := store.Workflows(ctx, "company-b")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func testSavePreservesStats(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")

	require.NoError(t, store.IncrementWorkflowStats(ctx, "company-a", workflow.ID, models.StatsDelta{TotalRuns: 2, SuccessfulRuns: 1}))

	workflow.Name = "Renamed workflow"
	workflow.Stats = models.WorkflowStats{}
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	loaded, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed workflow", loaded.Name)
	assert.Equal(t, int64(2), loaded.Stats.TotalRuns)
	assert.Equal(t, int64(1), loaded.Stats.SuccessfulRuns)
}

func testActiveWorkflows(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	active := saveWorkflow(t, store, "company-a")
	saveWorkflow(t, store, "company-a")

	active.IsActive = true
	require.NoError(t, store.SaveWorkflow(ctx, active))

	workflows, err := store.ActiveWorkflows(ctx, "company-a")
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, active.ID, workflows[0].ID)

	all, err := store.Workflows(ctx, "company-a")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testDeleteWorkflow(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")

	require.NoError(t, store.DeleteWorkflow(ctx, "company-a", workflow.ID))

	_, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = store.DeleteWorkflow(ctx, "company-a", workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func testCreateExecutionCountsRun(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")
	execution := NewExecution(workflow, "")

	require.NoError(t, store.CreateExecution(ctx, execution))
	assert.Equal(t, int64(1), execution.Version)

	loaded, err := store.ExecutionByID(ctx, "company-a", execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, loaded.Status)
	assert.Equal(t, "Ana", loaded.Context["first_name"])

	_, err = store.ExecutionByID(ctx, "company-b", execution.ID)
	assert.True(t, persistence.IsExecutionNotFound(err))

	reloaded, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Stats.TotalRuns)
}

func testTriggerDedupe(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")

	require.NoError(t, store.CreateExecution(ctx, NewExecution(workflow, "evt-1")))

	err := store.CreateExecution(ctx, NewExecution(workflow, "evt-1"))
	assert.True(t, persistence.IsDuplicateTrigger(err))

	require.NoError(t, store.CreateExecution(ctx, NewExecution(workflow, "evt-2")))
	require.NoError(t, store.CreateExecution(ctx, NewExecution(workflow, "")))
	require.NoError(t, store.CreateExecution(ctx, NewExecution(workflow, "")))

	reloaded, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), reloaded.Stats.TotalRuns)
}

func testOptimisticUpdate(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")
	execution := NewExecution(workflow, "")
	require.NoError(t, store.CreateExecution(ctx, execution))

	first, err := store.ExecutionByID(ctx, "company-a", execution.ID)
	require.NoError(t, err)
	second, err := store.ExecutionByID(ctx, "company-a", execution.ID)
	require.NoError(t, err)

	require.NoError(t, first.Fire(models.TriggerStart, time.Now().UTC()))
	require.NoError(t, store.UpdateExecution(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	require.NoError(t, second.Fire(models.TriggerCancel, time.Now().UTC()))
	err = store.UpdateExecution(ctx, second)
	assert.True(t, persistence.IsExecutionConflict(err))

	loaded, err := store.ExecutionByID(ctx, "company-a", execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, loaded.Status)
}

func testTerminalCountedOnce(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")

	succeed := NewExecution(workflow, "")
	fail := NewExecution(workflow, "")
	require.NoError(t, store.CreateExecution(ctx, succeed))
	require.NoError(t, store.CreateExecution(ctx, fail))

	now := time.Now().UTC()

	require.NoError(t, succeed.Fire(models.TriggerStart, now))
	require.NoError(t, store.UpdateExecution(ctx, succeed))
	require.NoError(t, succeed.Fire(models.TriggerComplete, now))
	require.NoError(t, store.UpdateExecution(ctx, succeed))
	// rewriting a terminal execution must not count again
	require.NoError(t, store.UpdateExecution(ctx, succeed))

	require.NoError(t, fail.Fire(models.TriggerStart, now))
	require.NoError(t, fail.Fail(errors.New("boom"), now))
	require.NoError(t, store.UpdateExecution(ctx, fail))

	reloaded, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStats{TotalRuns: 2, SuccessfulRuns: 1, FailedRuns: 1}, reloaded.Stats)

	loaded, err := store.ExecutionByID(ctx, "company-a", fail.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", loaded.LastError)
	assert.NotNil(t, loaded.CompletedAt)
}

func testDueExecutions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")
	now := time.Now().UTC().Truncate(time.Millisecond)

	due := NewExecution(workflow, "")
	later := NewExecution(workflow, "")
	running := NewExecution(workflow, "")

	for _, execution := range []*models.WorkflowExecution{due, later, running} {
		require.NoError(t, store.CreateExecution(ctx, execution))
		require.NoError(t, execution.Fire(models.TriggerStart, now))
	}

	require.NoError(t, due.Suspend(now.Add(-time.Second), now))
	require.NoError(t, later.Suspend(now.Add(time.Hour), now))

	for _, execution := range []*models.WorkflowExecution{due, later, running} {
		require.NoError(t, store.UpdateExecution(ctx, execution))
	}

	found, err := store.DueExecutions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)
	require.NotNil(t, found[0].ResumeAt)

	found, err = store.DueExecutions(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func testStalledExecutions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")
	now := time.Now().UTC()

	pending := NewExecution(workflow, "")
	running := NewExecution(workflow, "")
	waiting := NewExecution(workflow, "")

	for _, execution := range []*models.WorkflowExecution{pending, running, waiting} {
		require.NoError(t, store.CreateExecution(ctx, execution))
	}

	require.NoError(t, running.Fire(models.TriggerStart, now))
	require.NoError(t, store.UpdateExecution(ctx, running))

	require.NoError(t, waiting.Fire(models.TriggerStart, now))
	require.NoError(t, waiting.Suspend(now.Add(time.Hour), now))
	require.NoError(t, store.UpdateExecution(ctx, waiting))

	found, err := store.StalledExecutions(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, found, 2)

	ids := []string{found[0].ID, found[1].ID}
	assert.ElementsMatch(t, []string{pending.ID, running.ID}, ids)

	found, err = store.StalledExecutions(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.StalledExecutions(ctx, now.Add(time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func testListAndCount(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")
	now := time.Now().UTC()

	for range 3 {
		execution := NewExecution(workflow, "")
		require.NoError(t, store.CreateExecution(ctx, execution))
		require.NoError(t, execution.Fire(models.TriggerStart, now))
		require.NoError(t, store.UpdateExecution(ctx, execution))
	}

	pending := NewExecution(workflow, "")
	require.NoError(t, store.CreateExecution(ctx, pending))

	active, err := store.CountActiveExecutions(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), active)

	all, err := store.Executions(ctx, persistence.ExecutionFilter{CompanyID: "company-a", WorkflowID: workflow.ID})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	running, err := store.Executions(ctx, persistence.ExecutionFilter{
		CompanyID:  "company-a",
		WorkflowID: workflow.ID,
		Statuses:   []models.ExecutionStatus{models.ExecutionRunning},
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	byCompany, err := store.Executions(ctx, persistence.ExecutionFilter{CompanyID: "company-a", Statuses: []models.ExecutionStatus{models.ExecutionPending}})
	require.NoError(t, err)
	require.Len(t, byCompany, 1)
	assert.Equal(t, pending.ID, byCompany[0].ID)
}

func testActionMarkers(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	_, err := store.ActionMarker(ctx, "exec-1", "node-1")
	assert.ErrorIs(t, err, persistence.ErrMarkerNotFound)

	marker := &models.ActionMarker{
		ExecutionID: "exec-1",
		NodeID:      "node-1",
		Kind:        models.ActionSendEmail,
		Attempts:    3,
		Output:      map[string]string{"email_message_id": "msg-1"},
	}
	require.NoError(t, store.SaveActionMarker(ctx, marker))

	loaded, err := store.ActionMarker(ctx, "exec-1", "node-1")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Attempts)
	assert.Equal(t, "msg-1", loaded.Output["email_message_id"])
	assert.False(t, loaded.CompletedAt.IsZero())

	_, err = store.ActionMarker(ctx, "exec-1", "node-2")
	assert.ErrorIs(t, err, persistence.ErrMarkerNotFound)
}

func testDeleteFinished(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")
	old := time.Now().UTC().Add(-48 * time.Hour)

	expired := NewExecution(workflow, "")
	fresh := NewExecution(workflow, "")
	waiting := NewExecution(workflow, "")

	for _, execution := range []*models.WorkflowExecution{expired, fresh, waiting} {
		require.NoError(t, store.CreateExecution(ctx, execution))
		require.NoError(t, execution.Fire(models.TriggerStart, old))
	}

	require.NoError(t, expired.Fire(models.TriggerComplete, old))
	require.NoError(t, fresh.Fire(models.TriggerComplete, time.Now().UTC()))
	require.NoError(t, waiting.Suspend(old, old))

	for _, execution := range []*models.WorkflowExecution{expired, fresh, waiting} {
		require.NoError(t, store.UpdateExecution(ctx, execution))
	}

	require.NoError(t, store.SaveActionMarker(ctx, &models.ActionMarker{ExecutionID: expired.ID, NodeID: "tag", Kind: models.ActionAddTag}))

	deleted, err := store.DeleteFinishedExecutions(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.ExecutionByID(ctx, "company-a", expired.ID)
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = store.ActionMarker(ctx, expired.ID, "tag")
	assert.ErrorIs(t, err, persistence.ErrMarkerNotFound)

	_, err = store.ExecutionByID(ctx, "company-a", fresh.ID)
	require.NoError(t, err)
	_, err = store.ExecutionByID(ctx, "company-a", waiting.ID)
	require.NoError(t, err)
}

func testConcurrentIncrements(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	workflow := saveWorkflow(t, store, "company-a")

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, store.IncrementWorkflowStats(ctx, "company-a", workflow.ID, models.StatsDelta{TotalRuns: 1, FailedRuns: 1}))
		}()
	}

	wg.Wait()

	reloaded, err := store.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), reloaded.Stats.TotalRuns)
	assert.Equal(t, int64(50), reloaded.Stats.FailedRuns)
}
