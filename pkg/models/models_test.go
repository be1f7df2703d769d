package models

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecution() *WorkflowExecution {
	workflow := &Workflow{ID: "wf-1", CompanyID: "company-1"}
	event := DomainEvent{
		ID:        "evt-1",
		Kind:      EventContactCreated,
		CompanyID: "company-1",
		SubjectID: "contact-1",
		Payload:   map[string]string{"first_name": "Ana"},
	}

	return NewExecution("exec-1", workflow, event, time.Now())
}

func TestNewExecution_SeedsContextFromEvent(t *testing.T) {
	exec := newTestExecution()

	assert.Equal(t, ExecutionPending, exec.Status)
	assert.Equal(t, "contact-1", exec.ContactID)
	assert.Equal(t, "evt-1", exec.TriggerEventID)
	assert.Equal(t, "Ana", exec.Context["first_name"])
	assert.Equal(t, "contact-1", exec.Context[ContextSubjectID])
	assert.Equal(t, "company-1", exec.Context[ContextCompanyID])
	assert.Equal(t, string(EventContactCreated), exec.Context[ContextTriggerEvent])
	assert.Equal(t, "evt-1", exec.Context[ContextTriggerEventID])
}

func TestExecution_LifecycleTransitions(t *testing.T) {
	exec := newTestExecution()
	now := time.Now()

	require.NoError(t, exec.Fire(TriggerStart, now))
	assert.Equal(t, ExecutionRunning, exec.Status)
	require.NotNil(t, exec.StartedAt)

	resumeAt := now.Add(5 * time.Minute)
	require.NoError(t, exec.Suspend(resumeAt, now))
	assert.Equal(t, ExecutionWaitingDelay, exec.Status)
	require.NotNil(t, exec.ResumeAt)
	assert.True(t, exec.ResumeAt.Equal(resumeAt))

	require.NoError(t, exec.Fire(TriggerResume, resumeAt))
	assert.Equal(t, ExecutionRunning, exec.Status)
	assert.Nil(t, exec.ResumeAt)

	require.NoError(t, exec.Fire(TriggerComplete, resumeAt))
	assert.Equal(t, ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
}

func TestExecution_TerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []ExecutionTrigger{TriggerComplete, TriggerFail, TriggerCancel} {
		t.Run(string(terminal), func(t *testing.T) {
			exec := newTestExecution()
			now := time.Now()

			require.NoError(t, exec.Fire(TriggerStart, now))
			require.NoError(t, exec.Fire(terminal, now))
			assert.True(t, exec.Status.Terminal())

			for _, trigger := range []ExecutionTrigger{TriggerStart, TriggerSuspend, TriggerResume, TriggerComplete, TriggerFail, TriggerCancel} {
				assert.False(t, exec.CanFire(trigger), "trigger %s", trigger)

				err := exec.Fire(trigger, now)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
			}
		})
	}
}

func TestExecution_PendingCannotSuspend(t *testing.T) {
	exec := newTestExecution()

	err := exec.Suspend(time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ExecutionPending, exec.Status)
}

func TestExecution_FailRecordsReason(t *testing.T) {
	exec := newTestExecution()
	now := time.Now()

	require.NoError(t, exec.Fire(TriggerStart, now))
	require.NoError(t, exec.Fail(errors.New("smtp down"), now))

	assert.Equal(t, ExecutionFailed, exec.Status)
	assert.Equal(t, "smtp down", exec.LastError)
}

func TestExecution_CloneIsDeep(t *testing.T) {
	exec := newTestExecution()
	clone := exec.Clone()

	clone.Context["first_name"] = "Bea"
	clone.Status = ExecutionRunning

	assert.Equal(t, "Ana", exec.Context["first_name"])
	assert.Equal(t, ExecutionPending, exec.Status)
}

func TestDelayDuration_CombinesComponents(t *testing.T) {
	node := &WorkflowNode{
		ID:     "delay",
		Type:   NodeTypeDelay,
		Config: map[string]any{"days": 1, "hours": 2, "minutes": 5},
	}

	duration, err := node.DelayDuration()
	require.NoError(t, err)
	assert.Equal(t, 26*time.Hour+5*time.Minute, duration)
}

func TestDelayDuration_RejectsNegative(t *testing.T) {
	node := &WorkflowNode{ID: "delay", Type: NodeTypeDelay, Config: map[string]any{"minutes": -1}}

	_, err := node.DelayDuration()
	assert.Error(t, err)
}

func TestDelayDuration_RejectsOverlongDelays(t *testing.T) {
	for _, config := range []map[string]any{
		{"days": 200000},
		{"hours": MaxDelayDays*24 + 1},
		{"minutes": 9_000_000_000_000},
		{"days": MaxDelayDays, "hours": 1},
	} {
		node := &WorkflowNode{ID: "delay", Type: NodeTypeDelay, Config: config}

		duration, err := node.DelayDuration()
		assert.Error(t, err, "config %v", config)
		assert.Zero(t, duration)
	}

	node := &WorkflowNode{ID: "delay", Type: NodeTypeDelay, Config: map[string]any{"days": MaxDelayDays}}

	duration, err := node.DelayDuration()
	require.NoError(t, err)
	assert.Equal(t, MaxDelay, duration)
}

func TestTriggerEvent_OnlyForTriggerNodes(t *testing.T) {
	trigger := &WorkflowNode{ID: "t", Type: NodeTypeTrigger, Config: map[string]any{"event": "deal.won"}}
	action := &WorkflowNode{ID: "a", Type: NodeTypeAction, Config: map[string]any{"event": "deal.won"}}

	assert.Equal(t, EventDealWon, trigger.TriggerEvent())
	assert.Equal(t, TriggerEvent(""), action.TriggerEvent())
	assert.True(t, EventDealWon.Valid())
	assert.False(t, TriggerEvent("deal.lost").Valid())
}

func TestWorkflow_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	workflow := &Workflow{
		CompanyID: "company-1",
		Name:      "Welcome",
		Nodes: []*WorkflowNode{
			{ID: "t", Type: NodeTypeTrigger},
			{ID: "x", Type: "loop"},
		},
		Connections: []*Connection{{From: "t", To: "x", Branch: "maybe"}},
	}

	err := validate.Struct(workflow)
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))

	fields := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, fieldErr.Field())
	}

	assert.Contains(t, fields, "Type")
	assert.Contains(t, fields, "Branch")
}

func TestWorkflow_GraphHelpers(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			{ID: "a", Type: NodeTypeAction},
			{ID: "t", Type: NodeTypeTrigger},
		},
		Connections: []*Connection{{ID: "c1", From: "t", To: "a"}},
	}

	assert.Equal(t, "t", workflow.TriggerNode().ID)
	assert.Equal(t, "a", workflow.NodeByID("a").ID)
	assert.Nil(t, workflow.NodeByID("missing"))
	assert.Len(t, workflow.OutgoingConnections("t"), 1)
	assert.Empty(t, workflow.OutgoingConnections("a"))
}

func TestStats_Apply(t *testing.T) {
	stats := WorkflowStats{TotalRuns: 1}
	stats.Apply(StatsDelta{TotalRuns: 1, SuccessfulRuns: 1})
	stats.Apply(StatsDelta{FailedRuns: 1})

	assert.Equal(t, WorkflowStats{TotalRuns: 2, SuccessfulRuns: 1, FailedRuns: 1}, stats)
}

func TestSubjectTags(t *testing.T) {
	ctx := map[string]string{ContextTags: "Lead, VIP,,Lead", ContextTag: "Customer"}

	assert.Equal(t, []string{"Lead", "VIP", "Customer"}, SubjectTags(ctx))
	assert.True(t, HasContextTag(ctx, "vip"))
	assert.True(t, HasContextTag(ctx, "customer"))
	assert.False(t, HasContextTag(ctx, "Churned"))
	assert.Empty(t, SubjectTags(map[string]string{}))

	assert.Equal(t, "Lead,VIP,Customer,New", WithContextTag(ctx, "New"))
	assert.Equal(t, "Lead,VIP,Customer", WithContextTag(ctx, "lead"))
	assert.Equal(t, "Lead,Customer", WithoutContextTag(ctx, "vip"))
}
