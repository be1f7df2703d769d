package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/events"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence/memory"
	"github.com/dukex/drip/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const company = "company-1"

type startRecorder struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (r *startRecorder) start(_ context.Context, _, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started = append(r.started, executionID)

	return r.err
}

func sequentialIDs() func() (string, error) {
	n := 0

	return func() (string, error) {
		n++

		return fmt.Sprintf("exec-%d", n), nil
	}
}

func setup(t *testing.T, workflows ...*models.Workflow) (*memory.Persistence, *startRecorder, *Dispatcher) {
	t.Helper()

	store := memory.NewPersistence()
	for _, workflow := range workflows {
		require.NoError(t, store.SaveWorkflow(context.Background(), workflow))
	}

	rec := &startRecorder{}
	d := New(slog.Default(), store, rec.start,
		WithIDGenerator(sequentialIDs()),
		WithClock(func() time.Time { return time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC) }))

	return store, rec, d
}

func TestDispatch_MatchingWorkflows(t *testing.T) {
	inactive := testutil.WelcomeWorkflow(company, "inactive")
	inactive.IsActive = false

	store, rec, d := setup(t,
		testutil.WelcomeWorkflow(company, "welcome-a"),
		testutil.WelcomeWorkflow(company, "welcome-b"),
		testutil.VIPWorkflow(company, "vip"),
		inactive,
		testutil.WelcomeWorkflow("company-2", "other-tenant"),
	)

	created, err := d.Dispatch(context.Background(), models.DomainEvent{
		ID:        "evt-1",
		Kind:      models.EventContactCreated,
		CompanyID: company,
		SubjectID: "contact-ana",
		Payload:   map[string]string{"first_name": "Ana"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	workflowIDs := []string{created[0].WorkflowID, created[1].WorkflowID}
	assert.ElementsMatch(t, []string{"welcome-a", "welcome-b"}, workflowIDs)
	assert.ElementsMatch(t, []string{"exec-1", "exec-2"}, rec.started)

	stored, err := store.ExecutionByID(context.Background(), company, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, stored.Status)
	assert.Equal(t, "contact-ana", stored.ContactID)
	assert.Equal(t, "evt-1", stored.TriggerEventID)
	assert.Equal(t, "Ana", stored.Context["first_name"])
	assert.Equal(t, "contact-ana", stored.Context[models.ContextSubjectID])
	assert.Equal(t, string(models.EventContactCreated), stored.Context[models.ContextTriggerEvent])

	workflow, err := store.WorkflowByID(context.Background(), company, "welcome-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), workflow.Stats.TotalRuns)
}

func TestDispatch_NoMatchIsNotAnError(t *testing.T) {
	_, rec, d := setup(t, testutil.WelcomeWorkflow(company, "welcome"))

	created, err := d.Dispatch(context.Background(), models.DomainEvent{
		Kind:      models.EventDealWon,
		CompanyID: company,
		SubjectID: "contact-1",
	})
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, rec.started)
}

func TestDispatch_DuplicateDeliveryIsSkipped(t *testing.T) {
	store, rec, d := setup(t, testutil.WelcomeWorkflow(company, "welcome"))
	ctx := context.Background()

	event := models.DomainEvent{ID: "evt-1", Kind: models.EventContactCreated, CompanyID: company, SubjectID: "contact-1"}

	created, err := d.Dispatch(ctx, event)
	require.NoError(t, err)
	require.Len(t, created, 1)

	created, err = d.Dispatch(ctx, event)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, rec.started, 1)

	workflow, err := store.WorkflowByID(ctx, company, "welcome")
	require.NoError(t, err)
	assert.Equal(t, int64(1), workflow.Stats.TotalRuns)

	// without an event id every delivery counts
	event.ID = ""
	created, err = d.Dispatch(ctx, event)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestDispatch_ManualEventTargetsOneWorkflow(t *testing.T) {
	manual := func(id string) *models.Workflow {
		return testutil.NewWorkflow(company, id,
			[]*models.WorkflowNode{
				testutil.Trigger("trigger", models.EventManual),
				testutil.Action("tag", models.ActionAddTag, map[string]any{"tagName": "Manual"}),
			},
			testutil.Connect("trigger", "tag"),
		)
	}

	_, _, d := setup(t, manual("manual-a"), manual("manual-b"))

	created, err := d.Dispatch(context.Background(), models.DomainEvent{
		Kind:       models.EventManual,
		CompanyID:  company,
		SubjectID:  "contact-1",
		WorkflowID: "manual-b",
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "manual-b", created[0].WorkflowID)
}

func TestDispatch_InvalidEvents(t *testing.T) {
	_, rec, d := setup(t, testutil.WelcomeWorkflow(company, "welcome"))

	tests := []struct {
		name  string
		event models.DomainEvent
	}{
		{name: "missing company", event: models.DomainEvent{Kind: models.EventContactCreated, SubjectID: "c"}},
		{name: "missing subject", event: models.DomainEvent{Kind: models.EventContactCreated, CompanyID: company}},
		{name: "missing kind", event: models.DomainEvent{CompanyID: company, SubjectID: "c"}},
		{name: "unknown kind", event: models.DomainEvent{Kind: "invoice.paid", CompanyID: company, SubjectID: "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), tt.event)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	assert.Empty(t, rec.started)
}

func TestDispatch_StartFailureKeepsExecution(t *testing.T) {
	store, rec, d := setup(t, testutil.WelcomeWorkflow(company, "welcome"))
	rec.err = errors.New("bus down")

	created, err := d.Dispatch(context.Background(), models.DomainEvent{Kind: models.EventContactCreated, CompanyID: company, SubjectID: "c"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	stored, err := store.ExecutionByID(context.Background(), company, created[0].ID)
	require.NoError(t, err)
	// left for the scheduler's stalled execution scan
	assert.Equal(t, models.ExecutionPending, stored.Status)
}

func TestHandleTriggerReceived(t *testing.T) {
	_, rec, d := setup(t, testutil.WelcomeWorkflow(company, "welcome"))
	ctx := context.Background()

	err := d.HandleTriggerReceived(ctx, &events.TriggerReceived{
		Event: models.DomainEvent{ID: "evt-9", Kind: models.EventContactCreated, CompanyID: company, SubjectID: "c"},
	})
	require.NoError(t, err)
	assert.Len(t, rec.started, 1)

	// invalid events are dropped, not redelivered
	require.NoError(t, d.HandleTriggerReceived(ctx, &events.TriggerReceived{Event: models.DomainEvent{Kind: "nope"}}))

	assert.Error(t, d.HandleTriggerReceived(ctx, &events.ExecutionQueued{}))
}

func TestMatch(t *testing.T) {
	broken := testutil.NewWorkflow(company, "no-trigger", []*models.WorkflowNode{
		testutil.Action("tag", models.ActionAddTag, map[string]any{"tagName": "x"}),
	})

	matched := Match([]*models.Workflow{
		testutil.VIPWorkflow(company, "vip"),
		broken,
	}, models.DomainEvent{Kind: models.EventContactTagAdded, CompanyID: company, SubjectID: "c"})

	require.Len(t, matched, 1)
	assert.Equal(t, "vip", matched[0].ID)
}
