package retention

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/mocks"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/memory"
	"github.com/dukex/drip/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func finished(t *testing.T, store *memory.Persistence, workflow *models.Workflow, id string, at time.Time) {
	t.Helper()

	ctx := context.Background()

	execution := models.NewExecution(id, workflow, models.DomainEvent{SubjectID: "c"}, at)
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, execution.Fire(models.TriggerStart, at))
	require.NoError(t, execution.Fire(models.TriggerComplete, at))
	require.NoError(t, store.UpdateExecution(ctx, execution))
	require.NoError(t, store.SaveActionMarker(ctx, &models.ActionMarker{ExecutionID: id, NodeID: "tag", Kind: models.ActionAddTag, Attempts: 1, CompletedAt: at}))
}

func TestPurger_Purge(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

	workflow := testutil.WelcomeWorkflow("company-1", "welcome")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	finished(t, store, workflow, "old", now.AddDate(0, 0, -45))
	finished(t, store, workflow, "recent", now.AddDate(0, 0, -3))

	running := models.NewExecution("running", workflow, models.DomainEvent{SubjectID: "c"}, now.AddDate(0, 0, -90))
	require.NoError(t, store.CreateExecution(ctx, running))

	purger, err := NewPurger(slog.Default(), store, DefaultSchedule, DefaultDays)
	require.NoError(t, err)
	purger.now = func() time.Time { return now }

	deleted, err := purger.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.ExecutionByID(ctx, "company-1", "old")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = store.ActionMarker(ctx, "old", "tag")
	assert.ErrorIs(t, err, persistence.ErrMarkerNotFound)

	_, err = store.ExecutionByID(ctx, "company-1", "recent")
	require.NoError(t, err)

	_, err = store.ExecutionByID(ctx, "company-1", "running")
	require.NoError(t, err)

	// stats are history, not rows
	stored, err := store.WorkflowByID(ctx, "company-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Stats.TotalRuns)
	assert.Equal(t, int64(2), stored.Stats.SuccessfulRuns)
}

func TestNewPurger_Validation(t *testing.T) {
	store := memory.NewPersistence()

	_, err := NewPurger(slog.Default(), store, "every night", 30)
	assert.ErrorContains(t, err, "invalid retention schedule")

	_, err = NewPurger(slog.Default(), store, "@daily", 0)
	assert.Error(t, err)

	_, err = NewPurger(slog.Default(), store, "@every 1h", 7)
	assert.NoError(t, err)
}

func TestPurger_Run(t *testing.T) {
	store := &mocks.MockPersistence{}
	calls := make(chan time.Time, 4)

	store.On("DeleteFinishedExecutions", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { calls <- args.Get(1).(time.Time) }).
		Return(int64(0), nil).Once()
	store.On("DeleteFinishedExecutions", mock.Anything, mock.Anything).
		Return(int64(0), errors.New("db down"))

	purger, err := NewPurger(slog.Default(), store, "@every 1s", 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- purger.Run(ctx) }()

	select {
	case cutoff := <-calls:
		assert.WithinDuration(t, time.Now().Add(-48*time.Hour), cutoff, time.Minute)
	case <-time.After(5 * time.Second):
		t.Fatal("purge never ran")
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("purger did not stop")
	}
}
