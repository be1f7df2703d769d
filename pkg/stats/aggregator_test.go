package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
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

const company = "company-1"

func TestAggregator_ReadsStoreCountsUnderConcurrentRuns(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()
	workflow := testutil.WelcomeWorkflow(company, "welcome")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	agg := NewAggregator(slog.Default(), store)
	now := time.Now().UTC()

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			execution := models.NewExecution(fmt.Sprintf("exec-%d", i), workflow, models.DomainEvent{SubjectID: "c"}, now)
			if !assert.NoError(t, store.CreateExecution(ctx, execution)) {
				return
			}

			assert.NoError(t, execution.Fire(models.TriggerStart, now))

			if i%5 == 0 {
				assert.NoError(t, execution.Fail(errors.New("boom"), now))
			} else {
				assert.NoError(t, execution.Fire(models.TriggerComplete, now))
			}

			assert.NoError(t, store.UpdateExecution(ctx, execution))

			// reads never block the writers
			_, err := agg.GetStats(ctx, company, "welcome")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	view, err := agg.GetStats(ctx, company, "welcome")
	require.NoError(t, err)
	assert.Equal(t, &models.StatsView{
		WorkflowID:     "welcome",
		TotalRuns:      50,
		SuccessfulRuns: 40,
		FailedRuns:     10,
	}, view)
}

func TestAggregator_ConcurrentIncrements(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()
	require.NoError(t, store.SaveWorkflow(ctx, testutil.WelcomeWorkflow(company, "welcome")))

	agg := NewAggregator(slog.Default(), store)

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, agg.IncrementRun(ctx, company, "welcome"))

			if i%5 == 0 {
				assert.NoError(t, agg.IncrementFailure(ctx, company, "welcome"))
			} else {
				assert.NoError(t, agg.IncrementSuccess(ctx, company, "welcome"))
			}
		}()
	}

	wg.Wait()

	view, err := agg.GetStats(ctx, company, "welcome")
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.TotalRuns)
	assert.Equal(t, int64(40), view.SuccessfulRuns)
	assert.Equal(t, int64(10), view.FailedRuns)
}

func TestAggregator_ActiveExecutions(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()
	workflow := testutil.WelcomeWorkflow(company, "welcome")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	now := time.Now().UTC()

	for i, status := range []models.ExecutionStatus{
		models.ExecutionPending,
		models.ExecutionRunning,
		models.ExecutionWaitingDelay,
		models.ExecutionCompleted,
	} {
		execution := models.NewExecution(string(rune('a'+i)), workflow, models.DomainEvent{SubjectID: "c"}, now)
		require.NoError(t, store.CreateExecution(ctx, execution))

		if status == models.ExecutionPending {
			continue
		}

		require.NoError(t, execution.Fire(models.TriggerStart, now))

		switch status {
		case models.ExecutionWaitingDelay:
			require.NoError(t, execution.Suspend(now.Add(time.Hour), now))
		case models.ExecutionCompleted:
			require.NoError(t, execution.Fire(models.TriggerComplete, now))
		}

		require.NoError(t, store.UpdateExecution(ctx, execution))
	}

	view, err := NewAggregator(slog.Default(), store).GetStats(ctx, company, "welcome")
	require.NoError(t, err)
	assert.Equal(t, int64(4), view.TotalRuns)
	assert.Equal(t, int64(1), view.SuccessfulRuns)
	assert.Equal(t, int64(0), view.FailedRuns)
	assert.Equal(t, int64(2), view.ActiveExecutions)
}

func TestAggregator_Errors(t *testing.T) {
	ctx := context.Background()

	agg := NewAggregator(slog.Default(), memory.NewPersistence())

	_, err := agg.GetStats(ctx, company, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = agg.IncrementRun(ctx, company, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	store := &mocks.MockPersistence{}
	store.On("WorkflowByID", mock.Anything, company, "welcome").Return(testutil.WelcomeWorkflow(company, "welcome"), nil)
	store.On("CountActiveExecutions", mock.Anything, company, "welcome").Return(int64(0), errors.New("db down"))

	_, err = NewAggregator(slog.Default(), store).GetStats(ctx, company, "welcome")
	assert.ErrorContains(t, err, "db down")
}
