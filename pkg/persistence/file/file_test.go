package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/file"
	"github.com/dukex/drip/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		store, err := file.NewPersistence("file://" + t.TempDir())
		require.NoError(t, err)

		return store
	})
}

func TestFilePersistence_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store, err := file.NewPersistence(root)
	require.NoError(t, err)

	workflow := persistencetest.NewWorkflow("company-a")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := persistencetest.NewExecution(workflow, "evt-1")
	require.NoError(t, store.CreateExecution(ctx, execution))

	now := time.Now().UTC()
	require.NoError(t, execution.Fire(models.TriggerStart, now))
	require.NoError(t, execution.Suspend(now.Add(5*time.Minute), now))
	require.NoError(t, store.UpdateExecution(ctx, execution))
	require.NoError(t, store.SaveActionMarker(ctx, &models.ActionMarker{ExecutionID: execution.ID, NodeID: "tag", Kind: models.ActionAddTag}))
	require.NoError(t, store.Close(ctx))

	reopened, err := file.NewPersistence(root)
	require.NoError(t, err)

	loaded, err := reopened.ExecutionByID(ctx, "company-a", execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionWaitingDelay, loaded.Status)
	assert.Equal(t, execution.Version, loaded.Version)

	due, err := reopened.DueExecutions(ctx, now.Add(6*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, execution.ID, due[0].ID)

	reloaded, err := reopened.WorkflowByID(ctx, "company-a", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Stats.TotalRuns)

	_, err = reopened.ActionMarker(ctx, execution.ID, "tag")
	require.NoError(t, err)

	// dedupe index is rebuilt from disk too
	err = reopened.CreateExecution(ctx, persistencetest.NewExecution(workflow, "evt-1"))
	assert.True(t, persistence.IsDuplicateTrigger(err))
}

func TestFilePersistence_DeleteRemovesFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store, err := file.NewPersistence(root)
	require.NoError(t, err)

	workflow := persistencetest.NewWorkflow("company-a")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	path := filepath.Join(root, "workflows", "company-a__"+workflow.ID+".json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, store.DeleteWorkflow(ctx, "company-a", workflow.ID))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFilePersistence_HealthCheck(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")

	store, err := file.NewPersistence(root)
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(context.Background()))

	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, store.HealthCheck(context.Background()))
}
