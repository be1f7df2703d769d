package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/drip/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "company-1", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("Update", "company-1", "exec-9", persistence.ErrExecutionConflict)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionConflict(executionErr))
		assert.False(t, persistence.IsExecutionNotFound(executionErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionConflict))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("IncrementStats", "company-1", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "IncrementStats")
		assert.Contains(t, err.Error(), "company-1/workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("duplicate trigger survives wrapping", func(t *testing.T) {
		err := persistence.NewExecutionError("Create", "company-1", "exec-1", persistence.ErrDuplicateTrigger)

		assert.True(t, persistence.IsDuplicateTrigger(err))
		assert.True(t, persistence.IsDuplicateTrigger(errors.Join(errors.New("dispatch"), err)))
	})
}
