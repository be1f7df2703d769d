// Package persistence provides the tenant-scoped storage abstraction for workflows, executions and action markers.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/drip/pkg/models"
)

type Persistence interface {
	WorkflowStore
	ExecutionStore
	ActionMarkerStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowStore persists workflow definitions keyed by (companyID, workflowID).
type WorkflowStore interface {
	Workflows(ctx context.Context, companyID string) ([]*models.Workflow, error)
	ActiveWorkflows(ctx context.Context, companyID string) ([]*models.Workflow, error)
	// WorkflowByID returns ErrWorkflowNotFound when the workflow does not exist.
	WorkflowByID(ctx context.Context, companyID, id string) (*models.Workflow, error)
	// SaveWorkflow upserts the definition. Stats are never overwritten by a save.
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, companyID, id string) error
	// IncrementWorkflowStats applies the delta as an atomic increment.
	IncrementWorkflowStats(ctx context.Context, companyID, id string, delta models.StatsDelta) error
}

// ExecutionFilter narrows an execution listing.
type ExecutionFilter struct {
	CompanyID  string
	WorkflowID string
	Statuses   []models.ExecutionStatus
	Limit      int
}

// ExecutionStore persists executions keyed by (companyID, executionID) and indexed by (status, resumeAt).
type ExecutionStore interface {
	// CreateExecution stores a new execution and increments the workflow's total runs in the same
	// transaction. It returns ErrDuplicateTrigger when an execution already exists for the
	// workflow and non-empty trigger event id.
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	ExecutionByID(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error)
	// UpdateExecution writes the execution if its Version still matches the stored one and bumps
	// Version. A transition into completed or failed increments the matching workflow counter in
	// the same transaction. It returns ErrExecutionConflict on a version mismatch.
	UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	Executions(ctx context.Context, filter ExecutionFilter) ([]*models.WorkflowExecution, error)
	// DueExecutions returns waiting_delay executions whose resumeAt is at or before the given time.
	DueExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error)
	// StalledExecutions returns pending and running executions whose last write is at or before
	// the given time, oldest first.
	StalledExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error)
	CountActiveExecutions(ctx context.Context, companyID, workflowID string) (int64, error)
	// DeleteFinishedExecutions removes terminal executions completed before the given time, with
	// their action markers.
	DeleteFinishedExecutions(ctx context.Context, before time.Time) (int64, error)
}

// ActionMarkerStore keeps the durable "already executed" markers keyed by (executionID, nodeID).
type ActionMarkerStore interface {
	// ActionMarker returns ErrMarkerNotFound when no marker exists.
	ActionMarker(ctx context.Context, executionID, nodeID string) (*models.ActionMarker, error)
	SaveActionMarker(ctx context.Context, marker *models.ActionMarker) error
}

// OutcomeDelta returns the stats increment for moving an execution from previous to next.
func OutcomeDelta(previous, next models.ExecutionStatus) models.StatsDelta {
	if previous.Terminal() || previous == next {
		return models.StatsDelta{}
	}

	switch next {
	case models.ExecutionCompleted:
		return models.StatsDelta{SuccessfulRuns: 1}
	case models.ExecutionFailed:
		return models.StatsDelta{FailedRuns: 1}
	default:
		return models.StatsDelta{}
	}
}
