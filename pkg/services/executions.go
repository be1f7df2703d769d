package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/stats"
)

const (
	DefaultExecutionLimit = 50
	MaxExecutionLimit     = 500

	cancelledByUser = "cancelled by user"
)

var executionStatuses = []models.ExecutionStatus{
	models.ExecutionPending,
	models.ExecutionRunning,
	models.ExecutionWaitingDelay,
	models.ExecutionCompleted,
	models.ExecutionFailed,
	models.ExecutionCancelled,
}

// ListExecutionsRequest filters an execution listing. An empty Status lists every status.
type ListExecutionsRequest struct {
	CompanyID  string
	WorkflowID string
	Status     string
	Limit      int
}

type Execution struct {
	persistence persistence.Persistence
	canceller   Canceller
	stats       *stats.Aggregator
	logger      *slog.Logger
}

func NewExecution(logger *slog.Logger, persistence persistence.Persistence, canceller Canceller) *Execution {
	return &Execution{
		persistence: persistence,
		canceller:   canceller,
		stats:       stats.NewAggregator(logger, persistence),
		logger:      logger.With("module", "execution_service"),
	}
}

// List returns the workflow's executions, newest first.
func (e *Execution) List(ctx context.Context, req ListExecutionsRequest) ([]*models.WorkflowExecution, error) {
	if err := requireCompany("List", req.CompanyID); err != nil {
		return nil, err
	}

	filter := persistence.ExecutionFilter{
		CompanyID:  req.CompanyID,
		WorkflowID: req.WorkflowID,
		Limit:      req.Limit,
	}

	if req.Status != "" {
		status := models.ExecutionStatus(req.Status)
		if !validStatus(status) {
			return nil, NewValidationError("List", "INVALID_STATUS", fmt.Sprintf("unknown status %q", req.Status), ErrInvalidStatus)
		}

		filter.Statuses = []models.ExecutionStatus{status}
	}

	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultExecutionLimit
	case filter.Limit > MaxExecutionLimit:
		filter.Limit = MaxExecutionLimit
	}

	if req.WorkflowID != "" {
		if _, err := e.persistence.WorkflowByID(ctx, req.CompanyID, req.WorkflowID); err != nil {
			return nil, err
		}
	}

	executions, err := e.persistence.Executions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

func (e *Execution) FetchByID(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error) {
	if err := requireCompany("FetchByID", companyID); err != nil {
		return nil, err
	}

	return e.persistence.ExecutionByID(ctx, companyID, id)
}

// Cancel stops an unfinished execution and returns its final state. Cancelling an already
// cancelled execution is a no-op; a completed or failed one is a conflict.
func (e *Execution) Cancel(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error) {
	if err := requireCompany("Cancel", companyID); err != nil {
		return nil, err
	}

	err := e.canceller.Cancel(ctx, companyID, id, cancelledByUser)
	switch {
	case err == nil:
	case IsNotFoundError(err):
		return nil, err
	case IsConflictError(err):
		return nil, newConflictError("Cancel", "EXECUTION_FINISHED", err)
	default:
		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	return e.persistence.ExecutionByID(ctx, companyID, id)
}

// Stats returns the workflow's run counters and its live active execution count.
func (e *Execution) Stats(ctx context.Context, companyID, workflowID string) (*models.StatsView, error) {
	if err := requireCompany("Stats", companyID); err != nil {
		return nil, err
	}

	return e.stats.GetStats(ctx, companyID, workflowID)
}

func validStatus(status models.ExecutionStatus) bool {
	for _, known := range executionStatuses {
		if status == known {
			return true
		}
	}

	return false
}
