// Package stats exposes workflow run counters for the dashboard.
package stats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/drip/pkg/models"
)

// Store is the persistence behind the aggregator. IncrementWorkflowStats must apply the delta
// atomically on the stored counters.
type Store interface {
	WorkflowByID(ctx context.Context, companyID, id string) (*models.Workflow, error)
	IncrementWorkflowStats(ctx context.Context, companyID, id string, delta models.StatsDelta) error
	CountActiveExecutions(ctx context.Context, companyID, workflowID string) (int64, error)
}

// Aggregator reads workflow stats and exposes the counter increments.
//
// Runs driven by the engine are counted by the store, not here: CreateExecution counts the run
// and UpdateExecution counts the outcome of a move into completed or failed, each in the same
// transaction as the execution write. Calling the Increment methods for those runs counts them
// twice. They exist for runs recorded outside the engine, such as backfills and imports of
// historical counters.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

func NewAggregator(logger *slog.Logger, store Store) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With("module", "stats"),
	}
}

// IncrementRun counts one attempt. Engine runs are already counted by the store.
func (a *Aggregator) IncrementRun(ctx context.Context, companyID, workflowID string) error {
	return a.increment(ctx, companyID, workflowID, models.StatsDelta{TotalRuns: 1})
}

// IncrementSuccess counts one completed run. Engine runs are already counted by the store.
func (a *Aggregator) IncrementSuccess(ctx context.Context, companyID, workflowID string) error {
	return a.increment(ctx, companyID, workflowID, models.StatsDelta{SuccessfulRuns: 1})
}

// IncrementFailure counts one failed run. Engine runs are already counted by the store.
func (a *Aggregator) IncrementFailure(ctx context.Context, companyID, workflowID string) error {
	return a.increment(ctx, companyID, workflowID, models.StatsDelta{FailedRuns: 1})
}

func (a *Aggregator) increment(ctx context.Context, companyID, workflowID string, delta models.StatsDelta) error {
	if err := a.store.IncrementWorkflowStats(ctx, companyID, workflowID, delta); err != nil {
		a.logger.ErrorContext(ctx, "failed to increment stats",
			"company_id", companyID,
			"workflow_id", workflowID,
			"error", err)

		return fmt.Errorf("failed to increment stats: %w", err)
	}

	return nil
}

// GetStats returns the persisted counters plus the live count of running and waiting executions.
// It only reads the store and never waits on execution locks.
func (a *Aggregator) GetStats(ctx context.Context, companyID, workflowID string) (*models.StatsView, error) {
	workflow, err := a.store.WorkflowByID(ctx, companyID, workflowID)
	if err != nil {
		return nil, err
	}

	active, err := a.store.CountActiveExecutions(ctx, companyID, workflowID)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to count active executions",
			"company_id", companyID,
			"workflow_id", workflowID,
			"error", err)

		return nil, fmt.Errorf("failed to count active executions: %w", err)
	}

	return &models.StatsView{
		WorkflowID:       workflow.ID,
		TotalRuns:        workflow.Stats.TotalRuns,
		SuccessfulRuns:   workflow.Stats.SuccessfulRuns,
		FailedRuns:       workflow.Stats.FailedRuns,
		ActiveExecutions: active,
	}, nil
}
