package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

var executionColumns = []string{
	"id",
	"company_id",
	"workflow_id",
	"trigger_event_id",
	"contact_id",
	"current_node_id",
	"status",
	"context",
	"visits",
	"started_at",
	"resume_at",
	"completed_at",
	"last_error",
	"version",
	"created_at",
	"updated_at",
}

var terminalStatuses = []string{
	string(models.ExecutionCompleted),
	string(models.ExecutionFailed),
	string(models.ExecutionCancelled),
}

// ExecutionRepository handles workflow execution database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts the execution and counts the run in one transaction. A second execution for the
// same workflow and trigger event id is rejected with ErrDuplicateTrigger.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	execution.Version = 1

	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = incrementStats(ctx, tx, execution.CompanyID, execution.WorkflowID, models.StatsDelta{TotalRuns: 1})
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("workflow_executions").
		Columns(executionColumns...).
		Values(executionValues(execution, contextJSON)...).
		Suffix("ON CONFLICT (workflow_id, trigger_event_id) WHERE trigger_event_id <> '' DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		err = persistence.NewExecutionError("Create", execution.CompanyID, execution.ID, persistence.ErrDuplicateTrigger)

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}

	return nil
}

// GetByID returns ErrExecutionNotFound when the company has no such execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error) {
	query, args, err := psql.Select(executionColumns...).
		From("workflow_executions").
		Where(sq.Eq{"company_id": companyID, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", companyID, id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// Update writes the execution when its version still matches and applies the terminal outcome
// to the workflow counters in the same transaction.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		storedStatus  models.ExecutionStatus
		storedVersion int64
	)

	err = tx.QueryRowContext(ctx,
		`SELECT status, version FROM workflow_executions WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		execution.CompanyID, execution.ID,
	).Scan(&storedStatus, &storedVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.NewExecutionError("Update", execution.CompanyID, execution.ID, persistence.ErrExecutionNotFound)

			return err
		}

		return fmt.Errorf("failed to lock execution: %w", err)
	}

	if storedVersion != execution.Version {
		err = persistence.NewExecutionError("Update", execution.CompanyID, execution.ID, persistence.ErrExecutionConflict)

		return err
	}

	delta := persistence.OutcomeDelta(storedStatus, execution.Status)

	err = incrementStats(ctx, tx, execution.CompanyID, execution.WorkflowID, delta)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return err
	}

	now := time.Now().UTC()

	query, args, err := psql.Update("workflow_executions").
		SetMap(map[string]any{
			"current_node_id": execution.CurrentNodeID,
			"status":          string(execution.Status),
			"context":         contextJSON,
			"visits":          execution.Visits,
			"started_at":      nullTime(execution.StartedAt),
			"resume_at":       nullTime(execution.ResumeAt),
			"completed_at":    nullTime(execution.CompletedAt),
			"last_error":      execution.LastError,
			"version":         storedVersion + 1,
			"updated_at":      now,
		}).
		Where(sq.Eq{"company_id": execution.CompanyID, "id": execution.ID, "version": storedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	_, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}

	execution.Version = storedVersion + 1
	execution.UpdatedAt = now

	return nil
}

// List returns the company's executions matching the filter, newest first.
func (r *ExecutionRepository) List(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	query, args, err := buildListQuery(filter)
	if err != nil {
		return nil, err
	}

	return r.query(ctx, query, args...)
}

// Due returns waiting executions whose resume time has passed, oldest first.
func (r *ExecutionRepository) Due(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	builder := psql.Select(executionColumns...).
		From("workflow_executions").
		Where(sq.Eq{"status": string(models.ExecutionWaitingDelay)}).
		Where(sq.LtOrEq{"resume_at": before}).
		OrderBy("resume_at ASC")

	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build due query: %w", err)
	}

	return r.query(ctx, query, args...)
}

// Stalled lists pending and running executions last written at or before the cutoff.
func (r *ExecutionRepository) Stalled(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	builder := psql.Select(executionColumns...).
		From("workflow_executions").
		Where(sq.Eq{"status": []string{string(models.ExecutionPending), string(models.ExecutionRunning)}}).
		Where(sq.LtOrEq{"updated_at": before}).
		OrderBy("updated_at ASC")

	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stalled query: %w", err)
	}

	return r.query(ctx, query, args...)
}

// CountActive counts running and waiting executions of one workflow.
func (r *ExecutionRepository) CountActive(ctx context.Context, companyID, workflowID string) (int64, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("workflow_executions").
		Where(sq.Eq{
			"company_id":  companyID,
			"workflow_id": workflowID,
			"status":      []string{string(models.ExecutionRunning), string(models.ExecutionWaitingDelay)},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int64

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return count, nil
}

// DeleteFinished removes terminal executions completed before the cutoff and their markers.
func (r *ExecutionRepository) DeleteFinished(ctx context.Context, before time.Time) (int64, error) {
	expired := sq.And{
		sq.Eq{"status": terminalStatuses},
		sq.Lt{"completed_at": before},
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	expiredIDs := sq.Select("id").From("workflow_executions").Where(expired)

	markersQuery, markersArgs, err := psql.Delete("action_markers").
		Where(sq.Expr("execution_id IN (?)", expiredIDs)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build marker cleanup: %w", err)
	}

	_, err = tx.ExecContext(ctx, markersQuery, markersArgs...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete action markers: %w", err)
	}

	query, args, err := psql.Delete("workflow_executions").Where(expired).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build execution cleanup: %w", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	return deleted, nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func buildListQuery(filter persistence.ExecutionFilter) (string, []any, error) {
	if filter.CompanyID == "" {
		return "", nil, errors.New("company id is required to list executions")
	}

	builder := psql.Select(executionColumns...).
		From("workflow_executions").
		Where(sq.Eq{"company_id": filter.CompanyID}).
		OrderBy("created_at DESC")

	if filter.WorkflowID != "" {
		builder = builder.Where(sq.Eq{"workflow_id": filter.WorkflowID})
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}

		builder = builder.Where(sq.Eq{"status": statuses})
	}

	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build list query: %w", err)
	}

	return query, args, nil
}

func executionValues(execution *models.WorkflowExecution, contextJSON []byte) []any {
	return []any{
		execution.ID,
		execution.CompanyID,
		execution.WorkflowID,
		execution.TriggerEventID,
		execution.ContactID,
		execution.CurrentNodeID,
		string(execution.Status),
		contextJSON,
		execution.Visits,
		nullTime(execution.StartedAt),
		nullTime(execution.ResumeAt),
		nullTime(execution.CompletedAt),
		execution.LastError,
		execution.Version,
		execution.CreatedAt,
		execution.UpdatedAt,
	}
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		contextJSON []byte
		startedAt   sql.NullTime
		resumeAt    sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.CompanyID,
		&execution.WorkflowID,
		&execution.TriggerEventID,
		&execution.ContactID,
		&execution.CurrentNodeID,
		&execution.Status,
		&contextJSON,
		&execution.Visits,
		&startedAt,
		&resumeAt,
		&completedAt,
		&execution.LastError,
		&execution.Version,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	if execution.Context == nil {
		execution.Context = map[string]string{}
	}

	execution.StartedAt = timePtr(startedAt)
	execution.ResumeAt = timePtr(resumeAt)
	execution.CompletedAt = timePtr(completedAt)

	return &execution, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time

	return &v
}
