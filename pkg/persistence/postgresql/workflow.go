package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/google/uuid"
)

const workflowColumns = `
	id
  , company_id
  , name
  , description
  , nodes
  , connections
  , is_active
  , total_runs
  , successful_runs
  , failed_runs
  , created_at
  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns the company's workflows, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context, companyID string, activeOnly bool) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE company_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}

	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns ErrWorkflowNotFound when the company has no such workflow.
func (r *WorkflowRepository) GetByID(ctx context.Context, companyID, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE company_id = $1 AND id = $2`, companyID, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", companyID, id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save upserts the workflow definition; stats columns are only ever changed by increments.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	nodesJSON, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	connectionsJSON, err := json.Marshal(workflow.Connections)
	if err != nil {
		return fmt.Errorf("failed to marshal connections: %w", err)
	}

	query := `
		INSERT INTO workflows (company_id, id, name, description, nodes, connections, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (company_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			nodes = EXCLUDED.nodes,
			connections = EXCLUDED.connections,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING total_runs, successful_runs, failed_runs, created_at
	`

	err = r.db.QueryRowContext(ctx, query,
		workflow.CompanyID,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		nodesJSON,
		connectionsJSON,
		workflow.IsActive,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	).Scan(
		&workflow.Stats.TotalRuns,
		&workflow.Stats.SuccessfulRuns,
		&workflow.Stats.FailedRuns,
		&workflow.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// Delete removes the workflow definition. Executions are kept for history.
func (r *WorkflowRepository) Delete(ctx context.Context, companyID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", companyID, id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow        models.Workflow
		nodesJSON       []byte
		connectionsJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.CompanyID,
		&workflow.Name,
		&workflow.Description,
		&nodesJSON,
		&connectionsJSON,
		&workflow.IsActive,
		&workflow.Stats.TotalRuns,
		&workflow.Stats.SuccessfulRuns,
		&workflow.Stats.FailedRuns,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(connectionsJSON, &workflow.Connections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	return &workflow, nil
}
