// Package postgresql provides the PostgreSQL persistence implementation for workflows, executions and action markers.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/persistence/sqlbase"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type scanner interface {
	Scan(dest ...any) error
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	markerRepo    *MarkerRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  NewWorkflowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		markerRepo:    NewMarkerRepository(database),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context, companyID string) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx, companyID, false)
}

func (p *Persistence) ActiveWorkflows(ctx context.Context, companyID string) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx, companyID, true)
}

func (p *Persistence) WorkflowByID(ctx context.Context, companyID, id string) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, companyID, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, companyID, id string) error {
	return p.workflowRepo.Delete(ctx, companyID, id)
}

func (p *Persistence) IncrementWorkflowStats(ctx context.Context, companyID, id string, delta models.StatsDelta) error {
	return incrementStats(ctx, p.db, companyID, id, delta)
}

func (p *Persistence) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.executionRepo.Create(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error) {
	return p.executionRepo.GetByID(ctx, companyID, id)
}

func (p *Persistence) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.executionRepo.Update(ctx, execution)
}

func (p *Persistence) Executions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	return p.executionRepo.List(ctx, filter)
}

func (p *Persistence) DueExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	return p.executionRepo.Due(ctx, before, limit)
}

func (p *Persistence) StalledExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	return p.executionRepo.Stalled(ctx, before, limit)
}

func (p *Persistence) CountActiveExecutions(ctx context.Context, companyID, workflowID string) (int64, error) {
	return p.executionRepo.CountActive(ctx, companyID, workflowID)
}

func (p *Persistence) DeleteFinishedExecutions(ctx context.Context, before time.Time) (int64, error) {
	return p.executionRepo.DeleteFinished(ctx, before)
}

func (p *Persistence) ActionMarker(ctx context.Context, executionID, nodeID string) (*models.ActionMarker, error) {
	return p.markerRepo.Get(ctx, executionID, nodeID)
}

func (p *Persistence) SaveActionMarker(ctx context.Context, marker *models.ActionMarker) error {
	return p.markerRepo.Save(ctx, marker)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// incrementStats applies the delta with column arithmetic so concurrent increments never lose updates.
func incrementStats(ctx context.Context, db execer, companyID, id string, delta models.StatsDelta) error {
	if delta == (models.StatsDelta{}) {
		return nil
	}

	result, err := db.ExecContext(ctx, `
		UPDATE workflows SET
			total_runs = total_runs + $3,
			successful_runs = successful_runs + $4,
			failed_runs = failed_runs + $5
		WHERE company_id = $1 AND id = $2
	`, companyID, id, delta.TotalRuns, delta.SuccessfulRuns, delta.FailedRuns)
	if err != nil {
		return fmt.Errorf("failed to increment workflow stats: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("IncrementStats", companyID, id, persistence.ErrWorkflowNotFound)
	}

	return nil
}
