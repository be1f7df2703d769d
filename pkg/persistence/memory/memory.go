// Package memory provides an in-memory persistence implementation backed by go-memdb.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

// Persistence implements persistence.Persistence with indexed in-memory tables.
// Every value handed out is a copy; stored objects are never mutated in place.
type Persistence struct {
	db  *memdb.MemDB
	now func() time.Time

	// onWrite is called inside the write transaction for every changed object, before commit.
	onWrite func(table string, obj any, deleted bool) error
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// the schema is static; a failure here is a programming error
		panic(fmt.Errorf("invalid memdb schema: %w", err))
	}

	return &Persistence{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// OnWrite registers a hook invoked for every row written or deleted. A hook error aborts the
// transaction. It is how the file store mirrors rows to disk.
func (p *Persistence) OnWrite(hook func(table string, obj any, deleted bool) error) {
	p.onWrite = hook
}

// SetClock replaces the clock stamping created and updated times.
func (p *Persistence) SetClock(now func() time.Time) {
	p.now = now
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) write(txn *memdb.Txn, table string, obj any) error {
	if err := txn.Insert(table, obj); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	if p.onWrite != nil {
		return p.onWrite(table, obj, false)
	}

	return nil
}

func (p *Persistence) remove(txn *memdb.Txn, table string, obj any) error {
	if err := txn.Delete(table, obj); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	if p.onWrite != nil {
		return p.onWrite(table, obj, true)
	}

	return nil
}

// Load inserts rows without firing the write hook. Used to restore a snapshot.
func (p *Persistence) Load(workflows []*models.Workflow, executions []*models.WorkflowExecution, markers []*models.ActionMarker) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	for _, workflow := range workflows {
		if err := txn.Insert(tableWorkflows, workflow); err != nil {
			return fmt.Errorf("failed to load workflow %s: %w", workflow.ID, err)
		}
	}

	for _, execution := range executions {
		if err := txn.Insert(tableExecutions, execution); err != nil {
			return fmt.Errorf("failed to load execution %s: %w", execution.ID, err)
		}
	}

	for _, marker := range markers {
		if err := txn.Insert(tableMarkers, marker); err != nil {
			return fmt.Errorf("failed to load marker %s/%s: %w", marker.ExecutionID, marker.NodeID, err)
		}
	}

	txn.Commit()

	return nil
}

// Workflows

func (p *Persistence) Workflows(_ context.Context, companyID string) ([]*models.Workflow, error) {
	return p.workflows(companyID, false)
}

func (p *Persistence) ActiveWorkflows(_ context.Context, companyID string) ([]*models.Workflow, error) {
	return p.workflows(companyID, true)
}

func (p *Persistence) workflows(companyID string, activeOnly bool) ([]*models.Workflow, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableWorkflows, indexCompany, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0)

	for obj := it.Next(); obj != nil; obj = it.Next() {
		workflow := obj.(*models.Workflow)
		if activeOnly && !workflow.IsActive {
			continue
		}

		workflows = append(workflows, cloneWorkflow(workflow))
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, companyID, id string) (*models.Workflow, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	workflow, err := p.workflowByID(txn, companyID, id)
	if err != nil {
		return nil, err
	}

	return cloneWorkflow(workflow), nil
}

func (p *Persistence) workflowByID(txn *memdb.Txn, companyID, id string) (*models.Workflow, error) {
	obj, err := txn.First(tableWorkflows, indexID, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}

	if obj == nil {
		return nil, persistence.NewWorkflowError("GetByID", companyID, id, persistence.ErrWorkflowNotFound)
	}

	return obj.(*models.Workflow), nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	now := p.now()

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	txn := p.db.Txn(true)
	defer txn.Abort()

	stored := cloneWorkflow(workflow)

	existing, err := txn.First(tableWorkflows, indexID, workflow.CompanyID, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to read workflow: %w", err)
	}

	if existing != nil {
		stored.Stats = existing.(*models.Workflow).Stats
		stored.CreatedAt = existing.(*models.Workflow).CreatedAt
	} else {
		stored.Stats = models.WorkflowStats{}
	}

	if err := p.write(txn, tableWorkflows, stored); err != nil {
		return err
	}

	txn.Commit()

	workflow.Stats = stored.Stats
	workflow.CreatedAt = stored.CreatedAt

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, companyID, id string) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	workflow, err := p.workflowByID(txn, companyID, id)
	if err != nil {
		return err
	}

	if err := p.remove(txn, tableWorkflows, workflow); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

func (p *Persistence) IncrementWorkflowStats(_ context.Context, companyID, id string, delta models.StatsDelta) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	if err := p.incrementStats(txn, companyID, id, delta); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

func (p *Persistence) incrementStats(txn *memdb.Txn, companyID, id string, delta models.StatsDelta) error {
	if delta == (models.StatsDelta{}) {
		return nil
	}

	workflow, err := p.workflowByID(txn, companyID, id)
	if err != nil {
		return err
	}

	updated := *workflow
	updated.Stats.Apply(delta)

	return p.write(txn, tableWorkflows, &updated)
}

// Executions

func (p *Persistence) CreateExecution(_ context.Context, execution *models.WorkflowExecution) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	if execution.TriggerEventID != "" {
		existing, err := txn.First(tableExecutions, indexTrigger, execution.WorkflowID, execution.TriggerEventID)
		if err != nil {
			return fmt.Errorf("failed to check trigger dedupe: %w", err)
		}

		if existing != nil {
			return persistence.NewExecutionError("Create", execution.CompanyID, execution.ID, persistence.ErrDuplicateTrigger)
		}
	}

	now := p.now()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now
	execution.Version = 1

	if err := p.incrementStats(txn, execution.CompanyID, execution.WorkflowID, models.StatsDelta{TotalRuns: 1}); err != nil {
		return err
	}

	if err := p.write(txn, tableExecutions, execution.Clone()); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, companyID, id string) (*models.WorkflowExecution, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableExecutions, indexID, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}

	if obj == nil {
		return nil, persistence.NewExecutionError("GetByID", companyID, id, persistence.ErrExecutionNotFound)
	}

	return obj.(*models.WorkflowExecution).Clone(), nil
}

func (p *Persistence) UpdateExecution(_ context.Context, execution *models.WorkflowExecution) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableExecutions, indexID, execution.CompanyID, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to read execution: %w", err)
	}

	if obj == nil {
		return persistence.NewExecutionError("Update", execution.CompanyID, execution.ID, persistence.ErrExecutionNotFound)
	}

	stored := obj.(*models.WorkflowExecution)
	if stored.Version != execution.Version {
		return persistence.NewExecutionError("Update", execution.CompanyID, execution.ID, persistence.ErrExecutionConflict)
	}

	delta := persistence.OutcomeDelta(stored.Status, execution.Status)
	if err := p.incrementStats(txn, execution.CompanyID, execution.WorkflowID, delta); err != nil && !persistence.IsWorkflowNotFound(err) {
		return err
	}

	updated := execution.Clone()
	updated.Version = stored.Version + 1
	updated.UpdatedAt = p.now()

	if err := p.write(txn, tableExecutions, updated); err != nil {
		return err
	}

	txn.Commit()

	execution.Version = updated.Version
	execution.UpdatedAt = updated.UpdatedAt

	return nil
}

func (p *Persistence) Executions(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)

	if filter.WorkflowID != "" {
		it, err = txn.Get(tableExecutions, indexWorkflow, filter.CompanyID, filter.WorkflowID)
	} else {
		it, err = txn.Get(tableExecutions, indexCompany, filter.CompanyID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.WorkflowExecution, 0)

	for obj := it.Next(); obj != nil; obj = it.Next() {
		execution := obj.(*models.WorkflowExecution)
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, execution.Status) {
			continue
		}

		executions = append(executions, execution.Clone())
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}

	return executions, nil
}

func (p *Persistence) DueExecutions(_ context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableExecutions, indexStatus, string(models.ExecutionWaitingDelay))
	if err != nil {
		return nil, fmt.Errorf("failed to scan due executions: %w", err)
	}

	due := make([]*models.WorkflowExecution, 0)

	for obj := it.Next(); obj != nil; obj = it.Next() {
		execution := obj.(*models.WorkflowExecution)
		if execution.ResumeAt != nil && !execution.ResumeAt.After(before) {
			due = append(due, execution.Clone())
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ResumeAt.Before(*due[j].ResumeAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (p *Persistence) StalledExecutions(_ context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	stalled := make([]*models.WorkflowExecution, 0)

	for _, status := range []models.ExecutionStatus{models.ExecutionPending, models.ExecutionRunning} {
		it, err := txn.Get(tableExecutions, indexStatus, string(status))
		if err != nil {
			return nil, fmt.Errorf("failed to scan stalled executions: %w", err)
		}

		for obj := it.Next(); obj != nil; obj = it.Next() {
			execution := obj.(*models.WorkflowExecution)
			if !execution.UpdatedAt.After(before) {
				stalled = append(stalled, execution.Clone())
			}
		}
	}

	sort.Slice(stalled, func(i, j int) bool {
		return stalled[i].UpdatedAt.Before(stalled[j].UpdatedAt)
	})

	if limit > 0 && len(stalled) > limit {
		stalled = stalled[:limit]
	}

	return stalled, nil
}

func (p *Persistence) CountActiveExecutions(_ context.Context, companyID, workflowID string) (int64, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableExecutions, indexWorkflow, companyID, workflowID)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	var count int64

	for obj := it.Next(); obj != nil; obj = it.Next() {
		if obj.(*models.WorkflowExecution).Status.Active() {
			count++
		}
	}

	return count, nil
}

func (p *Persistence) DeleteFinishedExecutions(_ context.Context, before time.Time) (int64, error) {
	txn := p.db.Txn(true)
	defer txn.Abort()

	var expired []*models.WorkflowExecution

	for _, status := range []models.ExecutionStatus{models.ExecutionCompleted, models.ExecutionFailed, models.ExecutionCancelled} {
		it, err := txn.Get(tableExecutions, indexStatus, string(status))
		if err != nil {
			return 0, fmt.Errorf("failed to scan finished executions: %w", err)
		}

		for obj := it.Next(); obj != nil; obj = it.Next() {
			execution := obj.(*models.WorkflowExecution)
			if execution.CompletedAt != nil && execution.CompletedAt.Before(before) {
				expired = append(expired, execution)
			}
		}
	}

	for _, execution := range expired {
		if err := p.remove(txn, tableExecutions, execution); err != nil {
			return 0, err
		}

		it, err := txn.Get(tableMarkers, indexExecution, execution.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to scan markers: %w", err)
		}

		var markers []any
		for obj := it.Next(); obj != nil; obj = it.Next() {
			markers = append(markers, obj)
		}

		for _, marker := range markers {
			if err := p.remove(txn, tableMarkers, marker); err != nil {
				return 0, err
			}
		}
	}

	txn.Commit()

	return int64(len(expired)), nil
}

// Action markers

func (p *Persistence) ActionMarker(_ context.Context, executionID, nodeID string) (*models.ActionMarker, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	obj, err := txn.First(tableMarkers, indexID, executionID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to read action marker: %w", err)
	}

	if obj == nil {
		return nil, persistence.ErrMarkerNotFound
	}

	marker := *obj.(*models.ActionMarker)

	return &marker, nil
}

func (p *Persistence) SaveActionMarker(_ context.Context, marker *models.ActionMarker) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	stored := *marker
	if stored.CompletedAt.IsZero() {
		stored.CompletedAt = p.now()
	}

	if err := p.write(txn, tableMarkers, &stored); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// Snapshot returns copies of every stored row.
func (p *Persistence) Snapshot() ([]*models.Workflow, []*models.WorkflowExecution, []*models.ActionMarker, error) {
	txn := p.db.Txn(false)
	defer txn.Abort()

	var (
		workflows  []*models.Workflow
		executions []*models.WorkflowExecution
		markers    []*models.ActionMarker
	)

	it, err := txn.Get(tableWorkflows, indexID)
	if err != nil {
		return nil, nil, nil, err
	}

	for obj := it.Next(); obj != nil; obj = it.Next() {
		workflows = append(workflows, cloneWorkflow(obj.(*models.Workflow)))
	}

	it, err = txn.Get(tableExecutions, indexID)
	if err != nil {
		return nil, nil, nil, err
	}

	for obj := it.Next(); obj != nil; obj = it.Next() {
		executions = append(executions, obj.(*models.WorkflowExecution).Clone())
	}

	it, err = txn.Get(tableMarkers, indexID)
	if err != nil {
		return nil, nil, nil, err
	}

	for obj := it.Next(); obj != nil; obj = it.Next() {
		marker := *obj.(*models.ActionMarker)
		markers = append(markers, &marker)
	}

	return workflows, executions, markers, nil
}

func cloneWorkflow(workflow *models.Workflow) *models.Workflow {
	data, err := json.Marshal(workflow)
	if err != nil {
		panic(fmt.Errorf("failed to copy workflow %s: %w", workflow.ID, err))
	}

	var clone models.Workflow
	if err := json.Unmarshal(data, &clone); err != nil {
		panic(fmt.Errorf("failed to copy workflow %s: %w", workflow.ID, err))
	}

	return &clone
}
