package mocks

import (
	"context"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) Workflows(ctx context.Context, companyID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockPersistence) ActiveWorkflows(ctx context.Context, companyID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockPersistence) WorkflowByID(ctx context.Context, companyID, id string) (*models.Workflow, error) {
	args := m.Called(ctx, companyID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockPersistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockPersistence) DeleteWorkflow(ctx context.Context, companyID, id string) error {
	args := m.Called(ctx, companyID, id)

	return args.Error(0)
}

func (m *MockPersistence) IncrementWorkflowStats(ctx context.Context, companyID, id string, delta models.StatsDelta) error {
	args := m.Called(ctx, companyID, id, delta)

	return args.Error(0)
}

func (m *MockPersistence) CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) ExecutionByID(ctx context.Context, companyID, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, companyID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockPersistence) UpdateExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) Executions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockPersistence) DueExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockPersistence) StalledExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockPersistence) CountActiveExecutions(ctx context.Context, companyID, workflowID string) (int64, error) {
	args := m.Called(ctx, companyID, workflowID)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPersistence) DeleteFinishedExecutions(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPersistence) ActionMarker(ctx context.Context, executionID, nodeID string) (*models.ActionMarker, error) {
	args := m.Called(ctx, executionID, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ActionMarker), args.Error(1)
}

func (m *MockPersistence) SaveActionMarker(ctx context.Context, marker *models.ActionMarker) error {
	args := m.Called(ctx, marker)

	return args.Error(0)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
