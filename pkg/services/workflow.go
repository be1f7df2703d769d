package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/workflow"
	"github.com/google/uuid"
)

const deletedReason = "workflow deleted"

// Canceller cancels executions. The engine implements it.
type Canceller interface {
	Cancel(ctx context.Context, companyID, executionID, reason string) error
	CancelWorkflow(ctx context.Context, companyID, workflowID, reason string) (int, error)
}

// WorkflowDefinition is the editable part of a workflow.
type WorkflowDefinition struct {
	Name        string
	Description string
	Nodes       []*models.WorkflowNode
	Connections []*models.Connection
}

type Workflow struct {
	persistence persistence.Persistence
	validator   *workflow.Validator
	canceller   Canceller
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(logger *slog.Logger, persistence persistence.Persistence, canceller Canceller) *Workflow {
	return &Workflow{
		persistence: persistence,
		validator:   workflow.NewValidator(),
		canceller:   canceller,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (w *Workflow) List(ctx context.Context, companyID string) ([]*models.Workflow, error) {
	if err := requireCompany("List", companyID); err != nil {
		return nil, err
	}

	workflows, err := w.persistence.Workflows(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, companyID, id string) (*models.Workflow, error) {
	if err := requireCompany("FetchByID", companyID); err != nil {
		return nil, err
	}

	return w.persistence.WorkflowByID(ctx, companyID, id)
}

// Create stores a new, inactive workflow. It may be empty; activation enforces the full rules.
func (w *Workflow) Create(ctx context.Context, companyID string, definition WorkflowDefinition) (*models.Workflow, error) {
	if err := requireCompany("Create", companyID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow id: %w", err)
	}

	wf := &models.Workflow{
		ID:          id.String(),
		CompanyID:   companyID,
		Name:        strings.TrimSpace(definition.Name),
		Description: definition.Description,
		Nodes:       definition.Nodes,
		Connections: definition.Connections,
	}

	if err := w.validator.ValidateDraft(wf); err != nil {
		return nil, NewValidationError("Create", "INVALID_WORKFLOW", err.Error(), err)
	}

	if err := w.persistence.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow created", "company_id", companyID, "workflow_id", wf.ID)

	return wf, nil
}

// Update replaces the definition of a workflow. An active workflow must stay activatable.
func (w *Workflow) Update(ctx context.Context, companyID, id string, definition WorkflowDefinition) (*models.Workflow, error) {
	existing, err := w.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	existing.Name = strings.TrimSpace(definition.Name)
	existing.Description = definition.Description
	existing.Nodes = definition.Nodes
	existing.Connections = definition.Connections

	validate := w.validator.ValidateDraft
	if existing.IsActive {
		validate = w.validator.ValidateForActivation
	}

	if err := validate(existing); err != nil {
		return nil, NewValidationError("Update", "INVALID_WORKFLOW", err.Error(), err)
	}

	if err := w.persistence.SaveWorkflow(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return existing, nil
}

// Activate validates the workflow and lets it receive events. A workflow that fails validation
// is left inactive and the ValidationError is returned.
func (w *Workflow) Activate(ctx context.Context, companyID, id string) (*models.Workflow, error) {
	wf, err := w.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	if err := w.validator.ValidateForActivation(wf); err != nil {
		w.logger.InfoContext(ctx, "workflow failed activation",
			"company_id", companyID,
			"workflow_id", id,
			"error", err)

		if wf.IsActive {
			wf.IsActive = false
			if saveErr := w.persistence.SaveWorkflow(ctx, wf); saveErr != nil {
				return nil, fmt.Errorf("failed to deactivate invalid workflow: %w", saveErr)
			}
		}

		return nil, NewValidationError("Activate", "VALIDATION_FAILED", err.Error(), err)
	}

	if wf.IsActive {
		return wf, nil
	}

	wf.IsActive = true
	if err := w.persistence.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow activated", "company_id", companyID, "workflow_id", id)

	return wf, nil
}

// Deactivate stops new executions. Running executions continue.
func (w *Workflow) Deactivate(ctx context.Context, companyID, id string) (*models.Workflow, error) {
	wf, err := w.FetchByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}

	if !wf.IsActive {
		return wf, nil
	}

	wf.IsActive = false
	if err := w.persistence.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to deactivate workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow deactivated", "company_id", companyID, "workflow_id", id)

	return wf, nil
}

// Delete stops triggering, cancels every unfinished execution and removes the workflow. It
// returns how many executions were cancelled.
func (w *Workflow) Delete(ctx context.Context, companyID, id string) (int, error) {
	wf, err := w.FetchByID(ctx, companyID, id)
	if err != nil {
		return 0, err
	}

	if wf.IsActive {
		wf.IsActive = false
		if err := w.persistence.SaveWorkflow(ctx, wf); err != nil {
			return 0, fmt.Errorf("failed to deactivate workflow: %w", err)
		}
	}

	cancelled, err := w.canceller.CancelWorkflow(ctx, companyID, id, deletedReason)
	if err != nil {
		return cancelled, fmt.Errorf("failed to cancel executions: %w", err)
	}

	if err := w.persistence.DeleteWorkflow(ctx, companyID, id); err != nil {
		return cancelled, fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow deleted",
		"company_id", companyID,
		"workflow_id", id,
		"cancelled_executions", cancelled)

	return cancelled, nil
}

func requireCompany(op, companyID string) error {
	if strings.TrimSpace(companyID) == "" {
		return NewValidationError(op, "COMPANY_REQUIRED", "company ID is required", ErrCompanyIDRequired)
	}

	return nil
}

// Import saves workflow definitions loaded from a file. Definitions with an ID replace the stored
// workflow; the others get a new ID. Definitions marked active, or all when activate is set, are
// then activated and fail with the ValidationError of the first invalid one.
func (w *Workflow) Import(ctx context.Context, companyID string, definitions []*models.Workflow, activate bool) ([]*models.Workflow, error) {
	if err := requireCompany("Import", companyID); err != nil {
		return nil, err
	}

	imported := make([]*models.Workflow, 0, len(definitions))

	for _, wf := range definitions {
		wantActive := activate || wf.IsActive

		if wf.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return imported, fmt.Errorf("failed to generate workflow id: %w", err)
			}

			wf.ID = id.String()
		}

		wf.CompanyID = companyID
		wf.IsActive = false

		if err := w.validator.ValidateDraft(wf); err != nil {
			return imported, NewValidationError("Import", "INVALID_WORKFLOW", err.Error(), err)
		}

		if err := w.persistence.SaveWorkflow(ctx, wf); err != nil {
			return imported, fmt.Errorf("failed to import workflow %s: %w", wf.ID, err)
		}

		if wantActive {
			activated, err := w.Activate(ctx, companyID, wf.ID)
			if err != nil {
				return imported, err
			}

			wf = activated
		}

		w.logger.InfoContext(ctx, "workflow imported",
			"company_id", companyID,
			"workflow_id", wf.ID,
			"active", wf.IsActive)

		imported = append(imported, wf)
	}

	return imported, nil
}
