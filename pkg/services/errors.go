// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/engine"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/dukex/drip/pkg/workflow"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrCompanyIDRequired = errors.New("company ID is required")
	ErrInvalidStatus     = errors.New("invalid execution status")
	ErrInvalidEvent      = errors.New("invalid domain event")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowInactive       = errors.New("workflow is not active")
	ErrNotManualTrigger       = errors.New("workflow is not triggered manually")
	ErrExecutionFinished      = engine.ErrExecutionFinished
	ErrConcurrentModification = persistence.ErrExecutionConflict
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrCompanyIDRequired) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidEvent) ||
		workflow.IsValidationError(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowInactive) ||
		errors.Is(err, ErrNotManualTrigger) ||
		errors.Is(err, ErrExecutionFinished) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFoundError checks if an error indicates a missing workflow or execution (HTTP 404).
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) || persistence.IsExecutionNotFound(err)
}

// ValidationIssues returns the workflow validation issues carried by err, if any.
func ValidationIssues(err error) []workflow.Issue {
	var validationErr *workflow.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Issues
	}

	return nil
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func newConflictError(op, code string, err error) *ServiceError {
	return &ServiceError{Op: op, Code: code, Err: err}
}
