// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found for the given tenant and identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found for the given tenant and identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionConflict indicates the execution was modified since it was read.
	ErrExecutionConflict = errors.New("execution was modified concurrently")

	// ErrDuplicateTrigger indicates an execution already exists for the workflow and trigger event.
	ErrDuplicateTrigger = errors.New("execution already exists for trigger event")

	// ErrMarkerNotFound indicates no action marker exists for the execution and node.
	ErrMarkerNotFound = errors.New("action marker not found")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	CompanyID  string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s/%s: %v", e.Op, e.CompanyID, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, companyID, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		CompanyID:  companyID,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string
	CompanyID   string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s/%s: %v", e.Op, e.CompanyID, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, companyID, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		CompanyID:   companyID,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsExecutionConflict checks if an error indicates an optimistic concurrency conflict.
func IsExecutionConflict(err error) bool {
	return errors.Is(err, ErrExecutionConflict)
}

// IsDuplicateTrigger checks if an error indicates a deduplicated trigger event.
func IsDuplicateTrigger(err error) bool {
	return errors.Is(err, ErrDuplicateTrigger)
}
