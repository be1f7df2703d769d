package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/models"
)

var (
	// ErrVisitCapExceeded fails an execution that visited more nodes than the configured cap.
	ErrVisitCapExceeded = errors.New("node visit cap exceeded")

	// ErrNodeMissing fails an execution whose current or next node is not in the workflow.
	ErrNodeMissing = errors.New("node not found in workflow")

	// ErrInvalidTransition is returned for a status change the execution state machine forbids.
	ErrInvalidTransition = models.ErrInvalidTransition

	// ErrExecutionFinished is returned when cancelling a completed or failed execution.
	ErrExecutionFinished = errors.New("execution already finished")
)

// ExecutionFailure is the reason recorded on a failed execution.
type ExecutionFailure struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionFailure) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("execution %s failed: %v", e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("execution %s failed at node %s: %v", e.ExecutionID, e.NodeID, e.Err)
}

func (e *ExecutionFailure) Unwrap() error {
	return e.Err
}
