package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("workflow validation failed")

// Issue codes reported by the validator.
const (
	IssueNoTrigger          = "no_trigger"
	IssueMultipleTriggers   = "multiple_triggers"
	IssueNoAction           = "no_action"
	IssueDuplicateNode      = "duplicate_node"
	IssueDanglingConnection = "dangling_connection"
	IssueInvalidConnection  = "invalid_connection"
	IssueCycle              = "cycle"
	IssueUnknownKind        = "unknown_kind"
	IssueInvalidConfig      = "invalid_config"
	IssueInvalidBranch      = "invalid_branch"
	IssueTooManyOutgoing    = "too_many_outgoing"
	IssueInvalidField       = "invalid_field"
)

// Issue is one reason a workflow cannot be saved or activated.
type Issue struct {
	Code         string `json:"code"`
	NodeID       string `json:"node_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Message      string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("node %s: %s", i.NodeID, i.Message)
	case i.ConnectionID != "":
		return fmt.Sprintf("connection %s: %s", i.ConnectionID, i.Message)
	default:
		return i.Message
	}
}

// ValidationError lists every issue found in one validation pass.
type ValidationError struct {
	WorkflowID string
	Issues     []Issue
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		messages = append(messages, issue.String())
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(messages, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// HasIssue reports whether an issue with the given code was found.
func (e *ValidationError) HasIssue(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}

	return false
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
