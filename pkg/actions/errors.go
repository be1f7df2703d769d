package actions

import (
	"errors"
	"fmt"

	"github.com/dukex/drip/pkg/models"
)

// ErrNoHandler is returned for an action kind without a registered handler.
var ErrNoHandler = errors.New("no handler registered for action kind")

// TransientActionError is an action failure that exhausted its retry budget.
type TransientActionError struct {
	Kind    models.ActionKind
	NodeID  string
	Attempt int
	Err     error
}

func (e *TransientActionError) Error() string {
	return fmt.Sprintf("action %s (%s) failed after %d attempts: %v", e.NodeID, e.Kind, e.Attempt, e.Err)
}

func (e *TransientActionError) Unwrap() error {
	return e.Err
}

// PermanentActionError is an action failure that is never retried: malformed config, a 4xx
// response or an unknown kind.
type PermanentActionError struct {
	Kind    models.ActionKind
	NodeID  string
	Attempt int
	Err     error
}

func (e *PermanentActionError) Error() string {
	return fmt.Sprintf("action %s (%s) failed permanently on attempt %d: %v", e.NodeID, e.Kind, e.Attempt, e.Err)
}

func (e *PermanentActionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TransientActionError.
func IsTransient(err error) bool {
	var target *TransientActionError

	return errors.As(err, &target)
}

// IsPermanent reports whether err is a PermanentActionError.
func IsPermanent(err error) bool {
	var target *PermanentActionError

	return errors.As(err, &target)
}

// HTTPError represents a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Handlers and collaborators use it for failures
// a retry cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

func isMarkedPermanent(err error) bool {
	var target *permanentError

	return errors.As(err, &target)
}
