package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qmuntal/stateless"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionPending      ExecutionStatus = "pending"
	ExecutionRunning      ExecutionStatus = "running"
	ExecutionWaitingDelay ExecutionStatus = "waiting_delay"
	ExecutionCompleted    ExecutionStatus = "completed"
	ExecutionFailed       ExecutionStatus = "failed"
	ExecutionCancelled    ExecutionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// Active reports whether the status counts towards a workflow's active executions.
func (s ExecutionStatus) Active() bool {
	return s == ExecutionRunning || s == ExecutionWaitingDelay
}

// WorkflowExecution is one instance of a workflow responding to one triggering event.
type WorkflowExecution struct {
	ID             string            `json:"id"`
	WorkflowID     string            `json:"workflow_id"`
	CompanyID      string            `json:"company_id"`
	TriggerEventID string            `json:"trigger_event_id,omitempty"`
	ContactID      string            `json:"contact_id"`
	CurrentNodeID  string            `json:"current_node_id,omitempty"`
	Status         ExecutionStatus   `json:"status"`
	Context        map[string]string `json:"context"`
	// Visits counts node visits across every Advance call.
	Visits      int        `json:"visits"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	// Version is bumped on every successful write and guards against lost updates.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExecution creates a pending execution for the workflow and event.
func NewExecution(id string, workflow *Workflow, event DomainEvent, now time.Time) *WorkflowExecution {
	return &WorkflowExecution{
		ID:             id,
		WorkflowID:     workflow.ID,
		CompanyID:      workflow.CompanyID,
		TriggerEventID: event.ID,
		ContactID:      event.SubjectID,
		Status:         ExecutionPending,
		Context:        event.SeedContext(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	clone := *e

	clone.Context = make(map[string]string, len(e.Context))
	for key, value := range e.Context {
		clone.Context[key] = value
	}

	clone.StartedAt = cloneTime(e.StartedAt)
	clone.ResumeAt = cloneTime(e.ResumeAt)
	clone.CompletedAt = cloneTime(e.CompletedAt)

	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}

// ExecutionTrigger drives status transitions.
type ExecutionTrigger string

const (
	TriggerStart    ExecutionTrigger = "start"
	TriggerSuspend  ExecutionTrigger = "suspend"
	TriggerResume   ExecutionTrigger = "resume"
	TriggerComplete ExecutionTrigger = "complete"
	TriggerFail     ExecutionTrigger = "fail"
	TriggerCancel   ExecutionTrigger = "cancel"
)

// ErrInvalidTransition is returned when a trigger is not permitted from the current status.
var ErrInvalidTransition = errors.New("invalid execution transition")

// pending -> running -> {waiting_delay <-> running} -> {completed | failed | cancelled}.
// Terminal states permit nothing.
func (e *WorkflowExecution) machine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return e.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			e.Status = state.(ExecutionStatus)

			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(ExecutionPending).
		Permit(TriggerStart, ExecutionRunning).
		Permit(TriggerFail, ExecutionFailed).
		Permit(TriggerCancel, ExecutionCancelled)

	sm.Configure(ExecutionRunning).
		Permit(TriggerSuspend, ExecutionWaitingDelay).
		Permit(TriggerComplete, ExecutionCompleted).
		Permit(TriggerFail, ExecutionFailed).
		Permit(TriggerCancel, ExecutionCancelled)

	sm.Configure(ExecutionWaitingDelay).
		Permit(TriggerResume, ExecutionRunning).
		Permit(TriggerFail, ExecutionFailed).
		Permit(TriggerCancel, ExecutionCancelled)

	sm.Configure(ExecutionCompleted)
	sm.Configure(ExecutionFailed)
	sm.Configure(ExecutionCancelled)

	return sm
}

// Fire applies a status transition and stamps the matching timestamps.
func (e *WorkflowExecution) Fire(trigger ExecutionTrigger, now time.Time) error {
	from := e.Status

	if err := e.machine().Fire(trigger); err != nil {
		return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, trigger, from, err)
	}

	switch trigger {
	case TriggerStart:
		e.StartedAt = &now
	case TriggerSuspend:
	case TriggerResume:
		e.ResumeAt = nil
	case TriggerComplete, TriggerFail, TriggerCancel:
		e.ResumeAt = nil
		e.CompletedAt = &now
	}

	e.UpdatedAt = now

	return nil
}

// CanFire reports whether the trigger is permitted from the current status.
func (e *WorkflowExecution) CanFire(trigger ExecutionTrigger) bool {
	ok, err := e.machine().CanFire(trigger)

	return err == nil && ok
}

// Suspend parks the execution until resumeAt.
func (e *WorkflowExecution) Suspend(resumeAt, now time.Time) error {
	if err := e.Fire(TriggerSuspend, now); err != nil {
		return err
	}

	e.ResumeAt = &resumeAt

	return nil
}

// Fail moves the execution to failed and records the reason.
func (e *WorkflowExecution) Fail(reason error, now time.Time) error {
	if err := e.Fire(TriggerFail, now); err != nil {
		return err
	}

	e.LastError = reason.Error()

	return nil
}
