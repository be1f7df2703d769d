package scheduler

import "fmt"

// SchedulerRecoveryError reports a due or stalled execution that could not be handed over. The
// execution keeps its status and is retried on the next scan.
type SchedulerRecoveryError struct {
	ExecutionID string
	Err         error
}

func (e *SchedulerRecoveryError) Error() string {
	return fmt.Sprintf("failed to resume execution %s: %v", e.ExecutionID, e.Err)
}

func (e *SchedulerRecoveryError) Unwrap() error {
	return e.Err
}
