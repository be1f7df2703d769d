package scheduler

import (
	"context"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/sasha-s/go-deadlock"
)

// Due is a pending resumption.
type Due struct {
	CompanyID   string
	ExecutionID string
	ResumeAt    time.Time
}

// DelayQueue holds pending resumptions until they are claimed.
type DelayQueue interface {
	Push(ctx context.Context, due Due) error
	Remove(ctx context.Context, companyID, executionID string) error
	// Claim returns up to limit entries due at or before now. A claimed entry is not handed out
	// again by the same queue until it is pushed back or its lease runs out.
	Claim(ctx context.Context, now time.Time, limit int) ([]Due, error)
}

// DueStore finds suspended executions whose resume time has passed, and executions that stopped
// moving before they reached a delay or a terminal state.
type DueStore interface {
	DueExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error)
	StalledExecutions(ctx context.Context, before time.Time, limit int) ([]*models.WorkflowExecution, error)
}

// DefaultLease is how long StoreQueue hides a claimed execution from later claims.
const DefaultLease = 30 * time.Second

// StoreQueue reads due executions straight from the execution store: resume_at on the record is
// the queue. Push and Remove only reset the local lease.
type StoreQueue struct {
	store  DueStore
	lease  time.Duration
	mu     deadlock.Mutex
	leased map[string]time.Time
}

func NewStoreQueue(store DueStore, lease time.Duration) *StoreQueue {
	if lease <= 0 {
		lease = DefaultLease
	}

	return &StoreQueue{
		store:  store,
		lease:  lease,
		leased: make(map[string]time.Time),
	}
}

func (q *StoreQueue) Push(_ context.Context, due Due) error {
	q.forget(due.ExecutionID)

	return nil
}

func (q *StoreQueue) Remove(_ context.Context, _, executionID string) error {
	q.forget(executionID)

	return nil
}

func (q *StoreQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	executions, err := q.store.DueExecutions(ctx, now, 0)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for id, until := range q.leased {
		if !now.Before(until) {
			delete(q.leased, id)
		}
	}

	claimed := make([]Due, 0, len(executions))

	for _, execution := range executions {
		if limit > 0 && len(claimed) >= limit {
			break
		}

		if _, ok := q.leased[execution.ID]; ok {
			continue
		}

		q.leased[execution.ID] = now.Add(q.lease)
		claimed = append(claimed, Due{
			CompanyID:   execution.CompanyID,
			ExecutionID: execution.ID,
			ResumeAt:    *execution.ResumeAt,
		})
	}

	return claimed, nil
}

func (q *StoreQueue) forget(executionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.leased, executionID)
}
