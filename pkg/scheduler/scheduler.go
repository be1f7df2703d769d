// Package scheduler resumes executions suspended on delay nodes once their resume time passes.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/drip/pkg/models"
)

const (
	DefaultInterval         = time.Second
	DefaultRecoveryInterval = 30 * time.Second
	DefaultBatchSize        = 100
)

// DefaultStallTimeout is how long a pending or running execution may go without a write before the
// recovery pass hands it to OnDue again.
const DefaultStallTimeout = 5 * time.Minute

// OnDue is called for every execution whose delay elapsed. It normally advances the execution
// in-process or enqueues it for the worker pool.
type OnDue func(ctx context.Context, companyID, executionID string) error

// Scheduler polls its DelayQueue every interval and hands due executions to OnDue. A slower
// recovery pass scans the execution store itself so resumptions survive restarts and lost queue
// entries. The same pass picks up executions left pending or running by a failed start or a
// crashed worker.
type Scheduler struct {
	queue            DelayQueue
	store            DueStore
	onDue            OnDue
	interval         time.Duration
	recoveryInterval time.Duration
	stallTimeout     time.Duration
	batchSize        int
	logger           *slog.Logger
	now              func() time.Time

	mu      sync.Mutex
	running bool
}

type Option func(*Scheduler)

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithRecoveryInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.recoveryInterval = interval
		}
	}
}

// WithStallTimeout sets how long a pending or running execution may sit unchanged before recovery
// picks it up. It should comfortably exceed the longest action, retries included.
func WithStallTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.stallTimeout = timeout
		}
	}
}

func WithBatchSize(size int) Option {
	return func(s *Scheduler) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(logger *slog.Logger, queue DelayQueue, store DueStore, onDue OnDue, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:            queue,
		store:            store,
		onDue:            onDue,
		interval:         DefaultInterval,
		recoveryInterval: DefaultRecoveryInterval,
		stallTimeout:     DefaultStallTimeout,
		batchSize:        DefaultBatchSize,
		logger:           logger.With("module", "delay_scheduler"),
		now:              func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetOnDue replaces the due callback. It lets the engine and the scheduler reference each other.
func (s *Scheduler) SetOnDue(onDue OnDue) {
	s.onDue = onDue
}

// ScheduleResume registers a wake-up for the execution at resumeAt.
func (s *Scheduler) ScheduleResume(ctx context.Context, companyID, executionID string, resumeAt time.Time) error {
	return s.queue.Push(ctx, Due{CompanyID: companyID, ExecutionID: executionID, ResumeAt: resumeAt})
}

// Deregister drops a pending wake-up. It is not an error if none exists.
func (s *Scheduler) Deregister(ctx context.Context, companyID, executionID string) error {
	return s.queue.Remove(ctx, companyID, executionID)
}

// Run recovers due executions, then polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()

		return nil
	}

	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.InfoContext(ctx, "starting delay scheduler",
		"interval", s.interval,
		"recovery_interval", s.recoveryInterval)

	s.Recover(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	recovery := time.NewTicker(s.recoveryInterval)
	defer recovery.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "delay scheduler stopped")

			return nil
		case <-ticker.C:
			s.Tick(ctx)
		case <-recovery.C:
			s.Recover(ctx)
		}
	}
}

// Tick claims due entries from the queue and hands them to OnDue. It returns how many were
// handed over successfully.
func (s *Scheduler) Tick(ctx context.Context) int {
	due, err := s.queue.Claim(ctx, s.now(), s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim due executions", "error", err)
	}

	resumed := 0

	for _, entry := range due {
		if err := s.onDue(ctx, entry.CompanyID, entry.ExecutionID); err != nil {
			s.logger.WarnContext(ctx, "failed to resume execution, requeueing",
				"company_id", entry.CompanyID,
				"execution_id", entry.ExecutionID,
				"error", err)

			if pushErr := s.queue.Push(ctx, entry); pushErr != nil {
				s.logger.ErrorContext(ctx, "failed to requeue execution",
					"execution_id", entry.ExecutionID,
					"error", pushErr)
			}

			continue
		}

		resumed++
	}

	if resumed > 0 {
		s.logger.DebugContext(ctx, "resumed due executions", "count", resumed)
	}

	return resumed
}

// Recover hands two kinds of executions to OnDue, straight from the store: waiting_delay ones
// whose resume time passed, and pending or running ones that saw no write for the stall timeout.
// Failures are logged and retried on the next pass.
func (s *Scheduler) Recover(ctx context.Context) int {
	now := s.now()

	due, err := s.store.DueExecutions(ctx, now, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "recovery scan failed", "error", err)
	}

	stalled, err := s.store.StalledExecutions(ctx, now.Add(-s.stallTimeout), s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "stalled execution scan failed", "error", err)
	}

	if len(due)+len(stalled) == 0 {
		return 0
	}

	s.logger.InfoContext(ctx, "recovering executions", "due", len(due), "stalled", len(stalled))

	resumed := 0

	for _, execution := range append(due, stalled...) {
		if err := s.onDue(ctx, execution.CompanyID, execution.ID); err != nil {
			recoveryErr := &SchedulerRecoveryError{ExecutionID: execution.ID, Err: err}
			s.logger.ErrorContext(ctx, "failed to recover execution",
				"company_id", execution.CompanyID,
				"execution_id", execution.ID,
				"status", execution.Status,
				"error", recoveryErr)

			continue
		}

		if execution.Status == models.ExecutionWaitingDelay {
			// the queue entry, if any, is now stale
			_ = s.queue.Remove(ctx, execution.CompanyID, execution.ID)
		}

		resumed++
	}

	return resumed
}
