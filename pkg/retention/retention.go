// Package retention purges finished executions older than the retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "0 3 * * *"
	DefaultDays     = 30
)

// Store deletes terminal executions, with their action markers, completed before a time.
type Store interface {
	DeleteFinishedExecutions(ctx context.Context, before time.Time) (int64, error)
}

type Purger struct {
	store     Store
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPurger validates the cron schedule (standard five fields or a descriptor such as
// "@daily") and the retention window.
func NewPurger(logger *slog.Logger, store Store, schedule string, days int) (*Purger, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	if days <= 0 {
		return nil, errors.New("retention days must be positive")
	}

	return &Purger{
		store:     store,
		schedule:  schedule,
		retention: time.Duration(days) * 24 * time.Hour,
		logger:    logger.With("module", "retention"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Purge deletes every finished execution completed before now minus the retention window.
func (p *Purger) Purge(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)

	deleted, err := p.store.DeleteFinishedExecutions(ctx, cutoff)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to purge finished executions", "cutoff", cutoff, "error", err)

		return 0, err
	}

	p.logger.InfoContext(ctx, "purged finished executions", "deleted", deleted, "cutoff", cutoff)

	return deleted, nil
}

// Run purges on the schedule until ctx is done, then waits for a running purge to finish.
func (p *Purger) Run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn))

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	if _, err := c.AddFunc(p.schedule, func() {
		_, _ = p.Purge(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}

	p.logger.InfoContext(ctx, "retention purge scheduled", "schedule", p.schedule, "retention", p.retention)

	c.Start()
	<-ctx.Done()

	<-c.Stop().Done()

	return nil
}
