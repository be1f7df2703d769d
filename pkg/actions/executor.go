// Package actions executes action nodes against external collaborators with retries and
// durable idempotency markers.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryPolicy is the backoff applied to transient failures. MaxRetries counts retries, so a
// handler runs at most MaxRetries+1 times.
type RetryPolicy struct {
	Initial    time.Duration
	Factor     int
	MaxRetries int
}

// DefaultRetryPolicy retries three times after 1s, 4s and 16s.
var DefaultRetryPolicy = RetryPolicy{
	Initial:    time.Second,
	Factor:     4,
	MaxRetries: 3,
}

func (p RetryPolicy) backoff() retry.Backoff {
	next := p.Initial

	factor := time.Duration(p.Factor)
	if factor < 1 {
		factor = 1
	}

	return retry.WithMaxRetries(uint64(max(p.MaxRetries, 0)), retry.BackoffFunc(func() (time.Duration, bool) {
		current := next
		next *= factor

		return current, false
	}))
}

// IdempotencyKey is the stable key of an action invocation.
func IdempotencyKey(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}

// Executor dispatches action nodes to their handlers.
type Executor struct {
	handlers map[models.ActionKind]Handler
	markers  persistence.ActionMarkerStore
	policy   RetryPolicy
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Executor)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Executor) { e.policy = policy }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithHandler registers or replaces the handler of an action kind.
func WithHandler(kind models.ActionKind, handler Handler) Option {
	return func(e *Executor) { e.handlers[kind] = handler }
}

func NewExecutor(logger *slog.Logger, markers persistence.ActionMarkerStore, collaborators Collaborators, opts ...Option) *Executor {
	executor := &Executor{
		handlers: builtinHandlers(collaborators),
		markers:  markers,
		policy:   DefaultRetryPolicy,
		logger:   logger.With("module", "action_executor"),
		tracer:   otelhelper.NoopTracer(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs the action node for the execution and returns the updated context. A node that
// already has a marker for this execution is not run again: the recorded output is reused.
func (e *Executor) Execute(ctx context.Context, node *models.WorkflowNode, execution *models.WorkflowExecution) (map[string]string, error) {
	kind := models.ActionKind(node.Kind)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "action.execute",
		attribute.String(otelhelper.CompanyIDKey, execution.CompanyID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.ActionKindKey, node.Kind),
	)
	defer span.End()

	logger := e.logger.With("execution_id", execution.ID, "node_id", node.ID, "kind", node.Kind)

	marker, err := e.markers.ActionMarker(ctx, execution.ID, node.ID)
	switch {
	case err == nil:
		logger.InfoContext(ctx, "action already executed, reusing recorded output", "attempts", marker.Attempts)
		span.SetAttributes(attribute.Bool("drip.action.replayed", true))

		return merge(execution.Context, marker.Output), nil
	case !errors.Is(err, persistence.ErrMarkerNotFound):
		markerErr := &TransientActionError{Kind: kind, NodeID: node.ID, Err: fmt.Errorf("failed to read action marker: %w", err)}
		otelhelper.SetError(span, markerErr)

		return nil, markerErr
	}

	handler, ok := e.handlers[kind]
	if !ok {
		permanentErr := &PermanentActionError{Kind: kind, NodeID: node.ID, Err: fmt.Errorf("%w: %q", ErrNoHandler, node.Kind)}
		otelhelper.SetError(span, permanentErr)

		return nil, permanentErr
	}

	origin := Origin{
		IdempotencyKey: IdempotencyKey(execution.ID, node.ID),
		CompanyID:      execution.CompanyID,
		WorkflowID:     execution.WorkflowID,
		ExecutionID:    execution.ID,
		NodeID:         node.ID,
		SubjectID:      execution.ContactID,
	}

	var (
		attempts int
		output   map[string]string
	)

	err = retry.Do(ctx, e.policy.backoff(), func(ctx context.Context) error {
		attempts++

		result, err := handler.Handle(ctx, Call{
			Node:      node,
			Execution: execution,
			Origin:    origin,
			Attempt:   attempts,
			Now:       e.now(),
		})
		if err == nil {
			output = result

			return nil
		}

		if isMarkedPermanent(err) {
			return err
		}

		logger.WarnContext(ctx, "action attempt failed", "attempt", attempts, "error", err)

		return retry.RetryableError(err)
	})

	span.SetAttributes(attribute.Int(otelhelper.AttemptKey, attempts))

	if err != nil {
		var actionErr error
		if isMarkedPermanent(err) {
			actionErr = &PermanentActionError{Kind: kind, NodeID: node.ID, Attempt: attempts, Err: err}
		} else {
			actionErr = &TransientActionError{Kind: kind, NodeID: node.ID, Attempt: attempts, Err: err}
		}

		logger.ErrorContext(ctx, "action failed", "attempts", attempts, "error", actionErr)
		otelhelper.SetError(span, actionErr)

		return nil, actionErr
	}

	if err := e.markers.SaveActionMarker(ctx, &models.ActionMarker{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		Kind:        kind,
		Attempts:    attempts,
		Output:      output,
		CompletedAt: e.now().UTC(),
	}); err != nil {
		// the side effect happened; a replay may repeat it, the collaborator's idempotency key covers that
		logger.ErrorContext(ctx, "failed to record action marker", "error", err)
	}

	otelhelper.SetOK(span)
	logger.DebugContext(ctx, "action executed", "attempts", attempts)

	return merge(execution.Context, output), nil
}

func merge(base, output map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(output))
	maps.Copy(merged, base)
	maps.Copy(merged, output)

	return merged
}
