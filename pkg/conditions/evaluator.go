// Package conditions evaluates condition nodes against an execution context.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/drip/pkg/models"
)

// TagLookup answers tag checks for a subject from the CRM's tag store.
type TagLookup interface {
	HasTag(ctx context.Context, companyID, subjectID, tag string) (bool, error)
}

var errMissingValue = errors.New("required config value is empty")

// ConditionEvaluationError describes a condition that could not be evaluated. It is logged and
// the condition resolves to false.
type ConditionEvaluationError struct {
	NodeID string
	Kind   string
	Err    error
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition %s (%s) could not be evaluated: %v", e.NodeID, e.Kind, e.Err)
}

func (e *ConditionEvaluationError) Unwrap() error {
	return e.Err
}

// Evaluator resolves condition nodes to a boolean. It never returns an error: malformed or
// unknown conditions fail closed to false.
type Evaluator struct {
	tags   TagLookup
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. tags may be nil, in which case tag checks only consult the
// execution context.
func NewEvaluator(logger *slog.Logger, tags TagLookup) *Evaluator {
	return &Evaluator{
		tags:   tags,
		logger: logger.With("module", "condition_evaluator"),
	}
}

// Evaluate returns the branch result of the condition node for the given context.
func (e *Evaluator) Evaluate(ctx context.Context, node *models.WorkflowNode, execCtx map[string]string) bool {
	result, err := e.evaluate(ctx, node, execCtx)
	if err != nil {
		evalErr := &ConditionEvaluationError{NodeID: node.ID, Kind: node.Kind, Err: err}
		e.logger.WarnContext(ctx, "condition failed closed",
			"node_id", node.ID,
			"kind", node.Kind,
			"subject_id", execCtx[models.ContextSubjectID],
			"error", evalErr)

		return false
	}

	return result
}

func (e *Evaluator) evaluate(ctx context.Context, node *models.WorkflowNode, execCtx map[string]string) (bool, error) {
	if !node.IsCondition() {
		return false, fmt.Errorf("node type %s is not a condition", node.Type)
	}

	switch models.ConditionKind(node.Kind) {
	case models.ConditionHasTag:
		return e.hasTag(ctx, node, execCtx)
	case models.ConditionMissingTag:
		has, err := e.hasTag(ctx, node, execCtx)
		if err != nil {
			return false, err
		}

		return !has, nil
	case models.ConditionFieldEquals:
		var cfg models.FieldEqualsConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return false, err
		}

		if cfg.Field == "" {
			return false, fmt.Errorf("field: %w", errMissingValue)
		}

		value, ok := execCtx[cfg.Field]

		return ok && value == cfg.Value, nil
	case models.ConditionContactSourceIs:
		var cfg models.ContactSourceConfig
		if err := node.DecodeConfig(&cfg); err != nil {
			return false, err
		}

		if cfg.Source == "" {
			return false, fmt.Errorf("source: %w", errMissingValue)
		}

		return strings.EqualFold(strings.TrimSpace(execCtx[models.ContextSource]), cfg.Source), nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", node.Kind)
	}
}

func (e *Evaluator) hasTag(ctx context.Context, node *models.WorkflowNode, execCtx map[string]string) (bool, error) {
	var cfg models.TagConditionConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return false, err
	}

	if cfg.TagName == "" {
		return false, fmt.Errorf("tagName: %w", errMissingValue)
	}

	if models.HasContextTag(execCtx, cfg.TagName) {
		return true, nil
	}

	if e.tags == nil {
		return false, nil
	}

	has, err := e.tags.HasTag(ctx, execCtx[models.ContextCompanyID], execCtx[models.ContextSubjectID], cfg.TagName)
	if err != nil {
		return false, fmt.Errorf("tag lookup failed: %w", err)
	}

	return has, nil
}
