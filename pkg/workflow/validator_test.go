package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/dukex/drip/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func welcomeWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:        "wf-1",
		CompanyID: "company-1",
		Name:      "Welcome series",
		Nodes: []*models.WorkflowNode{
			{ID: "trigger", Type: models.NodeTypeTrigger, Config: map[string]any{"event": "contact.created"}},
			{ID: "tag", Type: models.NodeTypeAction, Kind: "add_tag", Config: map[string]any{"tagName": "New"}},
			{ID: "wait", Type: models.NodeTypeDelay, Config: map[string]any{"minutes": 1}},
			{ID: "email", Type: models.NodeTypeAction, Kind: "send_email", Config: map[string]any{"subject": "Welcome {{first_name}}", "htmlBody": "<p>Hi</p>"}},
		},
		Connections: []*models.Connection{
			{ID: "c1", From: "trigger", To: "tag"},
			{ID: "c2", From: "tag", To: "wait"},
			{ID: "c3", From: "wait", To: "email"},
		},
	}
}

func branchingWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:        "wf-2",
		CompanyID: "company-1",
		Name:      "VIP routing",
		Nodes: []*models.WorkflowNode{
			{ID: "trigger", Type: models.NodeTypeTrigger, Config: map[string]any{"event": "deal.won"}},
			{ID: "vip", Type: models.NodeTypeCondition, Kind: "has_tag", Config: map[string]any{"tagName": "VIP"}},
			{ID: "a", Type: models.NodeTypeAction, Kind: "notify_team", Config: map[string]any{"message": "VIP deal"}},
			{ID: "b", Type: models.NodeTypeAction, Kind: "send_sms", Config: map[string]any{"message": "Thanks!"}},
		},
		Connections: []*models.Connection{
			{ID: "c1", From: "trigger", To: "vip"},
			{ID: "c2", From: "vip", To: "a", Branch: models.BranchTrue},
			{ID: "c3", From: "vip", To: "b", Branch: models.BranchFalse},
		},
	}
}

func requireIssue(t *testing.T, err error, code string) {
	t.Helper()

	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.True(t, validationErr.HasIssue(code), "expected issue %s in %v", code, validationErr.Issues)
}

func TestValidateForActivation_ValidWorkflows(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateForActivation(welcomeWorkflow()))
	assert.NoError(t, v.ValidateForActivation(branchingWorkflow()))
}

func TestValidateDraft_AllowsEmptyWorkflow(t *testing.T) {
	v := NewValidator()
	workflow := &models.Workflow{CompanyID: "company-1", Name: "Draft"}

	assert.NoError(t, v.ValidateDraft(workflow))
	requireIssue(t, v.ValidateForActivation(workflow), IssueNoTrigger)
	requireIssue(t, v.ValidateForActivation(workflow), IssueNoAction)
}

func TestValidateDraft_RejectsSecondTrigger(t *testing.T) {
	workflow := welcomeWorkflow()
	workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{ID: "t2", Type: models.NodeTypeTrigger, Config: map[string]any{"event": "deal.won"}})

	requireIssue(t, NewValidator().ValidateDraft(workflow), IssueMultipleTriggers)
}

func TestValidateDraft_RejectsLongSMS(t *testing.T) {
	workflow := branchingWorkflow()
	workflow.NodeByID("b").Config["message"] = strings.Repeat("x", 161)

	requireIssue(t, NewValidator().ValidateDraft(workflow), IssueInvalidConfig)
}

func TestValidateDraft_StructErrors(t *testing.T) {
	workflow := welcomeWorkflow()
	workflow.Name = "ab"

	requireIssue(t, NewValidator().ValidateDraft(workflow), IssueInvalidField)
}

func TestValidateForActivation_Issues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *models.Workflow)
		code   string
	}{
		{
			name: "no action",
			mutate: func(w *models.Workflow) {
				w.Nodes = w.Nodes[:1]
				w.Connections = nil
			},
			code: IssueNoAction,
		},
		{
			name: "dangling connection",
			mutate: func(w *models.Workflow) {
				w.Connections = append(w.Connections, &models.Connection{ID: "c9", From: "email", To: "ghost"})
			},
			code: IssueDanglingConnection,
		},
		{
			name: "cycle",
			mutate: func(w *models.Workflow) {
				w.Connections = append(w.Connections, &models.Connection{ID: "c4", From: "email", To: "tag"})
			},
			code: IssueCycle,
		},
		{
			name: "self loop",
			mutate: func(w *models.Workflow) {
				w.Connections[2].To = "wait"
			},
			code: IssueCycle,
		},
		{
			name: "edge into trigger",
			mutate: func(w *models.Workflow) {
				w.Connections = append(w.Connections, &models.Connection{ID: "c4", From: "email", To: "trigger"})
			},
			code: IssueInvalidConnection,
		},
		{
			name: "unknown action kind",
			mutate: func(w *models.Workflow) {
				w.NodeByID("tag").Kind = "send_fax"
			},
			code: IssueUnknownKind,
		},
		{
			name: "missing required config",
			mutate: func(w *models.Workflow) {
				w.NodeByID("email").Config = map[string]any{"subject": "Hi"}
			},
			code: IssueInvalidConfig,
		},
		{
			name: "unknown trigger event",
			mutate: func(w *models.Workflow) {
				w.NodeByID("trigger").Config["event"] = "deal.lost"
			},
			code: IssueInvalidConfig,
		},
		{
			name: "negative delay",
			mutate: func(w *models.Workflow) {
				w.NodeByID("wait").Config["minutes"] = -5
			},
			code: IssueInvalidConfig,
		},
		{
			name: "delay beyond ten years",
			mutate: func(w *models.Workflow) {
				w.NodeByID("wait").Config["days"] = 200000
			},
			code: IssueInvalidConfig,
		},
		{
			name: "whatsapp without parameters",
			mutate: func(w *models.Workflow) {
				w.NodeByID("email").Kind = "send_whatsapp"
				w.NodeByID("email").Config = map[string]any{"templateName": "welcome"}
			},
			code: IssueInvalidConfig,
		},
		{
			name: "labeled edge from action",
			mutate: func(w *models.Workflow) {
				w.Connections[1].Branch = models.BranchTrue
			},
			code: IssueInvalidBranch,
		},
		{
			name: "fan out from action",
			mutate: func(w *models.Workflow) {
				w.Connections = append(w.Connections, &models.Connection{ID: "c4", From: "tag", To: "email"})
			},
			code: IssueTooManyOutgoing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := welcomeWorkflow()
			tt.mutate(workflow)

			requireIssue(t, NewValidator().ValidateForActivation(workflow), tt.code)
		})
	}
}

func TestValidateForActivation_ConditionEdgesMustBeLabeled(t *testing.T) {
	workflow := branchingWorkflow()
	workflow.Connections[1].Branch = models.BranchNone

	requireIssue(t, NewValidator().ValidateForActivation(workflow), IssueInvalidBranch)
}

func TestValidateForActivation_WebhookConfig(t *testing.T) {
	workflow := welcomeWorkflow()
	workflow.NodeByID("email").Kind = "webhook"
	workflow.NodeByID("email").Config = map[string]any{"url": "ftp://example.com", "method": "DELETE"}

	err := NewValidator().ValidateForActivation(workflow)
	requireIssue(t, err, IssueInvalidConfig)
	assert.Contains(t, err.Error(), "node email")

	workflow.NodeByID("email").Config = map[string]any{"url": "https://example.com/hook", "method": "POST"}
	assert.NoError(t, NewValidator().ValidateForActivation(workflow))
}
