package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/go-playground/validator/v10"
)

// Validator checks workflow definitions. Save-time checks keep a draft structurally sound;
// activation-time checks additionally require an executable, acyclic graph with valid configs.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ValidateDraft runs the checks every saved workflow must pass, including empty ones.
func (v *Validator) ValidateDraft(workflow *models.Workflow) error {
	return v.result(workflow, v.draftIssues(workflow))
}

// ValidateForActivation runs every check required before a workflow may receive events.
func (v *Validator) ValidateForActivation(workflow *models.Workflow) error {
	issues := v.draftIssues(workflow)

	// struct errors make the graph checks below unreliable
	if len(issues) > 0 {
		return v.result(workflow, issues)
	}

	graph := NewGraph(workflow)

	issues = append(issues, structureIssues(workflow, graph)...)
	issues = append(issues, connectionIssues(workflow, graph)...)
	issues = append(issues, configIssues(workflow)...)

	if cycle := graph.FindCycle(); cycle != nil {
		issues = append(issues, Issue{
			Code:    IssueCycle,
			NodeID:  cycle[0],
			Message: "cycle detected: " + strings.Join(cycle, " -> "),
		})
	}

	return v.result(workflow, issues)
}

func (v *Validator) result(workflow *models.Workflow, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}

	return &ValidationError{WorkflowID: workflow.ID, Issues: issues}
}

func (v *Validator) draftIssues(workflow *models.Workflow) []Issue {
	var issues []Issue

	if err := v.validate.Struct(workflow); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return []Issue{{Code: IssueInvalidField, Message: err.Error()}}
		}

		for _, fieldErr := range validationErrors {
			issues = append(issues, Issue{
				Code:    IssueInvalidField,
				Message: fmt.Sprintf("%s failed on the '%s' rule", fieldErr.Namespace(), fieldErr.Tag()),
			})
		}
	}

	seen := make(map[string]bool, len(workflow.Nodes))
	triggers := 0

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		if seen[node.ID] {
			issues = append(issues, Issue{Code: IssueDuplicateNode, NodeID: node.ID, Message: "node id is used more than once"})
		}

		seen[node.ID] = true

		if node.IsTrigger() {
			triggers++
		}

		if node.IsAction() && node.Kind == string(models.ActionSendSMS) {
			var cfg models.SendSMSConfig
			if err := node.DecodeConfig(&cfg); err == nil && len([]rune(cfg.Message)) > 160 {
				issues = append(issues, Issue{Code: IssueInvalidConfig, NodeID: node.ID, Message: "sms message exceeds 160 characters"})
			}
		}
	}

	if triggers > 1 {
		issues = append(issues, Issue{Code: IssueMultipleTriggers, Message: fmt.Sprintf("workflow has %d trigger nodes, at most one is allowed", triggers)})
	}

	return issues
}

func structureIssues(workflow *models.Workflow, graph *Graph) []Issue {
	var issues []Issue

	if graph.Trigger() == nil {
		issues = append(issues, Issue{Code: IssueNoTrigger, Message: "workflow has no trigger node"})
	}

	hasAction := false

	for _, node := range workflow.Nodes {
		if node.IsAction() {
			hasAction = true

			break
		}
	}

	if !hasAction {
		issues = append(issues, Issue{Code: IssueNoAction, Message: "workflow has no action node"})
	}

	return issues
}

func connectionIssues(workflow *models.Workflow, graph *Graph) []Issue {
	var issues []Issue

	for _, conn := range workflow.Connections {
		from, fromOK := graph.Node(conn.From)
		to, toOK := graph.Node(conn.To)

		if !fromOK {
			issues = append(issues, Issue{Code: IssueDanglingConnection, ConnectionID: conn.ID, Message: "source node " + conn.From + " does not exist"})
		}

		if !toOK {
			issues = append(issues, Issue{Code: IssueDanglingConnection, ConnectionID: conn.ID, Message: "target node " + conn.To + " does not exist"})
		}

		if toOK && to.IsTrigger() {
			issues = append(issues, Issue{Code: IssueInvalidConnection, ConnectionID: conn.ID, Message: "the trigger node cannot be a connection target"})
		}

		if fromOK && !from.IsCondition() && conn.Branch != models.BranchNone {
			issues = append(issues, Issue{Code: IssueInvalidBranch, ConnectionID: conn.ID, Message: "only condition nodes may have labeled edges"})
		}

		if fromOK && from.IsCondition() && conn.Branch == models.BranchNone {
			issues = append(issues, Issue{Code: IssueInvalidBranch, ConnectionID: conn.ID, Message: "condition edges must be labeled true or false"})
		}
	}

	for _, node := range workflow.Nodes {
		outgoing := graph.Outgoing(node.ID)

		if !node.IsCondition() {
			if len(outgoing) > 1 {
				issues = append(issues, Issue{Code: IssueTooManyOutgoing, NodeID: node.ID, Message: fmt.Sprintf("%s nodes have at most one outgoing connection", node.Type)})
			}

			continue
		}

		branches := map[models.Branch]int{}
		for _, conn := range outgoing {
			branches[conn.Branch]++
		}

		for _, branch := range []models.Branch{models.BranchTrue, models.BranchFalse} {
			if branches[branch] > 1 {
				issues = append(issues, Issue{Code: IssueTooManyOutgoing, NodeID: node.ID, Message: fmt.Sprintf("condition has %d '%s' edges", branches[branch], branch)})
			}
		}
	}

	return issues
}

func configIssues(workflow *models.Workflow) []Issue {
	var issues []Issue

	for _, node := range workflow.Nodes {
		key, ok := schemaKey(node)
		if !ok {
			issues = append(issues, Issue{Code: IssueUnknownKind, NodeID: node.ID, Message: fmt.Sprintf("unknown %s kind '%s'", node.Type, node.Kind)})

			continue
		}

		failures, err := validateConfig(key, node.Config)
		if err != nil {
			issues = append(issues, Issue{Code: IssueInvalidConfig, NodeID: node.ID, Message: err.Error()})

			continue
		}

		if len(failures) > 0 {
			issues = append(issues, Issue{Code: IssueInvalidConfig, NodeID: node.ID, Message: joinFailures(failures)})
		}
	}

	return issues
}
