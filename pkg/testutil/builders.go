// Package testutil provides workflow builders and container helpers for tests.
package testutil

import (
	"fmt"

	"github.com/dukex/drip/pkg/models"
)

// Trigger creates a trigger node listening to event.
func Trigger(id string, event models.TriggerEvent) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:     id,
		Name:   "When " + string(event),
		Type:   models.NodeTypeTrigger,
		Config: map[string]any{"event": string(event)},
	}
}

// Action creates an action node of the given kind.
func Action(id string, kind models.ActionKind, config map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:     id,
		Name:   string(kind),
		Type:   models.NodeTypeAction,
		Kind:   string(kind),
		Config: config,
	}
}

// Condition creates a condition node of the given kind.
func Condition(id string, kind models.ConditionKind, config map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:     id,
		Name:   string(kind),
		Type:   models.NodeTypeCondition,
		Kind:   string(kind),
		Config: config,
	}
}

// Delay creates a delay node.
func Delay(id string, days, hours, minutes int) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:     id,
		Name:   "Wait",
		Type:   models.NodeTypeDelay,
		Config: map[string]any{"days": days, "hours": hours, "minutes": minutes},
	}
}

// Connect creates an unlabeled connection.
func Connect(from, to string) *models.Connection {
	return &models.Connection{ID: fmt.Sprintf("%s->%s", from, to), From: from, To: to}
}

// Branch creates a connection labeled with a condition branch.
func Branch(from, to string, branch models.Branch) *models.Connection {
	return &models.Connection{ID: fmt.Sprintf("%s-%s->%s", from, branch, to), From: from, To: to, Branch: branch}
}

// NewWorkflow creates an active workflow with the given graph.
func NewWorkflow(companyID, id string, nodes []*models.WorkflowNode, connections ...*models.Connection) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		CompanyID:   companyID,
		Name:        "Workflow " + id,
		Nodes:       nodes,
		Connections: connections,
		IsActive:    true,
	}
}

// WelcomeWorkflow is contact.created -> add_tag "New" -> delay 1 minute -> send_email "Welcome {{first_name}}".
func WelcomeWorkflow(companyID, id string) *models.Workflow {
	return NewWorkflow(companyID, id,
		[]*models.WorkflowNode{
			Trigger("trigger", models.EventContactCreated),
			Action("tag", models.ActionAddTag, map[string]any{"tagName": "New"}),
			Delay("wait", 0, 0, 1),
			Action("email", models.ActionSendEmail, map[string]any{"subject": "Welcome {{first_name}}", "htmlBody": "<p>Hi {{first_name}}</p>"}),
		},
		Connect("trigger", "tag"),
		Connect("tag", "wait"),
		Connect("wait", "email"),
	)
}

// VIPWorkflow routes contact.tag_added through has_tag "VIP" to notify_team (true) or send_sms (false).
func VIPWorkflow(companyID, id string) *models.Workflow {
	return NewWorkflow(companyID, id,
		[]*models.WorkflowNode{
			Trigger("trigger", models.EventContactTagAdded),
			Condition("vip", models.ConditionHasTag, map[string]any{"tagName": "VIP"}),
			Action("notify", models.ActionNotifyTeam, map[string]any{"message": "VIP {{first_name}} arrived", "channel": "sales"}),
			Action("sms", models.ActionSendSMS, map[string]any{"message": "Thanks {{first_name}}"}),
		},
		Connect("trigger", "vip"),
		Branch("vip", "notify", models.BranchTrue),
		Branch("vip", "sms", models.BranchFalse),
	)
}
