package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType is the variant tag of a WorkflowNode.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDelay     NodeType = "delay"
)

// Branch labels the outgoing edges of a condition node.
type Branch string

const (
	BranchNone  Branch = ""
	BranchTrue  Branch = "true"
	BranchFalse Branch = "false"
)

// BranchFor returns the branch label matching a condition result.
func BranchFor(result bool) Branch {
	if result {
		return BranchTrue
	}

	return BranchFalse
}

// Connection is a directed edge between two nodes of the same workflow.
type Connection struct {
	ID     string `json:"id"`
	From   string `json:"from"             validate:"required"`
	To     string `json:"to"               validate:"required"`
	Branch Branch `json:"branch,omitempty" validate:"omitempty,oneof=true false"`
}

// WorkflowNode is a node instance in a workflow. Type selects the variant; Kind selects the
// action or condition flavour; Config holds the variant payload, decoded on demand into the
// typed views below.
type WorkflowNode struct {
	ID     string         `json:"id"             validate:"required"`
	Name   string         `json:"name"`
	Type   NodeType       `json:"type"           validate:"required,oneof=trigger action condition delay"`
	Kind   string         `json:"kind,omitempty"`
	Config map[string]any `json:"config"`
}

func (n *WorkflowNode) IsTrigger() bool   { return n.Type == NodeTypeTrigger }
func (n *WorkflowNode) IsAction() bool    { return n.Type == NodeTypeAction }
func (n *WorkflowNode) IsCondition() bool { return n.Type == NodeTypeCondition }
func (n *WorkflowNode) IsDelay() bool     { return n.Type == NodeTypeDelay }

// DecodeConfig decodes the node config into the given typed view.
func (n *WorkflowNode) DecodeConfig(target any) error {
	raw, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config of node %s: %w", n.ID, err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode config of node %s: %w", n.ID, err)
	}

	return nil
}

// TriggerConfig is the payload of a trigger node.
type TriggerConfig struct {
	Event TriggerEvent `json:"event"`
}

// TriggerEvent returns the event the trigger node listens to, or "" for other node types.
func (n *WorkflowNode) TriggerEvent() TriggerEvent {
	if !n.IsTrigger() {
		return ""
	}

	var cfg TriggerConfig
	if err := n.DecodeConfig(&cfg); err != nil {
		return ""
	}

	return cfg.Event
}

// MaxDelayDays bounds each delay component and the combined delay, keeping resume times far from
// time.Duration overflow.
const MaxDelayDays = 3650

// MaxDelay is the longest delay a node may ask for.
const MaxDelay = MaxDelayDays * 24 * time.Hour

// DelayConfig is the payload of a delay node. Components are combined into one duration.
type DelayConfig struct {
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Duration returns the combined delay. Components must already be bounded; see DelayDuration.
func (d DelayConfig) Duration() time.Duration {
	return time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute
}

// DelayDuration decodes the node as a delay and returns its duration.
func (n *WorkflowNode) DelayDuration() (time.Duration, error) {
	var cfg DelayConfig
	if err := n.DecodeConfig(&cfg); err != nil {
		return 0, err
	}

	if cfg.Days < 0 || cfg.Hours < 0 || cfg.Minutes < 0 {
		return 0, fmt.Errorf("delay node %s has a negative component", n.ID)
	}

	if cfg.Days > MaxDelayDays || cfg.Hours > MaxDelayDays*24 || cfg.Minutes > MaxDelayDays*24*60 {
		return 0, fmt.Errorf("delay node %s has a component longer than %d days", n.ID, MaxDelayDays)
	}

	duration := cfg.Duration()
	if duration > MaxDelay {
		return 0, fmt.Errorf("delay node %s waits %s, longer than %d days", n.ID, duration, MaxDelayDays)
	}

	return duration, nil
}
