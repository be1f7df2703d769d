// Package models defines the core domain models for tenant-scoped workflow automation
package models

import "time"

// Workflow is a tenant-owned automation definition: a graph of typed nodes plus run statistics.
type Workflow struct {
	ID          string          `json:"id"`
	CompanyID   string          `json:"company_id"             validate:"required"`
	Name        string          `json:"name"                   validate:"required,min=3"`
	Description string          `json:"description"`
	Nodes       []*WorkflowNode `json:"nodes"                  validate:"dive"`
	Connections []*Connection   `json:"connections"            validate:"dive"`
	IsActive    bool            `json:"is_active"`
	Stats       WorkflowStats   `json:"stats"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WorkflowStats holds monotonically non-decreasing run counters.
type WorkflowStats struct {
	TotalRuns      int64 `json:"total_runs"`
	SuccessfulRuns int64 `json:"successful_runs"`
	FailedRuns     int64 `json:"failed_runs"`
}

// StatsDelta is an atomic increment applied to WorkflowStats.
type StatsDelta struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
}

// Apply adds the delta to the counters.
func (s *WorkflowStats) Apply(delta StatsDelta) {
	s.TotalRuns += delta.TotalRuns
	s.SuccessfulRuns += delta.SuccessfulRuns
	s.FailedRuns += delta.FailedRuns
}

// StatsView is the dashboard projection of a workflow's statistics.
type StatsView struct {
	WorkflowID       string `json:"workflow_id"`
	TotalRuns        int64  `json:"total_runs"`
	SuccessfulRuns   int64  `json:"successful_runs"`
	FailedRuns       int64  `json:"failed_runs"`
	ActiveExecutions int64  `json:"active_executions"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNode returns the first trigger node of the workflow, or nil when there is none.
func (w *Workflow) TriggerNode() *WorkflowNode {
	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			return node
		}
	}

	return nil
}

// OutgoingConnections returns the connections leaving the given node.
func (w *Workflow) OutgoingConnections(nodeID string) []*Connection {
	var connections []*Connection

	for _, conn := range w.Connections {
		if conn.From == nodeID {
			connections = append(connections, conn)
		}
	}

	return connections
}
