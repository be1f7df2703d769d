// Package workflow provides the node graph view of a workflow definition, activation validation
// and YAML definition loading.
package workflow

import (
	"github.com/dukex/drip/pkg/models"
)

// Graph is an arena of nodes indexed by id plus the outgoing adjacency of every node.
type Graph struct {
	nodes    map[string]*models.WorkflowNode
	outgoing map[string][]*models.Connection
	trigger  *models.WorkflowNode
	triggers int
}

// NewGraph indexes the workflow. Connections are kept in definition order.
func NewGraph(workflow *models.Workflow) *Graph {
	graph := &Graph{
		nodes:    make(map[string]*models.WorkflowNode, len(workflow.Nodes)),
		outgoing: make(map[string][]*models.Connection, len(workflow.Nodes)),
	}

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		graph.nodes[node.ID] = node

		if node.IsTrigger() {
			graph.triggers++

			if graph.trigger == nil {
				graph.trigger = node
			}
		}
	}

	for _, conn := range workflow.Connections {
		if conn == nil {
			continue
		}

		graph.outgoing[conn.From] = append(graph.outgoing[conn.From], conn)
	}

	return graph
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*models.WorkflowNode, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

// Trigger returns the entry node, or nil when the workflow has none.
func (g *Graph) Trigger() *models.WorkflowNode {
	return g.trigger
}

// Outgoing returns the connections leaving the node.
func (g *Graph) Outgoing(nodeID string) []*models.Connection {
	return g.outgoing[nodeID]
}

// Next returns the single unlabeled edge leaving a trigger, action or delay node.
func (g *Graph) Next(nodeID string) (*models.Connection, bool) {
	for _, conn := range g.outgoing[nodeID] {
		if conn.Branch == models.BranchNone {
			return conn, true
		}
	}

	return nil, false
}

// Branch returns the edge of a condition node labeled with the given branch.
func (g *Graph) Branch(nodeID string, branch models.Branch) (*models.Connection, bool) {
	for _, conn := range g.outgoing[nodeID] {
		if conn.Branch == branch {
			return conn, true
		}
	}

	return nil, false
}

// FindCycle runs a depth-first search from the trigger node and returns the node ids of the first
// cycle found, closing on the repeated node, or nil when the reachable graph is acyclic.
func (g *Graph) FindCycle() []string {
	if g.trigger == nil {
		return nil
	}

	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(g.nodes))
	path := make([]string, 0, len(g.nodes))

	var visit func(id string) []string

	visit = func(id string) []string {
		state[id] = inProgress
		path = append(path, id)

		for _, conn := range g.outgoing[id] {
			switch state[conn.To] {
			case inProgress:
				for i, onPath := range path {
					if onPath == conn.To {
						cycle := append([]string{}, path[i:]...)

						return append(cycle, conn.To)
					}
				}
			case unvisited:
				if _, ok := g.nodes[conn.To]; !ok {
					continue
				}

				if cycle := visit(conn.To); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done

		return nil
	}

	return visit(g.trigger.ID)
}
