package workflow

import (
	"strings"
	"testing"

	"github.com/dukex/drip/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Navigation(t *testing.T) {
	graph := NewGraph(branchingWorkflow())

	require.NotNil(t, graph.Trigger())
	assert.Equal(t, "trigger", graph.Trigger().ID)

	next, ok := graph.Next("trigger")
	require.True(t, ok)
	assert.Equal(t, "vip", next.To)

	yes, ok := graph.Branch("vip", models.BranchTrue)
	require.True(t, ok)
	assert.Equal(t, "a", yes.To)

	no, ok := graph.Branch("vip", models.BranchFalse)
	require.True(t, ok)
	assert.Equal(t, "b", no.To)

	_, ok = graph.Next("a")
	assert.False(t, ok)

	_, ok = graph.Node("missing")
	assert.False(t, ok)
}

func TestGraph_FindCycle(t *testing.T) {
	workflow := welcomeWorkflow()
	assert.Nil(t, NewGraph(workflow).FindCycle())

	workflow.Connections = append(workflow.Connections, &models.Connection{ID: "back", From: "email", To: "tag"})

	cycle := NewGraph(workflow).FindCycle()
	assert.Equal(t, []string{"tag", "wait", "email", "tag"}, cycle)
}

func TestGraph_DiamondIsNotACycle(t *testing.T) {
	workflow := branchingWorkflow()
	workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{ID: "end", Type: models.NodeTypeAction, Kind: "add_tag", Config: map[string]any{"tagName": "Done"}})
	workflow.Connections = append(workflow.Connections,
		&models.Connection{ID: "c4", From: "a", To: "end"},
		&models.Connection{ID: "c5", From: "b", To: "end"},
	)

	assert.Nil(t, NewGraph(workflow).FindCycle())
	assert.NoError(t, NewValidator().ValidateForActivation(workflow))
}

func TestLoadDefinitions(t *testing.T) {
	workflows, err := LoadDefinitions("testdata/welcome.yaml", "company-1")
	require.NoError(t, err)
	require.Len(t, workflows, 1)

	workflow := workflows[0]
	assert.Equal(t, "welcome-series", workflow.ID)
	assert.Equal(t, "company-1", workflow.CompanyID)
	assert.True(t, workflow.IsActive)
	assert.Len(t, workflow.Nodes, 4)
	assert.Len(t, workflow.Connections, 3)

	for _, conn := range workflow.Connections {
		assert.NotEmpty(t, conn.ID)
	}

	assert.Equal(t, models.EventContactCreated, workflow.TriggerNode().TriggerEvent())

	duration, err := workflow.NodeByID("wait").DelayDuration()
	require.NoError(t, err)
	assert.Equal(t, "1m0s", duration.String())

	assert.NoError(t, NewValidator().ValidateForActivation(workflow))
}

func TestParseDefinitions_Errors(t *testing.T) {
	_, err := ParseDefinitions(strings.NewReader("workflows: []"), "company-1")
	assert.Error(t, err)

	_, err = ParseDefinitions(strings.NewReader("workflows:\n  - description: nameless\n"), "company-1")
	assert.ErrorContains(t, err, "name is required")

	_, err = ParseDefinitions(strings.NewReader("workflows: ["), "company-1")
	assert.Error(t, err)
}

func TestParseDefinitions_NestedConfig(t *testing.T) {
	definition := `
workflows:
  - name: Hook
    nodes:
      - id: trigger
        type: trigger
        config:
          event: manual
      - id: hook
        type: action
        kind: webhook
        config:
          url: https://example.com/hook
          method: POST
          headers:
            X-Token: secret
    connections:
      - from: trigger
        to: hook
`

	workflows, err := ParseDefinitions(strings.NewReader(definition), "company-1")
	require.NoError(t, err)

	var cfg models.WebhookConfig
	require.NoError(t, workflows[0].NodeByID("hook").DecodeConfig(&cfg))
	assert.Equal(t, "secret", cfg.Headers["X-Token"])
	assert.NoError(t, NewValidator().ValidateForActivation(workflows[0]))
}
