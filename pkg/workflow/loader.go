package workflow

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/drip/pkg/models"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefinitionFile is the YAML layout accepted by `drip import`. One file may hold several workflows.
type DefinitionFile struct {
	Workflows []DefinitionWorkflow `yaml:"workflows"`
}

// DefinitionWorkflow is one workflow in a definition file.
type DefinitionWorkflow struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Active      bool               `yaml:"active"`
	Nodes       []DefinitionNode   `yaml:"nodes"`
	Connections []DefinitionTarget `yaml:"connections"`
}

type DefinitionNode struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config"`
}

type DefinitionTarget struct {
	ID     string `yaml:"id"`
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Branch string `yaml:"branch"`
}

// LoadDefinitions reads a YAML definition file and converts it to company-owned workflows.
func LoadDefinitions(path, companyID string) ([]*models.Workflow, error) {
	file, err := os.Open(path) // #nosec G304 -- path is an operator supplied CLI argument
	if err != nil {
		return nil, fmt.Errorf("failed to open definition file %s: %w", path, err)
	}
	defer file.Close()

	return ParseDefinitions(file, companyID)
}

// ParseDefinitions decodes YAML definitions from r.
func ParseDefinitions(r io.Reader, companyID string) ([]*models.Workflow, error) {
	var definitionFile DefinitionFile
	if err := yaml.NewDecoder(r).Decode(&definitionFile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML definitions: %w", err)
	}

	if len(definitionFile.Workflows) == 0 {
		return nil, errors.New("definition file contains no workflows")
	}

	workflows := make([]*models.Workflow, 0, len(definitionFile.Workflows))

	for i, definition := range definitionFile.Workflows {
		if definition.Name == "" {
			return nil, fmt.Errorf("workflows[%d]: name is required", i)
		}

		workflow := &models.Workflow{
			ID:          definition.ID,
			CompanyID:   companyID,
			Name:        definition.Name,
			Description: definition.Description,
			IsActive:    definition.Active,
			Nodes:       make([]*models.WorkflowNode, 0, len(definition.Nodes)),
			Connections: make([]*models.Connection, 0, len(definition.Connections)),
		}

		for _, node := range definition.Nodes {
			workflow.Nodes = append(workflow.Nodes, &models.WorkflowNode{
				ID:     node.ID,
				Name:   node.Name,
				Type:   models.NodeType(node.Type),
				Kind:   node.Kind,
				Config: normalize(node.Config),
			})
		}

		for _, conn := range definition.Connections {
			id := conn.ID
			if id == "" {
				id = uuid.NewString()
			}

			workflow.Connections = append(workflow.Connections, &models.Connection{
				ID:     id,
				From:   conn.From,
				To:     conn.To,
				Branch: models.Branch(conn.Branch),
			})
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// normalize converts the map[string]any/[]any trees yaml.v3 produces so they round trip through JSON.
func normalize(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	out := make(map[string]any, len(config))
	for key, value := range config {
		out[key] = normalizeValue(value)
	}

	return out
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalize(typed)
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			out[fmt.Sprint(key)] = normalizeValue(inner)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = normalizeValue(inner)
		}

		return out
	default:
		return value
	}
}
