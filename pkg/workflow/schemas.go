package workflow

import (
	"fmt"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Config schemas keyed by "trigger", "delay" or the action/condition kind. Unknown keys are allowed.
var configSchemas = map[string]string{
	"trigger": `{
		"type": "object",
		"required": ["event"],
		"properties": {
			"event": {"enum": ["contact.created", "form.submitted", "contact.tag_added", "deal.stage_changed", "deal.won", "appointment.scheduled", "manual"]}
		}
	}`,
	"delay": `{
		"type": "object",
		"properties": {
			"days": {"type": "integer", "minimum": 0, "maximum": 3650},
			"hours": {"type": "integer", "minimum": 0, "maximum": 87600},
			"minutes": {"type": "integer", "minimum": 0, "maximum": 5256000}
		}
	}`,
	string(models.ActionSendEmail): `{
		"type": "object",
		"required": ["subject", "htmlBody"],
		"properties": {
			"subject": {"type": "string", "minLength": 1},
			"htmlBody": {"type": "string", "minLength": 1}
		}
	}`,
	string(models.ActionSendSMS): `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"message": {"type": "string", "minLength": 1, "maxLength": 160}
		}
	}`,
	string(models.ActionSendWhatsApp): `{
		"type": "object",
		"required": ["templateName", "parameters"],
		"properties": {
			"templateName": {"type": "string", "minLength": 1},
			"parameters": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	string(models.ActionAddTag):    tagSchema,
	string(models.ActionRemoveTag): tagSchema,
	string(models.ActionCreateTask): `{
		"type": "object",
		"required": ["taskTitle", "dueInDays"],
		"properties": {
			"taskTitle": {"type": "string", "minLength": 1},
			"dueInDays": {"type": "integer", "minimum": 0}
		}
	}`,
	string(models.ActionNotifyTeam): `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"message": {"type": "string", "minLength": 1},
			"channel": {"type": "string"}
		}
	}`,
	string(models.ActionWebhook): `{
		"type": "object",
		"required": ["url", "method"],
		"properties": {
			"url": {"type": "string", "pattern": "^https?://"},
			"method": {"enum": ["POST", "GET"]},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`,
	string(models.ConditionHasTag):     tagSchema,
	string(models.ConditionMissingTag): tagSchema,
	string(models.ConditionFieldEquals): `{
		"type": "object",
		"required": ["field", "value"],
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"value": {"type": "string"}
		}
	}`,
	string(models.ConditionContactSourceIs): `{
		"type": "object",
		"required": ["source"],
		"properties": {
			"source": {"type": "string", "minLength": 1}
		}
	}`,
}

const tagSchema = `{
	"type": "object",
	"required": ["tagName"],
	"properties": {
		"tagName": {"type": "string", "minLength": 1}
	}
}`

var compiledSchemas = mustCompileSchemas(configSchemas)

func mustCompileSchemas(sources map[string]string) map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, len(sources))

	for key, source := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			panic(fmt.Sprintf("invalid %s config schema: %v", key, err))
		}

		compiled[key] = schema
	}

	return compiled
}

// schemaKey returns the schema used for the node, and false for an unknown action or condition kind.
func schemaKey(node *models.WorkflowNode) (string, bool) {
	var key string

	switch node.Type {
	case models.NodeTypeTrigger, models.NodeTypeDelay:
		key = string(node.Type)
	case models.NodeTypeAction:
		key = node.Kind
		if !isActionKind(key) {
			return key, false
		}
	case models.NodeTypeCondition:
		key = node.Kind
		if !isConditionKind(key) {
			return key, false
		}
	default:
		return "", false
	}

	_, ok := compiledSchemas[key]

	return key, ok
}

// validateConfig checks the node config against its schema and returns the failures as text.
func validateConfig(key string, config map[string]any) ([]string, error) {
	if config == nil {
		config = map[string]any{}
	}

	result, err := compiledSchemas[key].Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s config: %w", key, err)
	}

	if result.Valid() {
		return nil, nil
	}

	failures := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		failures = append(failures, resultErr.String())
	}

	return failures, nil
}

func isActionKind(kind string) bool {
	for _, known := range models.ActionKinds {
		if string(known) == kind {
			return true
		}
	}

	return false
}

func isConditionKind(kind string) bool {
	for _, known := range models.ConditionKinds {
		if string(known) == kind {
			return true
		}
	}

	return false
}

func joinFailures(failures []string) string {
	return strings.Join(failures, "; ")
}
