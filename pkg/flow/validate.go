package flow

import (
	"fmt"

	"github.com/flywheelhq/flywheel/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// nodeConfigSchemas holds the JSON schema each node type's config must
// satisfy before a flow may be saved. Runtime decoding is lenient; this is
// the strict gate at the editing boundary.
var nodeConfigSchemas = map[models.NodeType]*gojsonschema.Schema{}

func init() {
	raw := map[models.NodeType]map[string]any{
		models.NodeTrigger: {
			"type": "object",
			"properties": map[string]any{
				"event_name":   map[string]any{"type": "string"},
				"lifecycle_to": map[string]any{"type": "string"},
				"segment_id":   map[string]any{"type": "string"},
			},
		},
		models.NodeAction: {
			"type":     "object",
			"required": []any{"kind"},
			"properties": map[string]any{
				"kind": map[string]any{
					"type": "string",
					"enum": []any{
						"send_email", "send_webhook", "update_user", "add_tag",
						"remove_tag", "set_variable", "api_call", "create_task",
						"send_notification",
					},
				},
			},
		},
		models.NodeCondition: {
			"type":     "object",
			"required": []any{"rules"},
			"properties": map[string]any{
				"rules":        map[string]any{"type": "array"},
				"filter_logic": map[string]any{"type": "string"},
			},
		},
		models.NodeDelay: {
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{
					"type": "string",
					"enum": []any{"fixed", "until_time", "until_date", "until_event", "smart_send"},
				},
				"duration_minutes": map[string]any{"type": "integer", "minimum": 0},
			},
		},
		models.NodeSplit: {
			"type":     "object",
			"required": []any{"variants"},
			"properties": map[string]any{
				"variants": map[string]any{"type": "array", "minItems": 2},
			},
		},
		models.NodeFilter: {
			"type":     "object",
			"required": []any{"rules"},
			"properties": map[string]any{
				"rules": map[string]any{"type": "array"},
			},
		},
		models.NodeGoto: {
			"type":     "object",
			"required": []any{"target_node_id"},
			"properties": map[string]any{
				"target_node_id": map[string]any{"type": "string", "minLength": 1},
				"max_loops":      map[string]any{"type": "integer", "minimum": 1},
			},
		},
		models.NodeExit: {
			"type": "object",
		},
	}

	for nodeType, schema := range raw {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			panic(fmt.Sprintf("invalid built-in schema for node type %s: %v", nodeType, err))
		}

		nodeConfigSchemas[nodeType] = compiled
	}
}

// ValidateDefinition checks graph integrity and per-node config schemas.
// Returns all problems found, not just the first.
func ValidateDefinition(f *models.FlowDefinition) []error {
	var errs []error

	ids := make(map[string]bool, len(f.Nodes))

	for _, node := range f.Nodes {
		if ids[node.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %s", node.ID))
		}

		ids[node.ID] = true

		schema, ok := nodeConfigSchemas[node.Type]
		if !ok {
			errs = append(errs, fmt.Errorf("node %s has unknown type %q", node.ID, node.Type))

			continue
		}

		config := node.Config
		if config == nil {
			config = map[string]any{}
		}

		result, err := schema.Validate(gojsonschema.NewGoLoader(config))
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s config: %w", node.ID, err))

			continue
		}

		for _, desc := range result.Errors() {
			errs = append(errs, fmt.Errorf("node %s config: %s", node.ID, desc.String()))
		}
	}

	if f.TriggerNode() == nil {
		errs = append(errs, fmt.Errorf("flow has no trigger node"))
	}

	for _, edge := range f.Edges {
		if !ids[edge.SourceID] {
			errs = append(errs, fmt.Errorf("edge %s references missing source node %s", edge.ID, edge.SourceID))
		}

		if !ids[edge.TargetID] {
			errs = append(errs, fmt.Errorf("edge %s references missing target node %s", edge.ID, edge.TargetID))
		}
	}

	for _, node := range f.Nodes {
		if node.Type != models.NodeGoto {
			continue
		}

		if cfg, err := node.GotoConfig(); err == nil && !ids[cfg.TargetNodeID] {
			errs = append(errs, fmt.Errorf("goto node %s targets missing node %s", node.ID, cfg.TargetNodeID))
		}
	}

	return errs
}
