// Package transform provides the data mapping node definition.
package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trellisflow/trellis/pkg/protocol"
)

// Definition implements the "transform" node type. It builds a new
// object from the configured field mapping: string values are resolved
// as dot-separated paths into the node's scope ("input.json.user.id",
// "trigger.body"), anything else is carried over literally.
type Definition struct{}

// NewDefinition creates the transform node definition.
func NewDefinition() *Definition {
	return &Definition{}
}

// Type returns the node type identifier.
func (d *Definition) Type() string {
	return "transform"
}

// Name returns the human-readable node type name.
func (d *Definition) Name() string {
	return "Transform"
}

// Description returns what the node does.
func (d *Definition) Description() string {
	return "Maps upstream data into a new object via path lookups"
}

// Execute resolves the field mapping against the run scope.
func (d *Definition) Execute(_ context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	fields, ok := input.Node.Parameters["fields"].(map[string]any)
	if !ok {
		return nil, errors.New("missing required field 'fields'")
	}

	scope := map[string]any{
		"trigger": input.TriggerData,
		"input":   input.MainInput(),
	}
	for port, data := range input.Inputs {
		if port != "" {
			scope[port] = data
		}
	}

	result := make(map[string]any, len(fields))

	for name, value := range fields {
		path, ok := value.(string)
		if !ok {
			result[name] = value

			continue
		}

		resolved, found := lookup(scope, path)
		if !found {
			return nil, fmt.Errorf("field '%s': path '%s' resolved to nothing", name, path)
		}

		result[name] = resolved
	}

	return protocol.MainOutput(result), nil
}

// lookup walks dot-separated keys through nested maps.
func lookup(scope map[string]any, path string) (any, bool) {
	current := any(scope)

	for _, key := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Schema returns the JSON schema for the node parameters.
func (d *Definition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{
				"type":        "object",
				"description": "Output field name to path or literal value",
			},
		},
		"required": []string{"fields"},
	}
}
