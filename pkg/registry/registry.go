// Package registry resolves node types to their definitions and
// validates node parameters against the definition schemas.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// Registry holds the node definitions available to the engine. It is
// populated at startup and read-only afterwards.
type Registry struct {
	logger      *slog.Logger
	definitions map[string]protocol.NodeDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:      logger,
		definitions: make(map[string]protocol.NodeDefinition),
	}
}

// Register adds a definition, replacing any previous one of the same type.
func (r *Registry) Register(def protocol.NodeDefinition) {
	r.definitions[def.Type()] = def
}

// Definition resolves a node type.
func (r *Registry) Definition(nodeType string) (protocol.NodeDefinition, error) {
	def, ok := r.definitions[nodeType]
	if !ok {
		return nil, fmt.Errorf("node type '%s' not registered", nodeType)
	}

	return def, nil
}

// TriggerDefinition resolves a node type that can start executions.
// The second return is false when the type is unknown or not
// trigger-capable.
func (r *Registry) TriggerDefinition(nodeType string) (protocol.TriggerNodeDefinition, bool) {
	def, ok := r.definitions[nodeType]
	if !ok {
		return nil, false
	}

	triggerDef, ok := def.(protocol.TriggerNodeDefinition)

	return triggerDef, ok
}

// Definitions returns all registered definitions sorted by type.
func (r *Registry) Definitions() []protocol.NodeDefinition {
	defs := make([]protocol.NodeDefinition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Type() < defs[j].Type()
	})

	return defs
}

// HealthCheck reports whether the registry can resolve node types.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.definitions) == 0 {
		return "No node definitions registered", false
	}

	return fmt.Sprintf("%d node definitions registered", len(r.definitions)), true
}

// ValidateParameters checks one node's parameters against its
// definition schema. It returns the violation messages; a resolution
// failure (unknown type) comes back as the error.
func (r *Registry) ValidateParameters(node *models.Node) ([]string, error) {
	def, err := r.Definition(node.Type)
	if err != nil {
		return nil, err
	}

	schema := def.Schema()
	if schema == nil {
		return nil, nil
	}

	parameters := node.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(parameters),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate parameters for node '%s': %w", node.ID, err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, fmt.Sprintf("node '%s': %s", node.ID, violation.String()))
	}

	return violations, nil
}
