package trigger

import (
	"context"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// ManualDefinition implements the manual trigger node type: runs are
// started explicitly through the API by the workflow owner.
type ManualDefinition struct{}

// NewManualDefinition creates the manual trigger node definition.
func NewManualDefinition() *ManualDefinition {
	return &ManualDefinition{}
}

// Type returns the node type identifier.
func (d *ManualDefinition) Type() string {
	return models.NodeTypeTriggerManual
}

// Name returns the human-readable node type name.
func (d *ManualDefinition) Name() string {
	return "Manual Trigger"
}

// Description returns what the node does.
func (d *ManualDefinition) Description() string {
	return "Starts the workflow on explicit request"
}

// TriggerType returns how the dispatcher binds this node.
func (d *ManualDefinition) TriggerType() models.TriggerType {
	return models.TriggerTypeManual
}

// Execute passes the caller-supplied data downstream.
func (d *ManualDefinition) Execute(_ context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	return passTriggerData(input)
}

// Schema returns the JSON schema for the node parameters.
func (d *ManualDefinition) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
