// Package trigger provides the built-in trigger node definitions.
// Trigger nodes are graph entry points: the dispatcher starts an
// execution on their behalf and the node passes the trigger data it
// was started with downstream.
package trigger

import (
	"context"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// passTriggerData emits the execution's trigger data on the main port.
func passTriggerData(input protocol.ExecutionInput) (protocol.Output, error) {
	data := input.TriggerData
	if data == nil {
		data = map[string]any{}
	}

	return protocol.MainOutput(data), nil
}

// WebhookDefinition implements the webhook trigger node type. The
// dispatcher binds it to POST /webhooks/{webhook_id}; request metadata
// and payload arrive as trigger data.
type WebhookDefinition struct{}

// NewWebhookDefinition creates the webhook trigger node definition.
func NewWebhookDefinition() *WebhookDefinition {
	return &WebhookDefinition{}
}

// Type returns the node type identifier.
func (d *WebhookDefinition) Type() string {
	return models.NodeTypeTriggerWebhook
}

// Name returns the human-readable node type name.
func (d *WebhookDefinition) Name() string {
	return "Webhook Trigger"
}

// Description returns what the node does.
func (d *WebhookDefinition) Description() string {
	return "Starts the workflow when its webhook endpoint receives a request"
}

// TriggerType returns how the dispatcher binds this node.
func (d *WebhookDefinition) TriggerType() models.TriggerType {
	return models.TriggerTypeWebhook
}

// Execute passes the webhook request data downstream.
func (d *WebhookDefinition) Execute(_ context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	return passTriggerData(input)
}

// Schema returns the JSON schema for the node parameters.
func (d *WebhookDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"webhook_id": map[string]any{
				"type":        "string",
				"description": "Opaque webhook path key; generated when absent",
			},
			"payload_schema": map[string]any{
				"type":        "object",
				"description": "JSON schema enforced on incoming payloads",
			},
		},
	}
}
