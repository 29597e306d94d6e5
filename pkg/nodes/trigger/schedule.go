package trigger

import (
	"context"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// ScheduleDefinition implements the schedule trigger node type. The
// dispatcher registers a cron entry per active schedule trigger.
type ScheduleDefinition struct{}

// NewScheduleDefinition creates the schedule trigger node definition.
func NewScheduleDefinition() *ScheduleDefinition {
	return &ScheduleDefinition{}
}

// Type returns the node type identifier.
func (d *ScheduleDefinition) Type() string {
	return models.NodeTypeTriggerSchedule
}

// Name returns the human-readable node type name.
func (d *ScheduleDefinition) Name() string {
	return "Schedule Trigger"
}

// Description returns what the node does.
func (d *ScheduleDefinition) Description() string {
	return "Starts the workflow on a cron schedule"
}

// TriggerType returns how the dispatcher binds this node.
func (d *ScheduleDefinition) TriggerType() models.TriggerType {
	return models.TriggerTypeSchedule
}

// Execute passes the schedule context (scheduled_time, expression,
// timezone) downstream.
func (d *ScheduleDefinition) Execute(_ context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	return passTriggerData(input)
}

// Schema returns the JSON schema for the node parameters.
func (d *ScheduleDefinition) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Five-field cron expression",
				"examples":    []string{"*/5 * * * *", "0 9 * * MON-FRI"},
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone; falls back to the workflow setting, then UTC",
			},
		},
		"required": []string{"expression"},
	}
}
