package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/trellisflow/trellis/pkg/models"
)

// TriggerInput is one caller-supplied trigger before normalization.
// Active follows the wire convention: nil defaults to true.
type TriggerInput struct {
	ID       string
	Type     models.TriggerType
	NodeID   string
	Active   *bool
	Settings map[string]any
}

// PrepareInput carries the save payload fields that trigger
// preparation reads. Nil slices mean the caller did not supply the
// field.
type PrepareInput struct {
	Nodes    []*models.Node
	Triggers []TriggerInput
	Timezone string
}

// PrepareTriggers converges both trigger sources into the stored
// shape. Explicit triggers are normalized as given; with none
// supplied, triggers are derived from trigger-capable nodes instead.
// A nil result means the caller supplied neither nodes nor triggers
// and the stored triggers stay unchanged.
//
// Derivation stamps generated webhook IDs back into the originating
// node's parameters, so deriving twice over unchanged nodes yields
// the same trigger set.
func PrepareTriggers(input PrepareInput, defs Definitions) ([]*models.Trigger, error) {
	if len(input.Triggers) == 0 {
		if input.Nodes == nil {
			return nil, nil
		}

		return deriveTriggers(input, defs)
	}

	return normalizeTriggers(input)
}

func deriveTriggers(input PrepareInput, defs Definitions) ([]*models.Trigger, error) {
	triggers := make([]*models.Trigger, 0)

	for _, node := range input.Nodes {
		def, ok := defs.TriggerDefinition(node.Type)
		if !ok {
			continue
		}

		trigger := &models.Trigger{
			ID:     "trigger-" + node.ID,
			Type:   def.TriggerType(),
			NodeID: node.ID,
			Active: !node.Disabled,
		}

		settings, err := normalizeSettings(trigger.ID, trigger.Type, node.Parameters, input.Timezone)
		if err != nil {
			return nil, err
		}

		trigger.Settings = settings

		if trigger.Type == models.TriggerTypeWebhook {
			if node.Parameters == nil {
				node.Parameters = map[string]any{}
			}

			node.Parameters[models.TriggerSettingWebhookID] = settings[models.TriggerSettingWebhookID]
		}

		triggers = append(triggers, trigger)
	}

	return triggers, nil
}

func normalizeTriggers(input PrepareInput) ([]*models.Trigger, error) {
	triggers := make([]*models.Trigger, 0, len(input.Triggers))

	for _, in := range input.Triggers {
		id := in.ID
		if id == "" {
			if in.NodeID != "" {
				id = "trigger-" + in.NodeID
			} else {
				id = uuid.Must(uuid.NewV7()).String()
			}
		}

		active := true
		if in.Active != nil {
			active = *in.Active
		}

		settings, err := normalizeSettings(id, in.Type, in.Settings, input.Timezone)
		if err != nil {
			return nil, err
		}

		triggers = append(triggers, &models.Trigger{
			ID:       id,
			Type:     in.Type,
			NodeID:   in.NodeID,
			Active:   active,
			Settings: settings,
		})
	}

	return triggers, nil
}

// normalizeSettings produces the canonical settings shape per trigger
// type. Schedules collapse to {expression, timezone} with the cron
// expression parse-checked; webhooks are guaranteed a webhook ID and a
// compilable payload schema.
func normalizeSettings(triggerID string, triggerType models.TriggerType, settings map[string]any, defaultTimezone string) (map[string]any, error) {
	switch triggerType {
	case models.TriggerTypeSchedule:
		expression, _ := settings[models.TriggerSettingExpression].(string)
		if expression == "" {
			return nil, fmt.Errorf("schedule trigger '%s': missing cron expression", triggerID)
		}

		if _, err := cron.ParseStandard(expression); err != nil {
			return nil, fmt.Errorf("schedule trigger '%s': invalid cron expression '%s': %w", triggerID, expression, err)
		}

		timezone, _ := settings[models.TriggerSettingTimezone].(string)
		if timezone == "" {
			timezone = defaultTimezone
		}

		if timezone == "" {
			timezone = "UTC"
		}

		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("schedule trigger '%s': unknown timezone '%s'", triggerID, timezone)
		}

		return map[string]any{
			models.TriggerSettingExpression: expression,
			models.TriggerSettingTimezone:   timezone,
		}, nil

	case models.TriggerTypeWebhook:
		normalized := make(map[string]any, len(settings)+1)
		for key, value := range settings {
			normalized[key] = value
		}

		if webhookID, _ := normalized[models.TriggerSettingWebhookID].(string); webhookID == "" {
			normalized[models.TriggerSettingWebhookID] = uuid.Must(uuid.NewV7()).String()
		}

		if schema, ok := normalized[models.TriggerSettingPayloadSchema]; ok && schema != nil {
			if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema)); err != nil {
				return nil, fmt.Errorf("webhook trigger '%s': invalid payload schema: %w", triggerID, err)
			}
		}

		return normalized, nil

	case models.TriggerTypeManual:
		if len(settings) == 0 {
			return nil, nil
		}

		normalized := make(map[string]any, len(settings))
		for key, value := range settings {
			normalized[key] = value
		}

		return normalized, nil
	}

	return nil, fmt.Errorf("trigger '%s': invalid type '%s'", triggerID, triggerType)
}
