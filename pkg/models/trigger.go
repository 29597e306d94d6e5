package models

// TriggerType classifies how a trigger starts an execution.
type TriggerType string

const (
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeManual   TriggerType = "manual"
)

// Well-known trigger settings keys.
const (
	TriggerSettingWebhookID     = "webhook_id"
	TriggerSettingPayloadSchema = "payload_schema"
	TriggerSettingExpression    = "expression"
	TriggerSettingTimezone      = "timezone"
)

// Trigger is a named entry point into a workflow. Triggers are owned by
// their workflow and have no lifecycle of their own: they are derived
// from trigger-capable nodes or normalized from caller input at save
// time.
type Trigger struct {
	ID       string         `json:"id"   validate:"required"`
	Type     TriggerType    `json:"type" validate:"required,oneof=webhook schedule manual"`
	NodeID   string         `json:"node_id,omitempty"` // Absent only for legacy triggers created without a node
	Active   bool           `json:"active"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Setting returns the named settings value as a string, or "".
func (t *Trigger) Setting(key string) string {
	if t.Settings == nil {
		return ""
	}

	if v, ok := t.Settings[key].(string); ok {
		return v
	}

	return ""
}

// WebhookID returns the opaque webhook path key for webhook triggers.
func (t *Trigger) WebhookID() string {
	return t.Setting(TriggerSettingWebhookID)
}
