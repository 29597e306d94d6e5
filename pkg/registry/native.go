package registry

import (
	"github.com/trellisflow/trellis/pkg/nodes/httprequest"
	"github.com/trellisflow/trellis/pkg/nodes/log"
	"github.com/trellisflow/trellis/pkg/nodes/transform"
	"github.com/trellisflow/trellis/pkg/nodes/trigger"
)

// RegisterNativeDefinitions registers the node definitions that ship
// with the engine.
func (r *Registry) RegisterNativeDefinitions() {
	r.Register(httprequest.NewDefinition())
	r.Register(transform.NewDefinition())
	r.Register(log.NewDefinition())

	r.Register(trigger.NewWebhookDefinition())
	r.Register(trigger.NewScheduleDefinition())
	r.Register(trigger.NewManualDefinition())
}
