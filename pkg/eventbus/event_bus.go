// Package eventbus provides event-driven communication infrastructure for
// the API, dispatcher, and gateway processes.
package eventbus

import (
	"context"

	"github.com/trellisflow/trellis/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event events.Event) error
}

// EventSubscriber delivers decoded events to handlers registered by
// event type. Register every handler before calling Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context, topics ...string) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
