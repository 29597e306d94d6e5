package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/trellisflow/trellis/pkg/channels/gochannel"
	"github.com/trellisflow/trellis/pkg/channels/kafka"
	"github.com/trellisflow/trellis/pkg/channels/redis"
	"github.com/trellisflow/trellis/pkg/eventbus"
)

// EventBusConfig carries the per-driver connection settings. Group
// must be unique per process instance: every process sees every event
// (broadcast), consumer groups are not used for load sharing.
type EventBusConfig struct {
	KafkaBrokers []string
	RedisURL     string
	Group        string
}

// NewEventBus builds the event bus for the given driver. The
// gochannel driver is in-process only and suits single-binary
// deployments and tests; kafka and redis span processes.
func NewEventBus(driver string, cfg EventBusConfig, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch driver {
	case "", "gochannel":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, cfg.KafkaBrokers, cfg.Group)
	case "redis":
		pub, sub, err = redis.CreateChannel(wmLogger, cfg.RedisURL, cfg.Group)
	default:
		return nil, fmt.Errorf("unsupported event bus driver %q", driver)
	}

	if err != nil {
		return nil, fmt.Errorf("create %s event bus: %w", driver, err)
	}

	return eventbus.NewWatermillEventBus(pub, sub), nil
}
