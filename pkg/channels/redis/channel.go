// Package redis provides a Redis Streams event bus channel for
// deployments that run without Kafka.
package redis

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
)

// CreateChannel builds a Redis Streams publisher and subscriber from a
// redis:// URL. Consumer-group semantics match the Kafka channel: one
// group per process instance so every instance sees every event.
func CreateChannel(logger watermill.LoggerAdapter, redisURL, group string) (*redisstream.Publisher, *redisstream.Subscriber, error) {
	if redisURL == "" {
		return nil, nil, errors.New("redis url is empty")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        redis.NewClient(opts),
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: "cg-" + group,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client:     redis.NewClient(opts),
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}
