package events

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Bus pairs a publisher with the subscriber that reads the same stream.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// NewMemoryBus creates an in-process bus. Only subscribers attached before an
// event is published receive it, and Publish returns once they have all acked,
// so a short-lived command has reacted to its events before it exits.
func NewMemoryBus() *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewStdLogger(false, false),
	)

	return &Bus{
		Publisher:  pubSub,
		Subscriber: pubSub,
		closers:    []func() error{pubSub.Close},
	}
}

// NewRedisBus creates a bus on Redis streams so devices sharing a session also
// share its events. consumerGroup identifies this process's subscription.
func NewRedisBus(client redis.UniversalClient, consumerGroup string) (*Bus, error) {
	if client == nil {
		return nil, fmt.Errorf("missing redis client")
	}

	logger := watermill.NewStdLogger(false, false)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        client,
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	return &Bus{
		Publisher:  publisher,
		Subscriber: subscriber,
		closers:    []func() error{subscriber.Close, publisher.Close},
	}, nil
}

// Close releases the publisher and subscriber.
func (b *Bus) Close() error {
	var errs []error
	for _, closeFn := range b.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}
