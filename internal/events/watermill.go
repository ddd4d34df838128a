package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// DefaultTopic is the topic session events are published on.
const DefaultTopic = "ticketctl.session"

// WatermillNotifier publishes session events as JSON messages on a Watermill publisher.
type WatermillNotifier struct {
	publisher message.Publisher
	topic     string
}

// Compile-time check to ensure WatermillNotifier implements Notifier
var _ Notifier = (*WatermillNotifier)(nil)

// NewWatermillNotifier creates a notifier publishing on topic (DefaultTopic if empty).
func NewWatermillNotifier(publisher message.Publisher, topic string) (*WatermillNotifier, error) {
	if publisher == nil {
		return nil, fmt.Errorf("missing publisher")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	return &WatermillNotifier{
		publisher: publisher,
		topic:     topic,
	}, nil
}

// Notify publishes the event.
func (n *WatermillNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(event.Kind))
	msg.SetContext(ctx)

	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Handler reacts to a decoded session event.
type Handler func(ctx context.Context, event Event) error

// Consume reads session events from messages until the channel closes or ctx is done.
// Malformed messages and handler errors are logged; every message is acknowledged
// so a poisoned event is never redelivered in a loop.
func Consume(ctx context.Context, messages <-chan *message.Message, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				slog.WarnContext(ctx, "dropping malformed session event", "message_id", msg.UUID, "error", err)
				msg.Ack()
				continue
			}

			if err := handle(ctx, event); err != nil {
				slog.ErrorContext(ctx, "session event handler failed", "kind", event.Kind, "error", err)
			}
			msg.Ack()
		}
	}
}
