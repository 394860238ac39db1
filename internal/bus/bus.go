package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// Bus is the append-only event stream the escalation manager and ticket
// service publish onto. The default transport is an in-process watermill
// channel; pointing the policy at a redis address swaps in a durable
// redis-stream sink that survives the process and fans out to external
// consumers.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	closers    []func() error
}

// NewInProcess builds a channel-backed bus. Messages published before a
// subscriber attaches are dropped by the transport; durability lives in
// the store, not the stream.
func NewInProcess() *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	return &Bus{
		publisher:  pubSub,
		subscriber: pubSub,
		closers:    []func() error{pubSub.Close},
	}
}

// NewRedis builds a redis-stream bus. The consumer group lets several
// watchers share one stream without double-delivery.
func NewRedis(addr string, consumerGroup string) (*Bus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	logger := watermill.NewStdLogger(false, false)
	client := redis.NewClient(&redis.Options{Addr: addr})

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: consumerGroup,
	}, logger)
	if err != nil {
		publisher.Close()
		client.Close()
		return nil, fmt.Errorf("create redis subscriber: %w", err)
	}

	return &Bus{
		publisher:  publisher,
		subscriber: subscriber,
		closers:    []func() error{subscriber.Close, publisher.Close, client.Close},
	}, nil
}

// Publish JSON-encodes the payload and appends it to the topic.
func (b *Bus) Publish(topic string, payload any) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("publish topic is required")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), encoded)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns the raw watermill channel for a topic. Consumers must
// Ack every message.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return messages, nil
}

func (b *Bus) Close() error {
	var firstErr error
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Decode unmarshals a bus message payload into out, acking on success and
// nacking on failure so a durable sink can redeliver a bad payload instead
// of losing it.
func Decode(msg *message.Message, out any) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		msg.Nack()
		return fmt.Errorf("decode bus message %s: %w", msg.UUID, err)
	}
	msg.Ack()
	return nil
}
