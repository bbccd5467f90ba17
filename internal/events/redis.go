package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "events:"

// RedisBroadcaster fans events out across service instances through Redis
// pub/sub. API instances subscribe for their connected clients while workers
// publish from wherever the job happens to run.
type RedisBroadcaster struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroadcaster creates a broadcaster on an existing Redis client
func NewRedisBroadcaster(client *redis.Client, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client: client,
		logger: logger,
	}
}

// Publish sends the event to the topic's Redis channel
func (b *RedisBroadcaster) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription for the topic and decodes incoming
// messages. Messages that fail to decode are logged and dropped.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, channelPrefix+topic)

	// confirm the subscription before handing the channel out
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("Dropping undecodable event",
					slog.String("topic", topic),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- event:
			default:
				// slow subscriber, drop and let the client resync
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn("Failed to close subscription",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
	}

	return out, cancel, nil
}

// Close is a no-op: the Redis client is owned by the caller
func (b *RedisBroadcaster) Close() error {
	return nil
}
