package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is a change notification pushed to live subscribers after a write.
// Topic groups events per collection (enrollments, sessions, requests); Key
// identifies the changed record so clients can scope their subscriptions.
type Event struct {
	Topic string      `json:"topic"`
	Kind  string      `json:"kind"`
	Key   string      `json:"key"`
	At    time.Time   `json:"at"`
	Data  interface{} `json:"data,omitempty"`
}

// Event kinds.
const (
	KindUpserted = "upserted"
	KindDeleted  = "deleted"
)

// Broadcaster fans change events out to subscribers via Redis pub/sub.
type Broadcaster struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewBroadcaster builds a Redis-backed broadcaster.
func NewBroadcaster(client *redis.Client, prefix string, logger *zap.Logger) *Broadcaster {
	if prefix == "" {
		prefix = "mls"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{client: client, prefix: prefix, logger: logger}
}

// Publish sends the event to the topic channel. Delivery is best-effort: the
// store write has already committed, so a publish failure is logged and
// swallowed rather than failing the mutation.
func (b *Broadcaster) Publish(ctx context.Context, event Event) {
	if b == nil || b.client == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("realtime event marshal failed", zap.String("topic", event.Topic), zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, b.channel(event.Topic), payload).Err(); err != nil {
		b.logger.Warn("realtime publish failed", zap.String("topic", event.Topic), zap.Error(err))
	}
}

// Subscribe delivers events for the given topics until ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topics ...string) (<-chan Event, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("broadcaster not configured")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic required")
	}

	channels := make([]string, len(topics))
	for i, topic := range topics {
		channels[i] = b.channel(topic)
	}
	pubsub := b.client.Subscribe(ctx, channels...)

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("realtime event decode failed", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Broadcaster) channel(topic string) string {
	return fmt.Sprintf("%s:%s", b.prefix, topic)
}
