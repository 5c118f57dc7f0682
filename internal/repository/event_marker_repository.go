package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventMarkerRepository remembers processed webhook event ids in Redis so
// redeliveries can be skipped cheaply. It is an optimisation on top of the
// guarded database write, not the source of idempotency, so every failure
// degrades to "not seen before".
type EventMarkerRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewEventMarkerRepository constructs an event marker repository.
func NewEventMarkerRepository(client *redis.Client, logger *zap.Logger) *EventMarkerRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventMarkerRepository{client: client, logger: logger}
}

// MarkOnce records the event id and reports whether this is its first
// delivery. Redis being down means the event is treated as new.
func (r *EventMarkerRepository) MarkOnce(ctx context.Context, eventID string, ttl time.Duration) bool {
	if r.client == nil || eventID == "" {
		return true
	}
	first, err := r.client.SetNX(ctx, r.key(eventID), 1, ttl).Result()
	if err != nil {
		r.logger.Warn("event marker unavailable", zap.String("event_id", eventID), zap.Error(err))
		return true
	}
	return first
}

// Clear releases a marker so the gateway's redelivery of the event is
// processed again. Called when the confirmation failed after the marker was
// set; without it the retry would be skipped as a duplicate.
func (r *EventMarkerRepository) Clear(ctx context.Context, eventID string) {
	if r.client == nil || eventID == "" {
		return
	}
	if err := r.client.Del(ctx, r.key(eventID)).Err(); err != nil {
		r.logger.Warn("event marker not cleared", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (r *EventMarkerRepository) key(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}
