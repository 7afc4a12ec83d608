package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront-payments/internal/repository"
)

const keyPrefix = "payments:webhook:event:"

// EventLog implements repository.EventLog using Redis keys with a TTL.
type EventLog struct {
	client *redis.Client
	ttl    time.Duration
}

var _ repository.EventLog = (*EventLog)(nil)

// NewEventLog creates a Redis-backed webhook event log.
func NewEventLog(client *redis.Client, ttl time.Duration) *EventLog {
	return &EventLog{
		client: client,
		ttl:    ttl,
	}
}

// IsProcessed reports whether eventID has a live marker key.
func (l *EventLog) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists webhook event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed writes the marker key for eventID. An existing marker keeps
// its original expiry.
func (l *EventLog) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.client.SetNX(ctx, keyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx webhook event: %w", err)
	}
	return nil
}
