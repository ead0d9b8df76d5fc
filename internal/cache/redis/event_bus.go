package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

const (
	// eventStream is the durable event log consumed by reporting jobs.
	eventStream = keyPrefix + "events"
	// eventChannel carries the same events over Pub/Sub for live listeners.
	eventChannel = keyPrefix + "events:live"

	// streamMaxLen bounds the stream via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
)

// EventBus implements domain.EventBus. Events are appended to a capped Redis
// stream for durable consumers and mirrored on a Pub/Sub channel for live
// ones. Publish failures never fail the operation that emitted the event.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish serializes the event and delivers it on both transports.
func (eb *EventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", event.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := eb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: append event %s: %w", event.Type, err)
	}

	if err := eb.rdb.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event.Type, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
