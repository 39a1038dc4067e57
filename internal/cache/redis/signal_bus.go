package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

const streamMaxLen = 10_000

// SignalBus implements domain.SignalBus on Redis pub/sub and streams.
// Pub/sub delivers fire-and-forget fan-out to live subscribers; streams keep
// a capped durable log that late consumers can replay.
type SignalBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	return &SignalBus{
		rdb:    c.rdb,
		logger: logger.With(slog.String("component", "signal_bus")),
	}
}

// Publish broadcasts a payload to all current subscribers of a channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to the given channel.
// The subscription lives until ctx is cancelled; the returned channel is
// closed on teardown.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)

	// Confirm the subscription before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					sb.logger.Warn("subscriber lagging, message dropped",
						slog.String("channel", channel))
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends a payload to a capped stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count entries after lastID. Pass "0" (or "") to
// read from the beginning. It returns an empty slice when the stream has no
// newer entries.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	if count <= 0 {
		count = 100
	}

	start := "(" + lastID
	if lastID == "0" {
		start = "-"
	}
	entries, err := sb.rdb.XRangeN(ctx, stream, start, "+", int64(count)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, entry := range entries {
		raw, _ := entry.Values["payload"].(string)
		out = append(out, domain.StreamMessage{ID: entry.ID, Payload: []byte(raw)})
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
