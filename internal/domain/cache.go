package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest mid price per market for external consumers
// (dashboards, alerting). The trading core only ever writes to it.
type PriceCache interface {
	SetPrice(ctx context.Context, market string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, market string) (float64, time.Time, error)
	GetPrices(ctx context.Context, markets []string) (map[string]float64, error)
}

// OrderbookCache mirrors the reconstructed book per market.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, book OrderBook) error
	GetSnapshot(ctx context.Context, market string) (OrderBook, error)
	GetBBO(ctx context.Context, market string) (bestBid, bestAsk float64, err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for price events
// and emitted signals.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
