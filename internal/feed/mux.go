// Package feed routes decoded indexer frames to subscribers and drives the
// book, window, and candle state from a single goroutine.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dydxbot/internal/platform/dydx"
)

// Transport is the wire-level subscription surface the mux drives. The dydx
// Session satisfies it.
type Transport interface {
	Subscribe(ctx context.Context, ch dydx.Channel, market string) error
	Unsubscribe(ctx context.Context, ch dydx.Channel, market string) error
}

// Handler receives frames for a subscription.
type Handler func(dydx.Frame)

// SubscriptionID identifies one registered handler.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	channel dydx.Channel
	market  string // empty for channel-wide subscriptions
	handler Handler
}

// Mux multiplexes one wire subscription per channel+market across any number
// of local handlers. The first handler for a pair triggers the wire
// subscribe; the last removal triggers the wire unsubscribe. Channel-wide
// handlers see every frame on their channel and run before per-market
// handlers, so state maintainers observe a frame before consumers do.
type Mux struct {
	mu        sync.RWMutex
	transport Transport
	logger    *slog.Logger

	subs map[SubscriptionID]*subscription

	// wireRefs counts local subscriptions per channel+market wire pair.
	wireRefs map[string]int

	// onTeardown fires after the last local subscriber for a pair is gone,
	// so owners of per-market state can discard it.
	onTeardown func(ch dydx.Channel, market string)
}

// NewMux creates a Mux over the given transport.
func NewMux(transport Transport, logger *slog.Logger) *Mux {
	return &Mux{
		transport: transport,
		logger:    logger.With(slog.String("component", "feed_mux")),
		subs:      make(map[SubscriptionID]*subscription),
		wireRefs:  make(map[string]int),
	}
}

func wireKey(ch dydx.Channel, market string) string {
	return string(ch) + "/" + market
}

// OnTeardown registers the hook invoked once per channel+market pair when
// its last local subscriber unsubscribes. Must be set before handlers start
// unsubscribing.
func (m *Mux) OnTeardown(f func(ch dydx.Channel, market string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTeardown = f
}

// Subscribe registers a handler for one channel+market pair. The wire
// subscription is established only for the first local subscriber; later
// subscribers share it.
func (m *Mux) Subscribe(ctx context.Context, ch dydx.Channel, market string, h Handler) (SubscriptionID, error) {
	if market == "" {
		return "", fmt.Errorf("feed: subscribe %s: empty market", ch)
	}
	if h == nil {
		return "", fmt.Errorf("feed: subscribe %s/%s: nil handler", ch, market)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := wireKey(ch, market)
	if m.wireRefs[key] == 0 {
		if err := m.transport.Subscribe(ctx, ch, market); err != nil {
			return "", fmt.Errorf("feed: subscribe %s/%s: %w", ch, market, err)
		}
	}
	m.wireRefs[key]++

	id := SubscriptionID(uuid.NewString())
	m.subs[id] = &subscription{id: id, channel: ch, market: market, handler: h}
	return id, nil
}

// SubscribeAll registers a channel-wide handler. It carries no wire
// subscription of its own; it observes frames for whatever markets the
// per-market subscribers have opened.
func (m *Mux) SubscribeAll(ch dydx.Channel, h Handler) (SubscriptionID, error) {
	if h == nil {
		return "", fmt.Errorf("feed: subscribe all %s: nil handler", ch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := SubscriptionID(uuid.NewString())
	m.subs[id] = &subscription{id: id, channel: ch, handler: h}
	return id, nil
}

// Unsubscribe removes a handler. When the last local subscriber for a
// channel+market pair goes away, the wire subscription is torn down and the
// teardown hook fires. Unknown IDs are a no-op, so Unsubscribe is safe to
// call twice.
func (m *Mux) Unsubscribe(ctx context.Context, id SubscriptionID) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.subs, id)

	if sub.market == "" {
		m.mu.Unlock()
		return nil
	}

	key := wireKey(sub.channel, sub.market)
	m.wireRefs[key]--
	if m.wireRefs[key] > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.wireRefs, key)
	teardown := m.onTeardown
	m.mu.Unlock()

	wireErr := m.transport.Unsubscribe(ctx, sub.channel, sub.market)

	// The local registration is gone either way; dependent state must be
	// discarded even when the wire message could not be sent.
	if teardown != nil {
		teardown(sub.channel, sub.market)
	}

	if wireErr != nil {
		return fmt.Errorf("feed: unsubscribe %s/%s: %w", sub.channel, sub.market, wireErr)
	}
	return nil
}

// Dispatch delivers a frame to the matching handlers: channel-wide first,
// then per-market. A panicking handler is isolated and logged; the rest of
// the fan-out proceeds.
func (m *Mux) Dispatch(frame dydx.Frame) {
	m.mu.RLock()
	wide := make([]*subscription, 0, 4)
	scoped := make([]*subscription, 0, 4)
	for _, sub := range m.subs {
		if sub.channel != frame.Channel {
			continue
		}
		if sub.market == "" {
			wide = append(wide, sub)
		} else if sub.market == frame.Market {
			scoped = append(scoped, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range wide {
		m.invoke(sub, frame)
	}
	for _, sub := range scoped {
		m.invoke(sub, frame)
	}
}

func (m *Mux) invoke(sub *subscription, frame dydx.Frame) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panic",
				slog.String("subscription", string(sub.id)),
				slog.String("channel", string(sub.channel)),
				slog.String("market", frame.Market),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	sub.handler(frame)
}
