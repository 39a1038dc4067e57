// Package service holds coordination logic that sits between the trading
// core and external infrastructure.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// MirrorService pushes reconstructed book state and mid prices into Redis
// and publishes price events on the signal bus, so dashboards and other
// processes can observe the session without touching the trading core.
type MirrorService struct {
	priceCache domain.PriceCache
	bookCache  domain.OrderbookCache
	bus        domain.SignalBus
	logger     *slog.Logger
}

// NewMirrorService creates a MirrorService with all required dependencies.
func NewMirrorService(
	priceCache domain.PriceCache,
	bookCache domain.OrderbookCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *MirrorService {
	return &MirrorService{
		priceCache: priceCache,
		bookCache:  bookCache,
		bus:        bus,
		logger:     logger.With(slog.String("component", "mirror")),
	}
}

// HandleTick mirrors one book tick: stores the snapshot, updates the mid
// price, and publishes a price event. Publish failures are logged, not
// fatal; the mirror is best-effort.
func (s *MirrorService) HandleTick(ctx context.Context, book domain.OrderBook, tick domain.Tick) error {
	if err := s.bookCache.SetSnapshot(ctx, book); err != nil {
		return fmt.Errorf("mirror: set snapshot %s: %w", book.Market, err)
	}
	if err := s.priceCache.SetPrice(ctx, tick.Market, tick.MidPrice, tick.Timestamp); err != nil {
		return fmt.Errorf("mirror: set price %s: %w", tick.Market, err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "book_tick",
		"market":    tick.Market,
		"best_bid":  tick.BestBid,
		"best_ask":  tick.BestAsk,
		"mid_price": tick.MidPrice,
		"timestamp": tick.Timestamp.Format(time.RFC3339Nano),
	})
	if pubErr := s.bus.Publish(ctx, "prices", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "publish price event failed",
			slog.String("market", tick.Market),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

// PublishSignal appends an emitted signal to the durable signal stream and
// broadcasts it to live subscribers.
func (s *MirrorService) PublishSignal(ctx context.Context, sig domain.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("mirror: marshal signal: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, "signals", payload); err != nil {
		return fmt.Errorf("mirror: append signal: %w", err)
	}
	if pubErr := s.bus.Publish(ctx, "signals", payload); pubErr != nil {
		s.logger.WarnContext(ctx, "publish signal failed",
			slog.String("market", sig.Market),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

// GetPrice returns the latest mirrored price and its timestamp for a market.
func (s *MirrorService) GetPrice(ctx context.Context, market string) (float64, time.Time, error) {
	price, ts, err := s.priceCache.GetPrice(ctx, market)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("mirror: get price %s: %w", market, err)
	}
	return price, ts, nil
}

// GetPrices returns the latest mirrored prices for multiple markets. Missing
// markets are omitted from the returned map.
func (s *MirrorService) GetPrices(ctx context.Context, markets []string) (map[string]float64, error) {
	prices, err := s.priceCache.GetPrices(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("mirror: get prices: %w", err)
	}
	return prices, nil
}

// GetBBO returns the mirrored best bid and ask for a market.
func (s *MirrorService) GetBBO(ctx context.Context, market string) (float64, float64, error) {
	bestBid, bestAsk, err := s.bookCache.GetBBO(ctx, market)
	if err != nil {
		return 0, 0, fmt.Errorf("mirror: get bbo %s: %w", market, err)
	}
	return bestBid, bestAsk, nil
}
