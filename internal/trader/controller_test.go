package trader

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dydxbot/internal/book"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fixedRng returns the given values in order, then repeats the last one.
func fixedRng(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

// zeroCostSim builds a simulator with no fees and no slippage so fills land
// exactly on the touch.
func zeroCostSim(rng func() float64) *sim.Simulator {
	cfg := sim.Config{
		MaxOrderAge:          30 * time.Second,
		TouchFillProbability: 0.7,
	}
	return sim.New(cfg, rng, testLogger())
}

type harness struct {
	controller *Controller
	books      *book.Store
	signalCh   chan domain.Signal
}

func newHarness(t *testing.T, cfg Config, rng func() float64) *harness {
	t.Helper()
	books := book.NewStore(0, testLogger())
	signalCh := make(chan domain.Signal, 16)
	controller := NewController(cfg, zeroCostSim(rng), books, signalCh, testLogger())
	return &harness{controller: controller, books: books, signalCh: signalCh}
}

func (h *harness) setBook(bid, ask float64) {
	h.books.ApplySnapshot("BTC-USD",
		[]domain.PriceLevel{{Price: bid, Size: 10}},
		[]domain.PriceLevel{{Price: ask, Size: 10}},
		time.Now(),
	)
}

func (h *harness) tick(bid, ask float64, ts time.Time) domain.Tick {
	h.setBook(bid, ask)
	return domain.Tick{
		Market:    "BTC-USD",
		BestBid:   bid,
		BestAsk:   ask,
		MidPrice:  (bid + ask) / 2,
		Timestamp: ts,
	}
}

func buySignal(id string, confidence float64, urgency domain.SignalUrgency) domain.Signal {
	now := time.Now().UTC()
	return domain.Signal{
		ID:         id,
		Strategy:   "test",
		Market:     "BTC-USD",
		Side:       domain.OrderSideBuy,
		Price:      100,
		Size:       1,
		Confidence: confidence,
		Urgency:    urgency,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Minute),
	}
}

func TestEntryOpensPositionWithBrackets(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)

	h.controller.HandleSignal(context.Background(), buySignal("s1", 90, domain.SignalUrgencyHigh))

	positions := h.controller.Positions()
	require.Len(t, positions, 1)

	pos := positions[0]
	assert.Equal(t, domain.OrderSideBuy, pos.Side)
	assert.Equal(t, 100.0, pos.EntryPrice) // zero slippage: fills at the ask
	assert.InDelta(t, 100.6, pos.TakeProfit, 1e-9)
	assert.InDelta(t, 99.7, pos.StopLoss, 1e-9)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
}

func TestConfidenceGate(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)

	h.controller.HandleSignal(context.Background(), buySignal("s1", 50, domain.SignalUrgencyHigh))
	assert.Empty(t, h.controller.Positions())
	assert.Empty(t, h.controller.Orders())
}

func TestSignalDedup(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	// Distinct IDs, same strategy, market, and side: the second signal is a
	// re-fire of the same condition and must be throttled.
	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	h.controller.HandleSignal(ctx, buySignal("s2", 90, domain.SignalUrgencyHigh))

	assert.Len(t, h.controller.Orders(), 1)
}

func TestOnePositionPerMarket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupTTL = 0 // exercise the open-position skip, not the throttle
	h := newHarness(t, cfg, fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	h.controller.HandleSignal(ctx, buySignal("s2", 90, domain.SignalUrgencyHigh))

	assert.Len(t, h.controller.Positions(), 1)
	assert.Len(t, h.controller.Orders(), 1)
}

func TestExposureGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExposure = 50
	h := newHarness(t, cfg, fixedRng(0.99))
	h.setBook(99.9, 100)

	// Notional 100 x 1 = 100 > 50.
	h.controller.HandleSignal(context.Background(), buySignal("s1", 90, domain.SignalUrgencyHigh))
	assert.Empty(t, h.controller.Positions())
}

func TestTakeProfitExitAtExactTrigger(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	require.Len(t, h.controller.Positions(), 1)

	now := time.Now().UTC()

	// Below the trigger: still open.
	h.controller.OnTick(ctx, h.tick(100.5, 100.6, now))
	require.Len(t, h.controller.Positions(), 1)

	// Bid crosses 100.6: closes at exactly the trigger price. With zero
	// fees a buy at 100 with 0.6% take profit realizes exactly 0.6.
	h.controller.OnTick(ctx, h.tick(100.65, 100.75, now.Add(time.Second)))

	assert.Empty(t, h.controller.Positions())
	closed := h.controller.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitReasonTakeProfit, closed[0].ExitReason)
	require.NotNil(t, closed[0].ExitPrice)
	assert.InDelta(t, 100.6, *closed[0].ExitPrice, 1e-9)
	assert.InDelta(t, 0.6, closed[0].RealizedPnL, 1e-9)
}

func TestStopLossExit(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))

	now := time.Now().UTC()
	h.controller.OnTick(ctx, h.tick(99.6, 99.7, now))

	closed := h.controller.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitReasonStopLoss, closed[0].ExitReason)
	assert.InDelta(t, 99.7, *closed[0].ExitPrice, 1e-9)
	assert.InDelta(t, -0.3, closed[0].RealizedPnL, 1e-9)

	stats := h.controller.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, -0.3, stats.DailyPnL, 1e-9)
}

func TestTimeoutExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHoldTime = 10 * time.Second
	h := newHarness(t, cfg, fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))

	// Price drifts inside the brackets past the hold limit.
	late := time.Now().UTC().Add(time.Minute)
	h.controller.OnTick(ctx, h.tick(100.0, 100.1, late))

	closed := h.controller.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitReasonTimeout, closed[0].ExitReason)
	// Timeout exits through the market path: a long sells the bid.
	assert.InDelta(t, 100.0, *closed[0].ExitPrice, 1e-9)
}

func TestReversalSignalClosesPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	require.Len(t, h.controller.Positions(), 1)

	reversal := buySignal("s2", 90, domain.SignalUrgencyHigh)
	reversal.Side = domain.OrderSideSell
	h.controller.HandleSignal(ctx, reversal)

	assert.Empty(t, h.controller.Positions())
	closed := h.controller.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitReasonReversal, closed[0].ExitReason)
}

func TestPassiveEntryFillsOnTouch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MakerOffsetPct = 0.1
	// First roll rests the entry, second roll fills it on touch.
	h := newHarness(t, cfg, fixedRng(0.99, 0.1))
	h.setBook(100, 100.1)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyLow))
	assert.Empty(t, h.controller.Positions())
	require.Len(t, h.controller.Orders(), 1)
	assert.Equal(t, domain.OrderStatusPending, h.controller.Orders()[0].Status)

	// Bid trades down through the resting limit (100 x 0.999 = 99.9).
	now := time.Now().UTC()
	h.controller.OnTick(ctx, h.tick(99.85, 99.95, now))

	positions := h.controller.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 99.9, positions[0].EntryPrice, 1e-9)
	assert.Equal(t, "test", positions[0].Strategy)
}

func TestFlattenClosesEverything(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	require.Len(t, h.controller.Positions(), 1)

	h.controller.Flatten(ctx, "connection lost")

	assert.Empty(t, h.controller.Positions())
	closed := h.controller.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitReasonFlatten, closed[0].ExitReason)
}

func TestRemoveMarketExitsPositionAtMark(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	require.Len(t, h.controller.Positions(), 1)

	h.controller.RemoveMarket(ctx, "BTC-USD")

	assert.Empty(t, h.controller.Positions())
	closed := h.controller.ClosedPositions()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitReasonFlatten, closed[0].ExitReason)
	require.NotNil(t, closed[0].ExitPrice)
	assert.InDelta(t, 100.0, *closed[0].ExitPrice, 1e-9) // last mark is the entry fill
}

func TestRemoveMarketCancelsPendingEntry(t *testing.T) {
	h := newHarness(t, DefaultConfig(), fixedRng(0.99))
	h.setBook(100, 100.1)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyLow))
	require.Len(t, h.controller.Orders(), 1)
	require.Equal(t, domain.OrderStatusPending, h.controller.Orders()[0].Status)

	h.controller.RemoveMarket(ctx, "BTC-USD")

	orders := h.controller.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OrderStatusCancelled, orders[1].Status)
	assert.Empty(t, h.controller.Positions())

	// The cancelled entry no longer blocks a later one for the same market.
	sell := buySignal("s2", 90, domain.SignalUrgencyHigh)
	sell.Side = domain.OrderSideSell
	h.controller.HandleSignal(ctx, sell)
	assert.Len(t, h.controller.Positions(), 1)
}

func TestDailyLossLimitHaltsEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 0.2
	cfg.DedupTTL = 0 // the second entry must reach the loss-limit gate
	h := newHarness(t, cfg, fixedRng(0.99))
	h.setBook(99.9, 100)
	ctx := context.Background()

	h.controller.HandleSignal(ctx, buySignal("s1", 90, domain.SignalUrgencyHigh))
	// Stop out for -0.3, beyond the 0.2 daily limit.
	h.controller.OnTick(ctx, h.tick(99.6, 99.7, time.Now().UTC()))
	require.Len(t, h.controller.ClosedPositions(), 1)

	h.controller.HandleSignal(ctx, buySignal("s2", 90, domain.SignalUrgencyHigh))
	assert.Empty(t, h.controller.Positions())
}
