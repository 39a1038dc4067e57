package feed

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dydxbot/internal/book"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/platform/dydx"
	"github.com/alanyoungcy/dydxbot/internal/window"
)

func newTestFeeder(t *testing.T) (*Feeder, *book.Store, *window.Store, *window.CandleBuilder) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	mux := NewMux(&fakeTransport{}, logger)
	books := book.NewStore(0, logger)
	windows := window.NewStore(0)
	candles := window.NewCandleBuilder(time.Minute, 10)

	f, err := NewFeeder(mux, books, windows, candles, 8, logger)
	require.NoError(t, err)
	return f, books, windows, candles
}

func TestFeederAppliesSnapshotAndEmitsTick(t *testing.T) {
	f, books, windows, _ := newTestFeeder(t)
	ctx := context.Background()

	var ticks []domain.Tick
	f.OnTick(func(_ context.Context, tick domain.Tick) {
		ticks = append(ticks, tick)
	})

	f.dispatch(ctx, dydx.Frame{
		Kind:    dydx.FrameSnapshot,
		Channel: dydx.ChannelOrderbook,
		Market:  "BTC-USD",
		Book: &dydx.BookPayload{
			Bids: []domain.PriceLevel{{Price: 100, Size: 2}},
			Asks: []domain.PriceLevel{{Price: 101, Size: 1}},
		},
	})

	snap, err := books.Snapshot("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.Bids[0].Price)

	require.Len(t, ticks, 1)
	assert.InDelta(t, 100.5, ticks[0].MidPrice, 1e-9)
	assert.Equal(t, 1, windows.Len("BTC-USD"))
}

func TestFeederDiffBeforeSnapshotEmitsNoTick(t *testing.T) {
	f, _, windows, _ := newTestFeeder(t)
	ctx := context.Background()

	var ticks int
	f.OnTick(func(context.Context, domain.Tick) { ticks++ })

	f.dispatch(ctx, dydx.Frame{
		Kind:    dydx.FrameUpdate,
		Channel: dydx.ChannelOrderbook,
		Market:  "BTC-USD",
		Book: &dydx.BookPayload{
			Bids: []domain.PriceLevel{{Price: 100, Size: 2}},
		},
	})

	assert.Zero(t, ticks)
	assert.Zero(t, windows.Len("BTC-USD"))
}

func TestFeederAppliesTrades(t *testing.T) {
	f, _, windows, candles := newTestFeeder(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	var seen []domain.Trade
	f.OnTrade(func(_ context.Context, trade domain.Trade) {
		seen = append(seen, trade)
	})

	f.dispatch(ctx, dydx.Frame{
		Kind:    dydx.FrameUpdate,
		Channel: dydx.ChannelTrades,
		Market:  "BTC-USD",
		Trades: []domain.Trade{
			{ID: "t1", Market: "BTC-USD", Side: domain.OrderSideBuy, Price: 100, Size: 1, CreatedAt: now},
			{ID: "t2", Market: "BTC-USD", Side: domain.OrderSideSell, Price: 99, Size: 2, CreatedAt: now.Add(time.Second)},
		},
	})

	require.Len(t, seen, 2)
	assert.Len(t, windows.RecentTrades("BTC-USD", 0, now), 2)

	forming, ok := candles.Forming("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 3.0, forming.Volume)
}

func TestFeederEnqueueDropInvalidatesBook(t *testing.T) {
	f, books, _, _ := newTestFeeder(t)

	books.ApplySnapshot("BTC-USD",
		[]domain.PriceLevel{{Price: 100, Size: 1}},
		[]domain.PriceLevel{{Price: 101, Size: 1}},
		time.Now(),
	)

	for i := 0; i < cap(f.frames); i++ {
		f.frames <- bookFrame("BTC-USD")
	}
	f.Enqueue(bookFrame("BTC-USD"))

	_, err := books.Snapshot("BTC-USD")
	assert.ErrorIs(t, err, domain.ErrBookNotReady)
}
