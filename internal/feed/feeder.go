package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/book"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/platform/dydx"
	"github.com/alanyoungcy/dydxbot/internal/window"
)

// defaultFrameBuffer absorbs bursts from the read loop without blocking the
// WebSocket reader.
const defaultFrameBuffer = 1024

// depthLevels feeding the tick depth sums.
const depthLevels = 3

// TickHandler observes the tick derived after each orderbook frame lands.
type TickHandler func(ctx context.Context, tick domain.Tick)

// TradeHandler observes each trade after it lands in the windows.
type TradeHandler func(ctx context.Context, trade domain.Trade)

// Feeder drains frames from the transport into a buffered channel and
// applies them to the book, window, and candle state from a single
// goroutine. That goroutine is the only writer of book state, which is what
// makes copy-on-read snapshots coherent.
type Feeder struct {
	mux     *Mux
	books   *book.Store
	windows *window.Store
	candles *window.CandleBuilder
	logger  *slog.Logger

	frames chan dydx.Frame

	onTick  TickHandler
	onTrade TradeHandler
}

// NewFeeder creates a Feeder and registers its channel-wide handlers on the
// mux so state is updated before any per-market subscriber runs.
func NewFeeder(mux *Mux, books *book.Store, windows *window.Store, candles *window.CandleBuilder, buffer int, logger *slog.Logger) (*Feeder, error) {
	if buffer <= 0 {
		buffer = defaultFrameBuffer
	}
	f := &Feeder{
		mux:     mux,
		books:   books,
		windows: windows,
		candles: candles,
		logger:  logger.With(slog.String("component", "feeder")),
		frames:  make(chan dydx.Frame, buffer),
	}

	if _, err := mux.SubscribeAll(dydx.ChannelOrderbook, f.applyBookFrame); err != nil {
		return nil, err
	}
	if _, err := mux.SubscribeAll(dydx.ChannelTrades, f.applyTradeFrame); err != nil {
		return nil, err
	}
	return f, nil
}

// OnTick registers the tick observer. Must be called before Run.
func (f *Feeder) OnTick(h TickHandler) { f.onTick = h }

// OnTrade registers the trade observer. Must be called before Run.
func (f *Feeder) OnTrade(h TradeHandler) { f.onTrade = h }

// Enqueue hands a frame from the transport read loop to the feeder. Frames
// are dropped, with a log line, if the buffer is full; the books resync from
// the next snapshot rather than stalling the reader.
func (f *Feeder) Enqueue(frame dydx.Frame) {
	select {
	case f.frames <- frame:
	default:
		f.logger.Warn("frame buffer full, dropping frame",
			slog.String("channel", string(frame.Channel)),
			slog.String("market", frame.Market),
		)
		if frame.Channel == dydx.ChannelOrderbook {
			f.books.Invalidate(frame.Market)
		}
	}
}

// Run dispatches buffered frames serially until the context is cancelled.
// All mux handlers execute on this goroutine.
func (f *Feeder) Run(ctx context.Context) error {
	f.logger.Info("feeder started")
	defer f.logger.Info("feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-f.frames:
			f.dispatch(ctx, frame)
		}
	}
}

// InvalidateBooks marks every book stale, used after a transport reconnect
// while fresh snapshots are in flight.
func (f *Feeder) InvalidateBooks() {
	f.books.InvalidateAll()
	f.logger.Info("books invalidated pending resync")
}

func (f *Feeder) dispatch(ctx context.Context, frame dydx.Frame) {
	f.mux.Dispatch(frame)

	switch frame.Channel {
	case dydx.ChannelOrderbook:
		tick, err := f.books.Tick(frame.Market, depthLevels)
		if err != nil {
			return
		}
		f.windows.Track(tick)
		if f.onTick != nil {
			f.onTick(ctx, tick)
		}
	case dydx.ChannelTrades:
		if f.onTrade == nil {
			return
		}
		for _, trade := range frame.Trades {
			f.onTrade(ctx, trade)
		}
	}
}

// applyBookFrame folds an orderbook frame into the book store. Runs as a
// channel-wide mux handler ahead of per-market subscribers.
func (f *Feeder) applyBookFrame(frame dydx.Frame) {
	if frame.Book == nil {
		return
	}
	now := time.Now().UTC()

	switch frame.Kind {
	case dydx.FrameSnapshot:
		f.books.ApplySnapshot(frame.Market, frame.Book.Bids, frame.Book.Asks, now)
	case dydx.FrameUpdate:
		if err := f.books.ApplyDiff(frame.Market, frame.Book.Bids, frame.Book.Asks, now); err != nil {
			f.logger.Debug("diff dropped",
				slog.String("market", frame.Market),
				slog.String("error", err.Error()),
			)
		}
	}
}

// applyTradeFrame folds a trades frame into the windows and candles.
func (f *Feeder) applyTradeFrame(frame dydx.Frame) {
	for _, trade := range frame.Trades {
		f.windows.TrackTrade(trade)
		f.candles.Add(trade)
	}
}
