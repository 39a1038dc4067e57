package strategy

import (
	"time"

	"github.com/alanyoungcy/dydxbot/internal/book"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/window"
)

// View is the read-only market state handed to a strategy for one event.
// Slices are snapshots; mutating them does not affect the stores.
type View struct {
	Book      domain.OrderBook // deep copy, zero value when not ready
	BookReady bool
	Samples   func(lookback time.Duration) []domain.Tick
	Trades    func(lookback time.Duration) []domain.Trade
	Candles   func(n int) []domain.Candle
	Forming   func() (domain.Candle, bool)
	Now       time.Time
}

// ViewSource assembles Views from the live stores.
type ViewSource struct {
	books   *book.Store
	windows *window.Store
	candles *window.CandleBuilder
}

// NewViewSource creates a ViewSource over the given stores.
func NewViewSource(books *book.Store, windows *window.Store, candles *window.CandleBuilder) *ViewSource {
	return &ViewSource{books: books, windows: windows, candles: candles}
}

// At builds the view for one market as of now.
func (v *ViewSource) At(market string, now time.Time) View {
	view := View{
		Now: now,
		Samples: func(lookback time.Duration) []domain.Tick {
			return v.windows.Recent(market, lookback, now)
		},
		Trades: func(lookback time.Duration) []domain.Trade {
			return v.windows.RecentTrades(market, lookback, now)
		},
		Candles: func(n int) []domain.Candle {
			return v.candles.Completed(market, n)
		},
		Forming: func() (domain.Candle, bool) {
			return v.candles.Forming(market)
		},
	}
	if snap, err := v.books.Snapshot(market); err == nil {
		view.Book = snap
		view.BookReady = true
	}
	return view
}
