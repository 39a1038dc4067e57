package window

import (
	"sync"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

const (
	// DefaultCandleInterval is the bucketing interval for trade candles.
	DefaultCandleInterval = time.Minute

	// DefaultCandleKeep is how many completed candles are retained per market.
	DefaultCandleKeep = 60
)

// CandleBuilder aggregates trades into fixed-interval OHLCV candles. A candle
// is completed when the first trade of a later bucket arrives; until then it
// is exposed separately as the forming candle.
type CandleBuilder struct {
	mu        sync.RWMutex
	interval  time.Duration
	keep      int
	completed map[string][]domain.Candle
	forming   map[string]*domain.Candle
}

// NewCandleBuilder creates a builder. Non-positive interval or keep select
// the defaults.
func NewCandleBuilder(interval time.Duration, keep int) *CandleBuilder {
	if interval <= 0 {
		interval = DefaultCandleInterval
	}
	if keep <= 0 {
		keep = DefaultCandleKeep
	}
	return &CandleBuilder{
		interval:  interval,
		keep:      keep,
		completed: make(map[string][]domain.Candle),
		forming:   make(map[string]*domain.Candle),
	}
}

// Add folds a trade into its market's candle series. Trades bucketed before
// the forming candle are dropped; the feed delivers trades in order and a
// late trade cannot reopen a sealed bucket.
func (b *CandleBuilder) Add(trade domain.Trade) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := trade.CreatedAt.Truncate(b.interval)

	cur, ok := b.forming[trade.Market]
	if !ok {
		b.forming[trade.Market] = newCandle(trade, bucket)
		return
	}

	switch {
	case bucket.Equal(cur.Start):
		cur.Close = trade.Price
		if trade.Price > cur.High {
			cur.High = trade.Price
		}
		if trade.Price < cur.Low {
			cur.Low = trade.Price
		}
		cur.Volume += trade.Size
		cur.Trades++

	case bucket.After(cur.Start):
		b.seal(trade.Market, *cur)
		b.forming[trade.Market] = newCandle(trade, bucket)

	default:
		// stale trade, already sealed past this bucket
	}
}

func newCandle(trade domain.Trade, bucket time.Time) *domain.Candle {
	return &domain.Candle{
		Market: trade.Market,
		Start:  bucket,
		Open:   trade.Price,
		High:   trade.Price,
		Low:    trade.Price,
		Close:  trade.Price,
		Volume: trade.Size,
		Trades: 1,
	}
}

// seal appends a completed candle, trimming to the retention limit. Caller
// holds b.mu.
func (b *CandleBuilder) seal(market string, c domain.Candle) {
	series := append(b.completed[market], c)
	if len(series) > b.keep {
		series = series[len(series)-b.keep:]
	}
	b.completed[market] = series
}

// Completed returns up to n completed candles for a market, oldest first, as
// a fresh slice. n <= 0 returns all retained candles. The forming candle is
// never included.
func (b *CandleBuilder) Completed(market string, n int) []domain.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()

	series := b.completed[market]
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]domain.Candle, len(series))
	copy(out, series)
	return out
}

// Forming returns a copy of the in-progress candle for a market.
func (b *CandleBuilder) Forming(market string) (domain.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cur, ok := b.forming[market]
	if !ok {
		return domain.Candle{}, false
	}
	return *cur, true
}

// Reset drops all candle state for a market.
func (b *CandleBuilder) Reset(market string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.completed, market)
	delete(b.forming, market)
}
