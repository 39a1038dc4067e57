// Package book maintains the reconstructed order books, one per market.
// A single goroutine (the feed ingestion loop) writes; readers get deep
// copies and never observe intermediate state.
package book

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// DefaultDepthLimit bounds how many levels are retained per side.
const DefaultDepthLimit = 20

type state struct {
	bids  []domain.PriceLevel // descending
	asks  []domain.PriceLevel // ascending
	ts    time.Time
	ready bool // false until a snapshot arrives (or after invalidation)
}

// Store holds the books for all subscribed markets.
type Store struct {
	mu         sync.RWMutex
	depthLimit int
	books      map[string]*state
	logger     *slog.Logger
}

// NewStore creates a Store. depthLimit <= 0 selects DefaultDepthLimit.
func NewStore(depthLimit int, logger *slog.Logger) *Store {
	if depthLimit <= 0 {
		depthLimit = DefaultDepthLimit
	}
	return &Store{
		depthLimit: depthLimit,
		books:      make(map[string]*state),
		logger:     logger.With(slog.String("component", "book_store")),
	}
}

// ApplySnapshot replaces the book for a market with the given sides,
// marking it ready. Malformed or zero-size levels are skipped individually.
func (s *Store) ApplySnapshot(market string, bids, asks []domain.PriceLevel, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &state{ts: ts, ready: true}
	st.bids = s.sanitize(market, bids, true)
	st.asks = s.sanitize(market, asks, false)
	s.books[market] = st
}

// ApplyDiff applies incremental level updates to a ready book. A size of
// zero removes the level; a positive size replaces it. At full depth an
// insert priced worse than the worst retained level is skipped. Returns
// domain.ErrBookNotReady when no snapshot has been applied yet, in which
// case the diff is dropped and a fresh snapshot must be awaited.
func (s *Store) ApplyDiff(market string, bids, asks []domain.PriceLevel, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.books[market]
	if !ok || !st.ready {
		return fmt.Errorf("book: %s: %w", market, domain.ErrBookNotReady)
	}

	for _, lvl := range bids {
		st.bids = s.applyLevel(market, st.bids, lvl, true)
	}
	for _, lvl := range asks {
		st.asks = s.applyLevel(market, st.asks, lvl, false)
	}
	st.ts = ts
	return nil
}

// applyLevel updates one side with a single level change. Caller holds s.mu.
func (s *Store) applyLevel(market string, side []domain.PriceLevel, lvl domain.PriceLevel, descending bool) []domain.PriceLevel {
	if !validLevel(lvl) {
		s.logger.Warn("skipping malformed level",
			slog.String("market", market),
			slog.Float64("price", lvl.Price),
			slog.Float64("size", lvl.Size),
		)
		return side
	}

	idx := sort.Search(len(side), func(i int) bool {
		if descending {
			return side[i].Price <= lvl.Price
		}
		return side[i].Price >= lvl.Price
	})

	exists := idx < len(side) && side[idx].Price == lvl.Price

	// Size zero removes the level; removing an absent price is a no-op.
	if lvl.Size == 0 {
		if exists {
			side = append(side[:idx], side[idx+1:]...)
		}
		return side
	}

	if exists {
		side[idx].Size = lvl.Size
		return side
	}

	// At full depth an insert below the worst retained level carries no
	// information for a depth-bounded book.
	if len(side) >= s.depthLimit && idx >= s.depthLimit {
		return side
	}

	side = append(side, domain.PriceLevel{})
	copy(side[idx+1:], side[idx:])
	side[idx] = lvl
	if len(side) > s.depthLimit {
		side = side[:s.depthLimit]
	}
	return side
}

// sanitize filters a snapshot side, sorts it, and truncates to the depth
// limit. Caller holds s.mu.
func (s *Store) sanitize(market string, levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if !validLevel(lvl) || lvl.Size == 0 {
			if !validLevel(lvl) {
				s.logger.Warn("skipping malformed snapshot level",
					slog.String("market", market),
					slog.Float64("price", lvl.Price),
				)
			}
			continue
		}
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > s.depthLimit {
		out = out[:s.depthLimit]
	}
	return out
}

func validLevel(lvl domain.PriceLevel) bool {
	if math.IsNaN(lvl.Price) || math.IsInf(lvl.Price, 0) || lvl.Price <= 0 {
		return false
	}
	if math.IsNaN(lvl.Size) || math.IsInf(lvl.Size, 0) || lvl.Size < 0 {
		return false
	}
	return true
}

// Snapshot returns a deep copy of the book for a market. It returns
// domain.ErrNotFound for unknown markets and domain.ErrBookNotReady while a
// snapshot resync is pending.
func (s *Store) Snapshot(market string) (domain.OrderBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.books[market]
	if !ok {
		return domain.OrderBook{}, fmt.Errorf("book: %s: %w", market, domain.ErrNotFound)
	}
	if !st.ready {
		return domain.OrderBook{}, fmt.Errorf("book: %s: %w", market, domain.ErrBookNotReady)
	}

	out := domain.OrderBook{
		Market:    market,
		Bids:      make([]domain.PriceLevel, len(st.bids)),
		Asks:      make([]domain.PriceLevel, len(st.asks)),
		Timestamp: st.ts,
	}
	copy(out.Bids, st.bids)
	copy(out.Asks, st.asks)
	return out, nil
}

// BestBidAsk returns the top of book for a market.
func (s *Store) BestBidAsk(market string) (bid, ask domain.PriceLevel, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.books[market]
	if !ok {
		return domain.PriceLevel{}, domain.PriceLevel{}, fmt.Errorf("book: %s: %w", market, domain.ErrNotFound)
	}
	if !st.ready {
		return domain.PriceLevel{}, domain.PriceLevel{}, fmt.Errorf("book: %s: %w", market, domain.ErrBookNotReady)
	}
	if len(st.bids) > 0 {
		bid = st.bids[0]
	}
	if len(st.asks) > 0 {
		ask = st.asks[0]
	}
	return bid, ask, nil
}

// TopLevels returns copies of the best n levels of each side, bids
// descending and asks ascending. n <= 0 or n beyond the retained depth
// returns every retained level.
func (s *Store) TopLevels(market string, n int) (bids, asks []domain.PriceLevel, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.books[market]
	if !ok {
		return nil, nil, fmt.Errorf("book: %s: %w", market, domain.ErrNotFound)
	}
	if !st.ready {
		return nil, nil, fmt.Errorf("book: %s: %w", market, domain.ErrBookNotReady)
	}
	return copyTop(st.bids, n), copyTop(st.asks, n), nil
}

func copyTop(side []domain.PriceLevel, n int) []domain.PriceLevel {
	if n <= 0 || n > len(side) {
		n = len(side)
	}
	out := make([]domain.PriceLevel, n)
	copy(out, side[:n])
	return out
}

// Tick builds a top-of-book sample for the rolling windows. depthLevels
// controls how many levels feed the depth sums (typically 3).
func (s *Store) Tick(market string, depthLevels int) (domain.Tick, error) {
	snap, err := s.Snapshot(market)
	if err != nil {
		return domain.Tick{}, err
	}
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return domain.Tick{}, fmt.Errorf("book: %s one-sided: %w", market, domain.ErrInsufficientData)
	}
	return domain.Tick{
		Market:    market,
		BestBid:   bid.Price,
		BestAsk:   ask.Price,
		MidPrice:  snap.MidPrice(),
		SpreadBps: snap.SpreadBps(),
		BidDepth:  domain.Depth(snap.Bids, depthLevels),
		AskDepth:  domain.Depth(snap.Asks, depthLevels),
		Timestamp: snap.Timestamp,
	}, nil
}

// Invalidate marks a market's book as awaiting a fresh snapshot. Diffs are
// rejected and reads fail until ApplySnapshot is called again.
func (s *Store) Invalidate(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.books[market]; ok {
		st.ready = false
	}
}

// InvalidateAll marks every book as awaiting a snapshot, used after a
// transport reconnect.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.books {
		st.ready = false
	}
}

// Remove drops all state for a market, used on unsubscribe.
func (s *Store) Remove(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, market)
}

// Markets returns the markets with a ready book.
func (s *Store) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for m, st := range s.books {
		if st.ready {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
