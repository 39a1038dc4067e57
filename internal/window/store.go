// Package window keeps bounded rolling histories of top-of-book ticks and
// trades per market, and aggregates trades into fixed-interval candles. The
// strategy engines read from here instead of touching the feed directly.
package window

import (
	"sync"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// DefaultCapacity is the per-market ring capacity when none is configured.
const DefaultCapacity = 2048

// ring is a fixed-capacity circular buffer. Oldest entries are overwritten
// once capacity is reached.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// ordered returns the entries oldest-first as a fresh slice.
func (r *ring[T]) ordered() []T {
	out := make([]T, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Store holds the tick and trade windows for all markets.
type Store struct {
	mu       sync.RWMutex
	capacity int
	ticks    map[string]*ring[domain.Tick]
	trades   map[string]*ring[domain.Trade]
}

// NewStore creates a Store. capacity <= 0 selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		ticks:    make(map[string]*ring[domain.Tick]),
		trades:   make(map[string]*ring[domain.Trade]),
	}
}

// Track appends a tick to the market's window.
func (s *Store) Track(tick domain.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ticks[tick.Market]
	if !ok {
		r = newRing[domain.Tick](s.capacity)
		s.ticks[tick.Market] = r
	}
	r.push(tick)
}

// TrackTrade appends a trade to the market's window.
func (s *Store) TrackTrade(trade domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.trades[trade.Market]
	if !ok {
		r = newRing[domain.Trade](s.capacity)
		s.trades[trade.Market] = r
	}
	r.push(trade)
}

// Recent returns the ticks within lookback of now, oldest first. A zero
// lookback returns the whole window.
func (s *Store) Recent(market string, lookback time.Duration, now time.Time) []domain.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ticks[market]
	if !ok {
		return nil
	}
	all := r.ordered()
	if lookback <= 0 {
		return all
	}
	cutoff := now.Add(-lookback)
	for i, tick := range all {
		if !tick.Timestamp.Before(cutoff) {
			return all[i:]
		}
	}
	return nil
}

// RecentTrades returns the trades within lookback of now, oldest first. A
// zero lookback returns the whole window.
func (s *Store) RecentTrades(market string, lookback time.Duration, now time.Time) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.trades[market]
	if !ok {
		return nil
	}
	all := r.ordered()
	if lookback <= 0 {
		return all
	}
	cutoff := now.Add(-lookback)
	for i, trade := range all {
		if !trade.CreatedAt.Before(cutoff) {
			return all[i:]
		}
	}
	return nil
}

// Last returns the most recent tick for a market.
func (s *Store) Last(market string) (domain.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ticks[market]
	if !ok || r.count == 0 {
		return domain.Tick{}, false
	}
	idx := r.head - 1
	if idx < 0 {
		idx += len(r.buf)
	}
	return r.buf[idx], true
}

// Len reports how many ticks are held for a market.
func (s *Store) Len(market string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.ticks[market]; ok {
		return r.count
	}
	return 0
}

// Reset drops all windows for a market.
func (s *Store) Reset(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ticks, market)
	delete(s.trades, market)
}
