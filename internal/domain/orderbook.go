package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a depth-bounded view of one market's book. Bids are sorted
// descending by price, asks ascending. All sizes are strictly positive; a
// level whose size drops to zero is removed rather than stored.
type OrderBook struct {
	Market    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or false when the bid side is empty.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns the bid/ask midpoint, or 0 when either side is empty.
func (b OrderBook) MidPrice() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// SpreadBps returns the bid/ask spread in basis points of the midpoint,
// or 0 when either side is empty.
func (b OrderBook) SpreadBps() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	mid := (bid.Price + ask.Price) / 2
	if mid <= 0 {
		return 0
	}
	return (ask.Price - bid.Price) / mid * 10_000
}

// Depth sums the sizes of the top n levels on one side.
func Depth(levels []PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for i := 0; i < n; i++ {
		total += levels[i].Size
	}
	return total
}

// Clone returns a deep copy safe to hand to readers.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = make([]PriceLevel, len(b.Bids))
	copy(out.Bids, b.Bids)
	out.Asks = make([]PriceLevel, len(b.Asks))
	copy(out.Asks, b.Asks)
	return out
}

// Tick is one top-of-book observation, the element stored in the rolling
// sample windows strategies read from.
type Tick struct {
	Market    string
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	SpreadBps float64
	BidDepth  float64 // summed size of the top bid levels
	AskDepth  float64 // summed size of the top ask levels
	Timestamp time.Time
}
