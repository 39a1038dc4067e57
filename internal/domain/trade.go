package domain

import "time"

// Trade is a single fill from the live trades channel. Side is the taker
// direction as reported by the indexer.
type Trade struct {
	ID        string
	Market    string
	Side      OrderSide
	Price     float64
	Size      float64
	CreatedAt time.Time
}

// Notional returns the USD value of the fill.
func (t Trade) Notional() float64 {
	return t.Price * t.Size
}

// Candle is a fixed-interval OHLCV aggregate built from trades.
type Candle struct {
	Market string
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Trades int
}
