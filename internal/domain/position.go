package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// ExitReason records why a position was closed. Exits are evaluated in a
// fixed priority: take profit, stop loss, timeout, signal reversal.
type ExitReason string

const (
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTimeout    ExitReason = "timeout"
	ExitReasonReversal   ExitReason = "signal_reversal"
	ExitReasonFlatten    ExitReason = "flatten"
)

// Position represents a simulated open or historical paper position.
// A buy position profits when price rises; a sell position when it falls.
type Position struct {
	ID            string
	Market        string
	Side          OrderSide
	EntryPrice    float64
	Size          float64
	EntryFee      float64
	CurrentPrice  float64 // latest exit-side price (bid for longs, ask for shorts)
	UnrealizedPnL float64 // net of entry fee
	MaxProfit     float64 // best unrealized PnL seen while open
	MaxLoss       float64 // worst unrealized PnL seen while open
	TakeProfit    float64 // exit trigger price
	StopLoss      float64 // exit trigger price
	Status        PositionStatus
	Strategy      string
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *float64
	ExitFee       float64
	ExitReason    ExitReason
	RealizedPnL   float64 // net of both fees, set on close
}

// Notional returns the current USD exposure of the position.
func (p Position) Notional() float64 {
	price := p.CurrentPrice
	if price == 0 {
		price = p.EntryPrice
	}
	return price * p.Size
}

// PnLAt returns the unrealized PnL at the given exit-side price, net of the
// entry fee.
func (p Position) PnLAt(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == OrderSideSell {
		diff = p.EntryPrice - price
	}
	return diff*p.Size - p.EntryFee
}

// HeldFor returns how long the position has been open as of now.
func (p Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}
