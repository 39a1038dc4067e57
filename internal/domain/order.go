package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType selects the simulated execution style.
type OrderType string

const (
	// OrderTypeMarket crosses the spread and always fills, paying taker
	// fees plus modeled slippage.
	OrderTypeMarket OrderType = "market"
	// OrderTypePostOnly rests at the limit price and is cancelled rather
	// than allowed to cross.
	OrderTypePostOnly OrderType = "post_only"
)

// OrderStatus tracks the simulated order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order represents one simulated order. Market orders transition straight to
// filled; post-only limits may rest as pending and are re-evaluated on every
// book tick until they fill, age out, or are cancelled.
type Order struct {
	ID          string
	Market      string
	Side        OrderSide
	Type        OrderType
	LimitPrice  float64 // post-only only
	Size        float64
	Status      OrderStatus
	FillPrice   float64
	FilledSize  float64
	SlippagePct float64 // market orders: modeled slippage in percent
	Fee         float64 // negative = maker rebate
	Strategy    string
	PositionID  string // set when this order opens or closes a position
	Reason      string // cancel reason or fill note
	CreatedAt   time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time
}

// Notional returns the USD value of the order at its fill price, falling
// back to the limit price while unfilled.
func (o Order) Notional() float64 {
	price := o.FillPrice
	if price == 0 {
		price = o.LimitPrice
	}
	return price * o.Size
}
