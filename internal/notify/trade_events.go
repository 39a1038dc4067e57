package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Event types emitted by the trading controller. Configure the notifier's
// allowed list with these to choose which alerts operators receive.
const (
	EventPositionClosed = "position_closed"
	EventFlatten        = "flatten"
)

// TradeEvents adapts a Notifier to the controller's notification hooks. It
// formats position lifecycle events into human-readable alerts and sends them
// in a goroutine so the trading loop never waits on a webhook.
type TradeEvents struct {
	notifier *Notifier
}

// NewTradeEvents wraps a Notifier for use by the trading controller.
func NewTradeEvents(n *Notifier) *TradeEvents {
	return &TradeEvents{notifier: n}
}

// PositionClosed sends a close alert with entry, exit, and realized PnL.
func (te *TradeEvents) PositionClosed(ctx context.Context, pos domain.Position) {
	exit := 0.0
	if pos.ExitPrice != nil {
		exit = *pos.ExitPrice
	}
	title := fmt.Sprintf("Position closed: %s %s", pos.Market, pos.Side)
	message := fmt.Sprintf(
		"Strategy: %s\nEntry: %.4f\nExit: %.4f (%s)\nPnL: %+.4f",
		pos.Strategy, pos.EntryPrice, exit, pos.ExitReason, pos.RealizedPnL,
	)
	go func() {
		_ = te.notifier.Notify(context.WithoutCancel(ctx), EventPositionClosed, title, message)
	}()
}

// Flattened sends an alert when every position is force-closed, typically on
// connection loss or shutdown.
func (te *TradeEvents) Flattened(ctx context.Context, reason string, closed int) {
	title := "All positions flattened"
	message := fmt.Sprintf("Reason: %s\nPositions closed: %d", reason, closed)
	go func() {
		_ = te.notifier.Notify(context.WithoutCancel(ctx), EventFlatten, title, message)
	}()
}
