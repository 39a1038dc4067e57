// Package trader is the strategy controller: it turns signals into simulated
// orders behind risk gates and owns the position lifecycle from entry fill to
// exit.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dydxbot/internal/book"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/sim"
)

// Config holds the risk gates and exit parameters.
type Config struct {
	MaxOpenPositions int           // pending entries count toward the limit
	MaxExposure      float64       // aggregate notional cap in USD
	DailyLossLimit   float64       // entries halt once daily realized loss reaches this
	MinConfidence    float64       // 0-100 gate on incoming signals
	MakerOffsetPct   float64       // passive entry offset from the touch, in percent
	TakeProfitPct    float64       // e.g. 0.6 means exit at +0.6%
	StopLossPct      float64       // e.g. 0.3 means exit at -0.3%
	MaxHoldTime      time.Duration // timeout exit
	DedupTTL         time.Duration // per strategy/market/side throttle; 0 disables
}

// DefaultConfig returns conservative paper-trading gates.
func DefaultConfig() Config {
	return Config{
		MaxOpenPositions: 5,
		MaxExposure:      10_000,
		DailyLossLimit:   1_000,
		MinConfidence:    75,
		MakerOffsetPct:   0.02,
		TakeProfitPct:    0.6,
		StopLossPct:      0.3,
		MaxHoldTime:      60 * time.Second,
		DedupTTL:         2 * time.Minute,
	}
}

// Notifier receives position lifecycle events. Implementations must not
// block the caller for long.
type Notifier interface {
	PositionClosed(ctx context.Context, pos domain.Position)
	Flattened(ctx context.Context, reason string, closed int)
}

// Controller consumes signals from a channel and manages entries, exits, and
// risk accounting. All mutation of positions and pending-entry state runs
// behind one mutex, which is what makes the check-for-position-then-submit
// sequence atomic per market.
type Controller struct {
	cfg      Config
	sim      *sim.Simulator
	books    *book.Store
	signalCh <-chan domain.Signal
	dedup    *Dedup
	stats    *statsBook
	notifier Notifier
	logger   *slog.Logger

	cleanupInterval time.Duration

	mu           sync.Mutex
	positions    map[string]*domain.Position // open, keyed by market
	pendingEntry map[string]string           // market -> resting entry order ID
	entryMeta    map[string]entryMeta        // order ID -> context for the fill
	closed       []domain.Position
	orders       []domain.Order
}

type entryMeta struct {
	strategy string
}

// dedupKey throttles per strategy, market, and direction. Signal IDs are
// fresh UUIDs per evaluation, so keying on them would never match.
func dedupKey(sig domain.Signal) string {
	return sig.Strategy + "|" + sig.Market + "|" + string(sig.Side)
}

// NewController creates a Controller reading from signalCh.
func NewController(cfg Config, simulator *sim.Simulator, books *book.Store, signalCh <-chan domain.Signal, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:             cfg,
		sim:             simulator,
		books:           books,
		signalCh:        signalCh,
		dedup:           NewDedup(cfg.DedupTTL),
		stats:           newStatsBook(),
		logger:          logger.With(slog.String("component", "trader")),
		cleanupInterval: 30 * time.Second,
		positions:       make(map[string]*domain.Position),
		pendingEntry:    make(map[string]string),
		entryMeta:       make(map[string]entryMeta),
	}
}

// SetNotifier attaches an optional lifecycle notifier. Must be called before
// Run.
func (c *Controller) SetNotifier(n Notifier) { c.notifier = n }

// Run processes signals until the context is cancelled, then drains whatever
// is already buffered so in-flight signals are not silently dropped.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("trader started")
	defer c.logger.Info("trader stopped")

	cleanupTicker := time.NewTicker(c.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return ctx.Err()

		case sig, ok := <-c.signalCh:
			if !ok {
				return nil
			}
			c.HandleSignal(ctx, sig)

		case <-cleanupTicker.C:
			c.dedup.Cleanup()
		}
	}
}

// HandleSignal runs one signal through reversal handling and the entry
// gates.
func (c *Controller) HandleSignal(ctx context.Context, sig domain.Signal) {
	log := c.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("strategy", sig.Strategy),
		slog.String("market", sig.Market),
		slog.String("side", string(sig.Side)),
	)

	if c.dedup.IsDuplicate(dedupKey(sig)) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	now := time.Now().UTC()
	if sig.Expired(now) {
		log.Warn("signal expired, skipping", slog.Time("expires_at", sig.ExpiresAt))
		return
	}

	if sig.Confidence < c.cfg.MinConfidence {
		log.Debug("confidence below gate, skipping",
			slog.Float64("confidence", sig.Confidence),
			slog.Float64("min", c.cfg.MinConfidence),
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A confident signal against an open position exits it before any new
	// entry is considered.
	if pos, ok := c.positions[sig.Market]; ok {
		if sig.Side == pos.Side.Opposite() {
			c.exitAtMarketLocked(ctx, pos, domain.ExitReasonReversal, now)
		} else {
			log.Debug("position already open, skipping")
		}
		return
	}

	if err := c.entryGatesLocked(sig, now); err != nil {
		log.Debug("entry gate rejected signal", slog.String("reason", err.Error()))
		return
	}

	bookSnap, err := c.books.Snapshot(sig.Market)
	if err != nil {
		log.Warn("no book for entry, skipping", slog.String("error", err.Error()))
		return
	}

	order, err := c.submitEntryLocked(sig, bookSnap, now)
	if err != nil {
		log.Warn("entry submit failed", slog.String("error", err.Error()))
		return
	}
	c.orders = append(c.orders, order)

	switch order.Status {
	case domain.OrderStatusFilled:
		c.openPositionLocked(order, sig.Strategy, now)
	case domain.OrderStatusPending:
		c.pendingEntry[sig.Market] = order.ID
		c.entryMeta[order.ID] = entryMeta{strategy: sig.Strategy}
		log.Info("entry resting", slog.String("order_id", order.ID), slog.Float64("limit", order.LimitPrice))
	case domain.OrderStatusCancelled:
		log.Info("entry cancelled", slog.String("reason", order.Reason))
	}
}

// entryGatesLocked applies the risk gates that do not depend on the book.
func (c *Controller) entryGatesLocked(sig domain.Signal, now time.Time) error {
	if _, ok := c.pendingEntry[sig.Market]; ok {
		return fmt.Errorf("entry already pending for %s", sig.Market)
	}
	if len(c.positions)+len(c.pendingEntry) >= c.cfg.MaxOpenPositions {
		return fmt.Errorf("max open positions (%d) reached", c.cfg.MaxOpenPositions)
	}
	if c.stats.dailyPnL(now) <= -c.cfg.DailyLossLimit {
		return fmt.Errorf("daily loss limit reached")
	}
	exposure := sig.Price * sig.Size
	for _, pos := range c.positions {
		exposure += pos.Notional()
	}
	if exposure > c.cfg.MaxExposure {
		return fmt.Errorf("exposure %.2f exceeds cap %.2f", exposure, c.cfg.MaxExposure)
	}
	return nil
}

// submitEntryLocked picks the entry style from the signal urgency: urgent
// signals cross the spread, the rest rest a passive maker order just behind
// the touch.
func (c *Controller) submitEntryLocked(sig domain.Signal, bookSnap domain.OrderBook, now time.Time) (domain.Order, error) {
	req := sim.Request{
		Market:   sig.Market,
		Side:     sig.Side,
		Size:     sig.Size,
		Strategy: sig.Strategy,
		Reason:   sig.Reason,
	}

	if sig.Urgency >= domain.SignalUrgencyHigh {
		return c.sim.SubmitMarket(req, bookSnap, now)
	}

	bid, _ := bookSnap.BestBid()
	ask, _ := bookSnap.BestAsk()
	if sig.Side == domain.OrderSideBuy {
		req.LimitPrice = bid.Price * (1 - c.cfg.MakerOffsetPct/100)
	} else {
		req.LimitPrice = ask.Price * (1 + c.cfg.MakerOffsetPct/100)
	}
	return c.sim.SubmitPostOnly(req, bookSnap, now)
}

// OnTick advances the simulator's resting orders and the open position for
// one market. Called for every book tick.
func (c *Controller) OnTick(ctx context.Context, tick domain.Tick) {
	now := tick.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	bookSnap, err := c.books.Snapshot(tick.Market)
	if err != nil {
		return
	}

	resolved := c.sim.OnTick(bookSnap, now)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, order := range resolved {
		c.orders = append(c.orders, order)
		c.settleEntryOrderLocked(order, now)
	}

	pos, ok := c.positions[tick.Market]
	if !ok {
		return
	}
	c.markPositionLocked(pos, tick)
	c.checkExitsLocked(ctx, pos, tick, now)
}

// settleEntryOrderLocked reconciles a resolved resting order against the
// pending-entry bookkeeping.
func (c *Controller) settleEntryOrderLocked(order domain.Order, now time.Time) {
	pendingID, ok := c.pendingEntry[order.Market]
	if !ok || pendingID != order.ID {
		return
	}
	delete(c.pendingEntry, order.Market)
	meta := c.entryMeta[order.ID]
	delete(c.entryMeta, order.ID)

	if order.Status == domain.OrderStatusFilled {
		c.openPositionLocked(order, meta.strategy, now)
	} else {
		c.logger.Info("resting entry cancelled",
			slog.String("order_id", order.ID),
			slog.String("market", order.Market),
			slog.String("reason", order.Reason),
		)
	}
}

func (c *Controller) openPositionLocked(order domain.Order, strategy string, now time.Time) {
	pos := &domain.Position{
		ID:           uuid.NewString(),
		Market:       order.Market,
		Side:         order.Side,
		EntryPrice:   order.FillPrice,
		Size:         order.FilledSize,
		EntryFee:     order.Fee,
		CurrentPrice: order.FillPrice,
		Status:       domain.PositionStatusOpen,
		Strategy:     strategy,
		OpenedAt:     now,
	}
	if order.Side == domain.OrderSideBuy {
		pos.TakeProfit = order.FillPrice * (1 + c.cfg.TakeProfitPct/100)
		pos.StopLoss = order.FillPrice * (1 - c.cfg.StopLossPct/100)
	} else {
		pos.TakeProfit = order.FillPrice * (1 - c.cfg.TakeProfitPct/100)
		pos.StopLoss = order.FillPrice * (1 + c.cfg.StopLossPct/100)
	}
	pos.UnrealizedPnL = pos.PnLAt(order.FillPrice)
	c.positions[order.Market] = pos

	c.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("market", pos.Market),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
		slog.Float64("take_profit", pos.TakeProfit),
		slog.Float64("stop_loss", pos.StopLoss),
	)
}

// markPositionLocked refreshes the exit-side mark and the unrealized P&L
// watermarks.
func (c *Controller) markPositionLocked(pos *domain.Position, tick domain.Tick) {
	exitPrice := tick.BestBid
	if pos.Side == domain.OrderSideSell {
		exitPrice = tick.BestAsk
	}
	pos.CurrentPrice = exitPrice
	pos.UnrealizedPnL = pos.PnLAt(exitPrice)
	if pos.UnrealizedPnL > pos.MaxProfit {
		pos.MaxProfit = pos.UnrealizedPnL
	}
	if pos.UnrealizedPnL < pos.MaxLoss {
		pos.MaxLoss = pos.UnrealizedPnL
	}
}

// checkExitsLocked evaluates the exit conditions in fixed priority: take
// profit, stop loss, timeout. The first satisfied condition wins. Trigger
// exits fill at their trigger price; the timeout exit pays its way out
// through the simulator.
func (c *Controller) checkExitsLocked(ctx context.Context, pos *domain.Position, tick domain.Tick, now time.Time) {
	exitSide := tick.BestBid
	if pos.Side == domain.OrderSideSell {
		exitSide = tick.BestAsk
	}

	var profitHit, lossHit bool
	if pos.Side == domain.OrderSideBuy {
		profitHit = exitSide >= pos.TakeProfit
		lossHit = exitSide <= pos.StopLoss
	} else {
		profitHit = exitSide <= pos.TakeProfit
		lossHit = exitSide >= pos.StopLoss
	}

	switch {
	case profitHit:
		c.exitAtPriceLocked(ctx, pos, pos.TakeProfit, domain.ExitReasonTakeProfit, now)
	case lossHit:
		c.exitAtPriceLocked(ctx, pos, pos.StopLoss, domain.ExitReasonStopLoss, now)
	case c.cfg.MaxHoldTime > 0 && pos.HeldFor(now) > c.cfg.MaxHoldTime:
		c.exitAtMarketLocked(ctx, pos, domain.ExitReasonTimeout, now)
	}
}

// exitAtPriceLocked closes a position at an exact trigger price, paying the
// taker fee on the way out.
func (c *Controller) exitAtPriceLocked(ctx context.Context, pos *domain.Position, price float64, reason domain.ExitReason, now time.Time) {
	fee := price * pos.Size * c.sim.TakerFeeRate()
	order := domain.Order{
		ID:         uuid.NewString(),
		Market:     pos.Market,
		Side:       pos.Side.Opposite(),
		Type:       domain.OrderTypeMarket,
		Size:       pos.Size,
		Status:     domain.OrderStatusFilled,
		FillPrice:  price,
		FilledSize: pos.Size,
		Fee:        fee,
		Strategy:   pos.Strategy,
		PositionID: pos.ID,
		Reason:     string(reason),
		CreatedAt:  now,
		FilledAt:   &now,
	}
	c.orders = append(c.orders, order)
	c.closePositionLocked(ctx, pos, price, fee, reason, now)
}

// exitAtMarketLocked closes a position through the simulator's market order
// path, eating slippage.
func (c *Controller) exitAtMarketLocked(ctx context.Context, pos *domain.Position, reason domain.ExitReason, now time.Time) {
	bookSnap, err := c.books.Snapshot(pos.Market)
	if err != nil {
		// Stale or missing book: settle at the last mark rather than hold a
		// position we can no longer manage.
		c.exitAtPriceLocked(ctx, pos, pos.CurrentPrice, reason, now)
		return
	}

	order, err := c.sim.SubmitMarket(sim.Request{
		Market:     pos.Market,
		Side:       pos.Side.Opposite(),
		Size:       pos.Size,
		Strategy:   pos.Strategy,
		PositionID: pos.ID,
		Reason:     string(reason),
	}, bookSnap, now)
	if err != nil {
		c.exitAtPriceLocked(ctx, pos, pos.CurrentPrice, reason, now)
		return
	}
	c.orders = append(c.orders, order)
	c.closePositionLocked(ctx, pos, order.FillPrice, order.Fee, reason, now)
}

func (c *Controller) closePositionLocked(ctx context.Context, pos *domain.Position, exitPrice, exitFee float64, reason domain.ExitReason, now time.Time) {
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	pos.ExitFee = exitFee
	pos.ExitReason = reason
	pos.RealizedPnL = pos.PnLAt(exitPrice) - exitFee
	pos.CurrentPrice = exitPrice
	pos.UnrealizedPnL = 0

	delete(c.positions, pos.Market)
	c.closed = append(c.closed, *pos)
	c.stats.record(*pos, now)

	c.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.String("market", pos.Market),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", pos.RealizedPnL),
	)

	if c.notifier != nil {
		c.notifier.PositionClosed(ctx, *pos)
	}
}

// Flatten cancels every resting order and market-exits every open position.
// Called when connectivity is lost for good and the books can no longer be
// trusted.
func (c *Controller) Flatten(ctx context.Context, reason string) {
	now := time.Now().UTC()

	cancelled := c.sim.CancelAll("", now)

	c.mu.Lock()
	for _, order := range cancelled {
		c.orders = append(c.orders, order)
		delete(c.entryMeta, order.ID)
		if c.pendingEntry[order.Market] == order.ID {
			delete(c.pendingEntry, order.Market)
		}
	}

	open := make([]*domain.Position, 0, len(c.positions))
	for _, pos := range c.positions {
		open = append(open, pos)
	}
	for _, pos := range open {
		c.exitAtMarketLocked(ctx, pos, domain.ExitReasonFlatten, now)
	}
	c.mu.Unlock()

	c.logger.Warn("flattened",
		slog.String("reason", reason),
		slog.Int("positions_closed", len(open)),
		slog.Int("orders_cancelled", len(cancelled)),
	)
	if c.notifier != nil {
		c.notifier.Flattened(ctx, reason, len(open))
	}
}

// RemoveMarket discards all working state for a market on unsubscribe: the
// resting orders are cancelled and any open position exits at its last mark.
func (c *Controller) RemoveMarket(ctx context.Context, market string) {
	now := time.Now().UTC()
	cancelled := c.sim.CancelAll(market, now)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, order := range cancelled {
		c.orders = append(c.orders, order)
		delete(c.entryMeta, order.ID)
	}
	delete(c.pendingEntry, market)

	if pos, ok := c.positions[market]; ok {
		c.exitAtPriceLocked(ctx, pos, pos.CurrentPrice, domain.ExitReasonFlatten, now)
	}
}

// Positions returns copies of the open positions.
func (c *Controller) Positions() []domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Position, 0, len(c.positions))
	for _, pos := range c.positions {
		out = append(out, *pos)
	}
	return out
}

// ClosedPositions returns copies of the closed positions, oldest first.
func (c *Controller) ClosedPositions() []domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Position, len(c.closed))
	copy(out, c.closed)
	return out
}

// Orders returns copies of every order the controller has seen.
func (c *Controller) Orders() []domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Order, len(c.orders))
	copy(out, c.orders)
	return out
}

// Stats returns a snapshot of session performance.
func (c *Controller) Stats() Stats {
	return c.stats.snapshot()
}

// drain processes signals already buffered after cancellation.
func (c *Controller) drain() {
	for {
		select {
		case sig, ok := <-c.signalCh:
			if !ok {
				return
			}
			c.logger.Warn("draining signal after shutdown", slog.String("signal_id", sig.ID))
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.HandleSignal(drainCtx, sig)
			cancel()
		default:
			return
		}
	}
}
