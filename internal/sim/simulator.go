// Package sim is the paper-trading execution simulator: an order state
// machine with slippage and maker/taker fee modeling. No order ever reaches
// a live venue.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Config holds the execution model parameters.
type Config struct {
	TakerFeeRate         float64       // fraction of notional, e.g. 0.0005
	MakerFeeRate         float64       // negative means a rebate, e.g. -0.0002
	BaseSlippagePct      float64       // flat slippage floor in percent
	ImpactFactor         float64       // size-impact coefficient
	ReferenceVolume      float64       // notional that yields one unit of impact
	SpreadSlippageWeight float64       // fraction of the spread paid on top
	MaxOrderAge          time.Duration // pending limit orders self-cancel past this
	TouchFillProbability float64       // fill chance when price trades through a resting order
}

// DefaultConfig returns the standard perpetual-market execution model.
func DefaultConfig() Config {
	return Config{
		TakerFeeRate:         0.0005,
		MakerFeeRate:         -0.0002,
		BaseSlippagePct:      0.01,
		ImpactFactor:         0.1,
		ReferenceVolume:      1_000_000,
		SpreadSlippageWeight: 0.3,
		MaxOrderAge:          30 * time.Second,
		TouchFillProbability: 0.7,
	}
}

// Request describes an order to simulate.
type Request struct {
	Market     string
	Side       domain.OrderSide
	Size       float64
	LimitPrice float64 // post-only orders only
	Strategy   string
	PositionID string
	Reason     string
}

// Simulator owns the pending order book and resolves orders against live
// book snapshots. The fill coin-flip reads from an injectable RNG so tests
// are deterministic.
type Simulator struct {
	cfg    Config
	rng    func() float64
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*domain.Order
}

// New creates a Simulator. A nil rng selects math/rand.
func New(cfg Config, rng func() float64, logger *slog.Logger) *Simulator {
	if rng == nil {
		rng = rand.Float64
	}
	return &Simulator{
		cfg:     cfg,
		rng:     rng,
		logger:  logger.With(slog.String("component", "simulator")),
		pending: make(map[string]*domain.Order),
	}
}

// SubmitMarket executes a market order against the book. Market orders
// always fill; the price embeds slippage and the fee is charged at the taker
// rate.
func (s *Simulator) SubmitMarket(req Request, book domain.OrderBook, now time.Time) (domain.Order, error) {
	bid, ask, err := touchOf(req, book)
	if err != nil {
		return domain.Order{}, err
	}

	mid := (bid + ask) / 2
	slippagePct := s.slippagePct(mid*req.Size, bid, ask, mid)

	var fillPrice float64
	if req.Side == domain.OrderSideBuy {
		fillPrice = ask * (1 + slippagePct/100)
	} else {
		fillPrice = bid * (1 - slippagePct/100)
	}

	order := s.newOrder(req, domain.OrderTypeMarket, now)
	order.Status = domain.OrderStatusFilled
	order.FillPrice = fillPrice
	order.FilledSize = req.Size
	order.SlippagePct = slippagePct
	order.Fee = fillPrice * req.Size * s.cfg.TakerFeeRate
	order.FilledAt = &now

	s.logger.Debug("market order filled",
		slog.String("order_id", order.ID),
		slog.String("market", order.Market),
		slog.String("side", string(order.Side)),
		slog.Float64("fill_price", fillPrice),
		slog.Float64("slippage_pct", slippagePct),
	)
	return order, nil
}

// SubmitPostOnly places a maker-only limit order. A price that would cross
// the spread resolves to CANCELLED immediately, which is what guarantees the
// order can never execute as a taker. Otherwise one Bernoulli trial against
// the price's competitiveness decides FILLED at the limit price versus
// resting PENDING.
func (s *Simulator) SubmitPostOnly(req Request, book domain.OrderBook, now time.Time) (domain.Order, error) {
	bid, ask, err := touchOf(req, book)
	if err != nil {
		return domain.Order{}, err
	}
	if req.LimitPrice <= 0 {
		return domain.Order{}, fmt.Errorf("sim: post-only %s: limit price %.4f: %w", req.Market, req.LimitPrice, domain.ErrInvalidOrder)
	}

	order := s.newOrder(req, domain.OrderTypePostOnly, now)
	order.LimitPrice = req.LimitPrice

	crossing := (req.Side == domain.OrderSideBuy && req.LimitPrice >= ask) ||
		(req.Side == domain.OrderSideSell && req.LimitPrice <= bid)
	if crossing {
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.Reason = appendReason(order.Reason, "would cross spread")
		return order, nil
	}

	if s.rng() < s.fillProbability(req.Side, req.LimitPrice, bid, ask) {
		s.fillAtLimit(&order, now)
		return order, nil
	}

	order.Status = domain.OrderStatusPending
	s.mu.Lock()
	held := order
	s.pending[order.ID] = &held
	s.mu.Unlock()

	s.logger.Debug("post-only order resting",
		slog.String("order_id", order.ID),
		slog.String("market", order.Market),
		slog.Float64("limit_price", order.LimitPrice),
	)
	return order, nil
}

// OnTick re-evaluates pending orders for the book's market and returns the
// ones that reached a terminal state on this tick.
func (s *Simulator) OnTick(book domain.OrderBook, now time.Time) []domain.Order {
	bidLvl, okB := book.BestBid()
	askLvl, okA := book.BestAsk()
	if !okB || !okA {
		return nil
	}
	bid, ask := bidLvl.Price, askLvl.Price

	s.mu.Lock()
	defer s.mu.Unlock()

	var resolved []domain.Order
	for id, order := range s.pending {
		if order.Market != book.Market {
			continue
		}

		if now.Sub(order.CreatedAt) > s.cfg.MaxOrderAge {
			order.Status = domain.OrderStatusCancelled
			order.CancelledAt = &now
			order.Reason = appendReason(order.Reason, "max age exceeded")
			resolved = append(resolved, *order)
			delete(s.pending, id)
			continue
		}

		touched := (order.Side == domain.OrderSideBuy && bid <= order.LimitPrice) ||
			(order.Side == domain.OrderSideSell && ask >= order.LimitPrice)
		if touched && s.rng() < s.cfg.TouchFillProbability {
			s.fillAtLimit(order, now)
			resolved = append(resolved, *order)
			delete(s.pending, id)
		}
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	return resolved
}

// Cancel force-cancels one pending order.
func (s *Simulator) Cancel(id string, now time.Time) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.pending[id]
	if !ok {
		return domain.Order{}, false
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.Reason = appendReason(order.Reason, "cancelled")
	delete(s.pending, id)
	return *order, true
}

// CancelAll force-cancels every pending order, or only one market's when
// market is non-empty. Used on unsubscribe and on flatten.
func (s *Simulator) CancelAll(market string, now time.Time) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for id, order := range s.pending {
		if market != "" && order.Market != market {
			continue
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.Reason = appendReason(order.Reason, "cancelled")
		out = append(out, *order)
		delete(s.pending, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TakerFeeRate exposes the configured taker rate for callers that settle
// trigger exits at an exact price.
func (s *Simulator) TakerFeeRate() float64 {
	return s.cfg.TakerFeeRate
}

// Pending returns copies of the resting orders, optionally filtered by
// market.
func (s *Simulator) Pending(market string) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0, len(s.pending))
	for _, order := range s.pending {
		if market != "" && order.Market != market {
			continue
		}
		out = append(out, *order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Simulator) newOrder(req Request, typ domain.OrderType, now time.Time) domain.Order {
	return domain.Order{
		ID:         uuid.NewString(),
		Market:     req.Market,
		Side:       req.Side,
		Type:       typ,
		Size:       req.Size,
		Strategy:   req.Strategy,
		PositionID: req.PositionID,
		Reason:     req.Reason,
		CreatedAt:  now,
	}
}

func (s *Simulator) fillAtLimit(order *domain.Order, now time.Time) {
	order.Status = domain.OrderStatusFilled
	order.FillPrice = order.LimitPrice
	order.FilledSize = order.Size
	order.Fee = order.LimitPrice * order.Size * s.cfg.MakerFeeRate
	order.FilledAt = &now
}

// slippagePct models execution cost in percent: a flat base, a size-impact
// term scaling with notional against the reference volume, and a partial
// spread crossing.
func (s *Simulator) slippagePct(notional, bid, ask, mid float64) float64 {
	slippage := s.cfg.BaseSlippagePct
	if s.cfg.ReferenceVolume > 0 {
		slippage += s.cfg.ImpactFactor * (notional / s.cfg.ReferenceVolume) * 100
	}
	if mid > 0 {
		spreadPct := (ask - bid) / mid * 100
		slippage += spreadPct * s.cfg.SpreadSlippageWeight
	}
	return slippage
}

// fillProbability scores how competitive a resting price is. At the touch
// the chance is 0.5, decaying toward a 0.3 floor as the price falls behind;
// prices improving into the spread trade queue priority against adverse
// selection on a 0.6 to 0.2 ramp with a 0.1 floor.
func (s *Simulator) fillProbability(side domain.OrderSide, limit, bid, ask float64) float64 {
	var improvement float64 // fraction of touch price inside the spread
	if side == domain.OrderSideBuy {
		improvement = (limit - bid) / bid
	} else {
		improvement = (ask - limit) / ask
	}

	if improvement <= 0 {
		return math.Max(0.3, math.Min(0.85, 0.5+improvement*10))
	}

	spread := ask - bid
	if spread <= 0 {
		return 0.5
	}
	var position float64
	if side == domain.OrderSideBuy {
		position = (limit - bid) / spread
	} else {
		position = (ask - limit) / spread
	}
	return math.Max(0.1, 0.6-0.4*position)
}

// touchOf validates the request and extracts the top of book.
func touchOf(req Request, book domain.OrderBook) (bid, ask float64, err error) {
	if req.Size <= 0 {
		return 0, 0, fmt.Errorf("sim: %s size %.6f: %w", req.Market, req.Size, domain.ErrInvalidOrder)
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return 0, 0, fmt.Errorf("sim: %s side %q: %w", req.Market, req.Side, domain.ErrInvalidOrder)
	}
	bidLvl, okB := book.BestBid()
	askLvl, okA := book.BestAsk()
	if !okB || !okA {
		return 0, 0, fmt.Errorf("sim: %s book one-sided: %w", req.Market, domain.ErrBookNotReady)
	}
	return bidLvl.Price, askLvl.Price, nil
}

func appendReason(existing, extra string) string {
	if existing == "" {
		return extra
	}
	return existing + "; " + extra
}
