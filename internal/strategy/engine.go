package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Engine routes market events to the active strategies and forwards any
// resulting signals to the channel consumed by the trader. Handle methods
// are invoked from the feed's single dispatch goroutine, so strategies run
// serially and observe a consistent view.
type Engine struct {
	registry *Registry
	views    *ViewSource
	signalCh chan<- domain.Signal
	logger   *slog.Logger

	mu          sync.Mutex
	activeNames []string

	recentSignals []domain.Signal
	recentLimit   int
}

// NewEngine creates an Engine emitting to signalCh.
func NewEngine(registry *Registry, views *ViewSource, signalCh chan<- domain.Signal, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		views:       views,
		signalCh:    signalCh,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		recentLimit: 500,
	}
}

// SetActive selects which registered strategies receive events. Names must
// all be registered.
func (e *Engine) SetActive(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active strategies cannot be empty")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
	}
	e.mu.Lock()
	e.activeNames = names
	e.mu.Unlock()
	e.logger.Info("active strategies set", slog.Any("strategies", names))
	return nil
}

// ActiveNames returns a copy of the active strategy names.
func (e *Engine) ActiveNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.activeNames))
	copy(out, e.activeNames)
	return out
}

// Init initializes every active strategy.
func (e *Engine) Init(ctx context.Context) error {
	for _, name := range e.ActiveNames() {
		s, err := e.registry.Get(name)
		if err != nil {
			return err
		}
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("init strategy %s: %w", name, err)
		}
	}
	return nil
}

// Close closes every active strategy.
func (e *Engine) Close() error {
	var firstErr error
	for _, name := range e.ActiveNames() {
		s, err := e.registry.Get(name)
		if err != nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HandleTick feeds a top-of-book tick to the active strategies.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) {
	view := e.views.At(tick.Market, tick.Timestamp)
	for _, name := range e.ActiveNames() {
		s, err := e.registry.Get(name)
		if err != nil {
			continue
		}
		signals, err := s.OnTick(ctx, tick, view)
		if err != nil {
			e.logger.Warn("strategy OnTick error",
				slog.String("strategy", name),
				slog.String("market", tick.Market),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.emit(ctx, signals)
	}
}

// HandleTrade feeds a trade to the active strategies.
func (e *Engine) HandleTrade(ctx context.Context, trade domain.Trade) {
	view := e.views.At(trade.Market, trade.CreatedAt)
	for _, name := range e.ActiveNames() {
		s, err := e.registry.Get(name)
		if err != nil {
			continue
		}
		signals, err := s.OnTrade(ctx, trade, view)
		if err != nil {
			e.logger.Warn("strategy OnTrade error",
				slog.String("strategy", name),
				slog.String("market", trade.Market),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.emit(ctx, signals)
	}
}

// RecentSignals returns up to limit most recent emitted signals, newest
// first.
func (e *Engine) RecentSignals(limit int) []domain.Signal {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentSignals)
	if limit > n {
		limit = n
	}
	out := make([]domain.Signal, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		sig := e.recentSignals[i]
		if sig.Metadata != nil {
			meta := make(map[string]string, len(sig.Metadata))
			for k, v := range sig.Metadata {
				meta[k] = v
			}
			sig.Metadata = meta
		}
		out = append(out, sig)
	}
	return out
}

// emit sends each signal to the signal channel, respecting cancellation.
func (e *Engine) emit(ctx context.Context, signals []domain.Signal) {
	for i := range signals {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting signals",
				slog.Int("remaining", len(signals)-i),
			)
			return
		case e.signalCh <- signals[i]:
			e.rememberSignal(signals[i])
			e.logger.Debug("signal emitted",
				slog.String("signal_id", signals[i].ID),
				slog.String("strategy", signals[i].Strategy),
				slog.String("market", signals[i].Market),
				slog.String("side", string(signals[i].Side)),
				slog.Float64("confidence", signals[i].Confidence),
			)
		}
	}
}

func (e *Engine) rememberSignal(sig domain.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentSignals = append(e.recentSignals, sig)
	if overflow := len(e.recentSignals) - e.recentLimit; overflow > 0 {
		e.recentSignals = append([]domain.Signal(nil), e.recentSignals[overflow:]...)
	}
}
