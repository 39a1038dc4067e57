package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dydxbot/internal/config"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/feed"
	"github.com/alanyoungcy/dydxbot/internal/notify"
	"github.com/alanyoungcy/dydxbot/internal/platform/dydx"
	"github.com/alanyoungcy/dydxbot/internal/sim"
	"github.com/alanyoungcy/dydxbot/internal/strategy"
	"github.com/alanyoungcy/dydxbot/internal/trader"
)

// feedStack bundles the transport session and the frame plumbing behind it.
type feedStack struct {
	session *dydx.Session
	mux     *feed.Mux
	feeder  *feed.Feeder

	// marketSubs holds the per-market subscription IDs so markets can be
	// torn down individually.
	marketSubs map[string][]feed.SubscriptionID
}

// buildFeed assembles the session, mux, and feeder, and hooks the session
// callbacks so frames flow into the feeder and books resync after a
// reconnect.
func (a *App) buildFeed(deps *Dependencies) (*feedStack, error) {
	session := dydx.NewSession(a.cfg.Dydx.IndexerWsURL, a.cfg.Dydx.ReconnectMaxAttempts, a.logger)
	mux := feed.NewMux(session, a.logger)

	feeder, err := feed.NewFeeder(mux, deps.Books, deps.Windows, deps.Candles, a.cfg.Dydx.FrameBuffer, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build feeder: %w", err)
	}

	session.OnFrame(feeder.Enqueue)
	session.OnReconnect(feeder.InvalidateBooks)

	return &feedStack{
		session:    session,
		mux:        mux,
		feeder:     feeder,
		marketSubs: make(map[string][]feed.SubscriptionID),
	}, nil
}

// subscribeMarkets opens the orderbook and trades subscriptions for every
// configured market.
func (a *App) subscribeMarkets(ctx context.Context, fs *feedStack, markets []string) error {
	// The feeder's channel-wide handlers do the state work; these per-market
	// subscriptions exist to hold the wire subscription refcounts.
	noop := func(dydx.Frame) {}
	for _, market := range markets {
		bookID, err := fs.mux.Subscribe(ctx, dydx.ChannelOrderbook, market, noop)
		if err != nil {
			return fmt.Errorf("app: subscribe orderbook %s: %w", market, err)
		}
		tradeID, err := fs.mux.Subscribe(ctx, dydx.ChannelTrades, market, noop)
		if err != nil {
			return fmt.Errorf("app: subscribe trades %s: %w", market, err)
		}
		fs.marketSubs[market] = []feed.SubscriptionID{bookID, tradeID}
	}
	return nil
}

// unsubscribeMarkets tears down every per-market subscription. The mux
// teardown hook discards the associated book, window, and trading state.
func (a *App) unsubscribeMarkets(ctx context.Context, fs *feedStack) {
	for market, ids := range fs.marketSubs {
		for _, id := range ids {
			if err := fs.mux.Unsubscribe(ctx, id); err != nil {
				a.logger.WarnContext(ctx, "unsubscribe failed",
					slog.String("market", market),
					slog.String("error", err.Error()),
				)
			}
		}
		delete(fs.marketSubs, market)
	}
}

// marketTeardown discards the state owned outside the mux when a market's
// orderbook subscription goes away. controller may be nil in monitor mode.
func (a *App) marketTeardown(deps *Dependencies, controller *trader.Controller) func(dydx.Channel, string) {
	return func(ch dydx.Channel, market string) {
		if ch != dydx.ChannelOrderbook {
			return
		}
		deps.Books.Remove(market)
		deps.Windows.Reset(market)
		deps.Candles.Reset(market)
		if controller != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			controller.RemoveMarket(ctx, market)
		}
		a.logger.Info("market state discarded", slog.String("market", market))
	}
}

// newStrategyRegistry registers every built-in strategy with its configured
// parameters.
func (a *App) newStrategyRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	for _, name := range []string{"mean_reversion", "momentum_breakout", "scalping"} {
		cfg := strategy.Config{
			Name:   name,
			Size:   a.cfg.Strategy.Size,
			Params: a.cfg.Strategy.Params[name],
		}
		switch name {
		case "mean_reversion":
			reg.Register(strategy.NewMeanReversion(cfg, a.logger))
		case "momentum_breakout":
			reg.Register(strategy.NewMomentumBreakout(cfg, a.logger))
		case "scalping":
			reg.Register(strategy.NewScalping(cfg, a.logger))
		}
	}
	return reg
}

func simConfig(cfg *config.Config) sim.Config {
	return sim.Config{
		TakerFeeRate:         cfg.Sim.TakerFeeRate,
		MakerFeeRate:         cfg.Sim.MakerFeeRate,
		BaseSlippagePct:      cfg.Sim.BaseSlippagePct,
		ImpactFactor:         cfg.Sim.ImpactFactor,
		ReferenceVolume:      cfg.Sim.ReferenceVolume,
		SpreadSlippageWeight: cfg.Sim.SpreadSlippageWeight,
		MaxOrderAge:          cfg.Sim.MaxOrderAge.Duration,
		TouchFillProbability: cfg.Sim.TouchFillProbability,
	}
}

func traderConfig(cfg *config.Config) trader.Config {
	return trader.Config{
		MaxOpenPositions: cfg.Trader.MaxOpenPositions,
		MaxExposure:      cfg.Trader.MaxExposure,
		DailyLossLimit:   cfg.Trader.DailyLossLimit,
		MinConfidence:    cfg.Trader.MinConfidence,
		MakerOffsetPct:   cfg.Trader.MakerOffsetPct,
		TakeProfitPct:    cfg.Trader.TakeProfitPct,
		StopLossPct:      cfg.Trader.StopLossPct,
		MaxHoldTime:      cfg.Trader.MaxHoldTime.Duration,
		DedupTTL:         cfg.Trader.DedupTTL.Duration,
	}
}

// PaperMode runs the full paper-trading pipeline: feed, strategies, fill
// simulation, and the trading controller.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Any("markets", a.cfg.Dydx.Markets),
		slog.Any("strategies", a.cfg.Strategy.Active),
	)

	fs, err := a.buildFeed(deps)
	if err != nil {
		return err
	}

	// Strategy engine.
	engineCh := make(chan domain.Signal, 64)
	views := strategy.NewViewSource(deps.Books, deps.Windows, deps.Candles)
	engine := strategy.NewEngine(a.newStrategyRegistry(), views, engineCh, a.logger)
	if err := engine.SetActive(a.cfg.Strategy.Active); err != nil {
		return fmt.Errorf("app: activate strategies: %w", err)
	}
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("app: init strategies: %w", err)
	}

	// Execution simulator and controller.
	simulator := sim.New(simConfig(a.cfg), nil, a.logger)
	traderCh := make(chan domain.Signal, 64)
	controller := trader.NewController(traderConfig(a.cfg), simulator, deps.Books, traderCh, a.logger)
	controller.SetNotifier(notify.NewTradeEvents(deps.Notifier))

	// Unsubscribing a market discards its book, windows, candles, and any
	// working orders or position.
	fs.mux.OnTeardown(a.marketTeardown(deps, controller))

	g, gctx := errgroup.WithContext(ctx)

	// Forward engine signals to the controller, mirroring each one to the
	// signal stream when the mirror is up.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case sig := <-engineCh:
				if deps.Mirror != nil {
					if err := deps.Mirror.PublishSignal(gctx, sig); err != nil {
						a.logger.WarnContext(gctx, "signal mirror failed",
							slog.String("error", err.Error()),
						)
					}
				}
				select {
				case traderCh <- sig:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	fs.feeder.OnTick(func(ctx context.Context, tick domain.Tick) {
		engine.HandleTick(ctx, tick)
		controller.OnTick(ctx, tick)
		a.mirrorTick(ctx, deps, tick)
	})
	fs.feeder.OnTrade(engine.HandleTrade)

	// When the reconnect budget is spent, flatten everything; holding
	// exposure blind is worse than realizing slippage.
	fs.session.OnDown(func(err error) {
		a.logger.Error("feed down, flattening", slog.String("error", err.Error()))
		flattenCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		controller.Flatten(flattenCtx, "connection lost")
	})

	if err := fs.session.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}
	defer fs.session.Close()

	if err := a.subscribeMarkets(ctx, fs, deps.Catalog.Tickers()); err != nil {
		return err
	}

	g.Go(func() error { return fs.feeder.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })

	// Session exporter.
	exporter := trader.NewExporter(
		controller, engine, deps.BlobWriter,
		a.cfg.Export.S3Prefix, a.cfg.Export.LocalDir, a.logger,
	)
	if a.cfg.Export.Enabled {
		g.Go(func() error { return a.exportLoop(gctx, exporter) })
	}

	err = g.Wait()

	// End of session: flatten remaining exposure and write the final export.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	controller.Flatten(shutdownCtx, "shutdown")
	a.unsubscribeMarkets(shutdownCtx, fs)
	if a.cfg.Export.Enabled {
		if _, exportErr := exporter.Export(shutdownCtx, time.Now().UTC()); exportErr != nil {
			a.logger.Error("final export failed", slog.String("error", exportErr.Error()))
		}
	}
	if closeErr := engine.Close(); closeErr != nil {
		a.logger.Warn("strategy close failed", slog.String("error", closeErr.Error()))
	}

	return err
}

// MonitorMode runs the feed and the Redis mirror without any trading. It is
// the mode for watching markets and populating dashboards.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Any("markets", a.cfg.Dydx.Markets),
	)
	if deps.Mirror == nil {
		a.logger.Warn("redis is disabled; monitor mode only maintains in-process state")
	}

	fs, err := a.buildFeed(deps)
	if err != nil {
		return err
	}

	fs.feeder.OnTick(func(ctx context.Context, tick domain.Tick) {
		a.mirrorTick(ctx, deps, tick)
	})
	fs.mux.OnTeardown(a.marketTeardown(deps, nil))

	if err := fs.session.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}
	defer fs.session.Close()

	if err := a.subscribeMarkets(ctx, fs, deps.Catalog.Tickers()); err != nil {
		return err
	}

	err = fs.feeder.Run(ctx)

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.unsubscribeMarkets(teardownCtx, fs)
	return err
}

// mirrorTick pushes one tick's book state into the Redis mirror, best effort.
func (a *App) mirrorTick(ctx context.Context, deps *Dependencies, tick domain.Tick) {
	if deps.Mirror == nil {
		return
	}
	snap, err := deps.Books.Snapshot(tick.Market)
	if err != nil {
		return
	}
	if err := deps.Mirror.HandleTick(ctx, snap, tick); err != nil {
		a.logger.WarnContext(ctx, "book mirror failed",
			slog.String("market", tick.Market),
			slog.String("error", err.Error()),
		)
	}
}

// exportLoop writes a session export on every interval tick.
func (a *App) exportLoop(ctx context.Context, exporter *trader.Exporter) error {
	ticker := time.NewTicker(a.cfg.Export.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := exporter.Export(ctx, time.Now().UTC()); err != nil {
				a.logger.WarnContext(ctx, "periodic export failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
