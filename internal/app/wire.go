package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/dydxbot/internal/blob/s3"
	"github.com/alanyoungcy/dydxbot/internal/book"
	"github.com/alanyoungcy/dydxbot/internal/cache/redis"
	"github.com/alanyoungcy/dydxbot/internal/catalog"
	"github.com/alanyoungcy/dydxbot/internal/config"
	"github.com/alanyoungcy/dydxbot/internal/domain"
	"github.com/alanyoungcy/dydxbot/internal/notify"
	"github.com/alanyoungcy/dydxbot/internal/service"
	"github.com/alanyoungcy/dydxbot/internal/window"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Redis- and S3-backed fields are nil when the corresponding section is
// disabled; the trading core runs without them.
type Dependencies struct {
	// Market state
	Books   *book.Store
	Windows *window.Store
	Candles *window.CandleBuilder
	Catalog *catalog.Static

	// Redis mirror (optional)
	PriceCache domain.PriceCache
	BookCache  domain.OrderbookCache
	SignalBus  domain.SignalBus
	Mirror     *service.MirrorService

	// Object storage (optional)
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Books:   book.NewStore(cfg.Dydx.DepthLimit, logger),
		Windows: window.NewStore(0),
		Candles: window.NewCandleBuilder(0, 0),
	}

	// --- Instrument catalog ---
	cat, err := catalog.NewStatic(instruments(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("wire: catalog: %w", err)
	}
	deps.Catalog = cat

	// --- Redis mirror (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.BookCache = redis.NewOrderbookCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.Mirror = service.NewMirrorService(deps.PriceCache, deps.BookCache, deps.SignalBus, logger)
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Exports fail silently hours later when the bucket is wrong, so
		// verify access up front.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// instruments merges the configured instrument table with the market list.
// Markets without an instrument entry get zero tick and step sizes.
func instruments(cfg *config.Config) []domain.Instrument {
	byTicker := make(map[string]domain.Instrument, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		byTicker[ic.Ticker] = domain.Instrument{
			Ticker:          ic.Ticker,
			TickSize:        ic.TickSize,
			StepSize:        ic.StepSize,
			ReferenceVolume: ic.ReferenceVolume,
		}
	}

	out := make([]domain.Instrument, 0, len(cfg.Dydx.Markets))
	for _, m := range cfg.Dydx.Markets {
		if inst, ok := byTicker[m]; ok {
			out = append(out, inst)
			continue
		}
		out = append(out, domain.Instrument{Ticker: m, ReferenceVolume: cfg.Sim.ReferenceVolume})
	}
	return out
}
