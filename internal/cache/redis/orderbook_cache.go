package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// OrderbookCache mirrors reconstructed books into Redis for external
// consumers. Each market uses a small key family:
//
//	book:{market}:bids  sorted set, score = price, member = price string
//	book:{market}:asks  sorted set, score = price, member = price string
//	book:{market}:sizes hash, field = "{side}:{price}" -> size
//	book:{market}:bbo   hash with best_bid / best_ask
//	book:{market}:meta  hash with ts (Unix nanoseconds)
//
// Writes replace the whole snapshot inside one transactional pipeline so
// readers never observe a half-written book.
type OrderbookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOrderbookCache creates an OrderbookCache. ttl bounds how long a stale
// mirror survives after the writer stops; zero disables expiry.
func NewOrderbookCache(c *Client, ttl time.Duration) *OrderbookCache {
	return &OrderbookCache{rdb: c.rdb, ttl: ttl}
}

func bookKeys(market string) (bids, asks, sizes, bbo, meta string) {
	prefix := "book:" + market
	return prefix + ":bids", prefix + ":asks", prefix + ":sizes", prefix + ":bbo", prefix + ":meta"
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// SetSnapshot replaces the cached book for book.Market.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, book domain.OrderBook) error {
	bidsKey, asksKey, sizesKey, bboKey, metaKey := bookKeys(book.Market)

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, sizesKey, bboKey)

	sizes := make(map[string]interface{}, len(book.Bids)+len(book.Asks))
	for _, lvl := range book.Bids {
		p := formatPrice(lvl.Price)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: p})
		sizes["bid:"+p] = formatPrice(lvl.Size)
	}
	for _, lvl := range book.Asks {
		p := formatPrice(lvl.Price)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: p})
		sizes["ask:"+p] = formatPrice(lvl.Size)
	}
	if len(sizes) > 0 {
		pipe.HSet(ctx, sizesKey, sizes)
	}

	if bid, ok := book.BestBid(); ok {
		pipe.HSet(ctx, bboKey, "best_bid", formatPrice(bid.Price))
	}
	if ask, ok := book.BestAsk(); ok {
		pipe.HSet(ctx, bboKey, "best_ask", formatPrice(ask.Price))
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(book.Timestamp.UnixNano(), 10))

	if oc.ttl > 0 {
		for _, key := range []string{bidsKey, asksKey, sizesKey, bboKey, metaKey} {
			pipe.Expire(ctx, key, oc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", book.Market, err)
	}
	return nil
}

// GetSnapshot rebuilds the cached book for a market. It returns
// domain.ErrNotFound when no snapshot has been written.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, market string) (domain.OrderBook, error) {
	bidsKey, asksKey, sizesKey, _, metaKey := bookKeys(market)

	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bidsKey, 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, asksKey, 0, -1)
	sizesCmd := pipe.HGetAll(ctx, sizesKey)
	metaCmd := pipe.HGet(ctx, metaKey, "ts")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, fmt.Errorf("redis: get snapshot %s: %w", market, err)
	}

	tsRaw, err := metaCmd.Result()
	if errors.Is(err, redis.Nil) {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get snapshot meta %s: %w", market, err)
	}
	tsNano, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: parse snapshot ts %s: %w", market, err)
	}

	sizes := sizesCmd.Val()
	book := domain.OrderBook{
		Market:    market,
		Timestamp: time.Unix(0, tsNano),
	}
	for _, z := range bidsCmd.Val() {
		member, _ := z.Member.(string)
		book.Bids = append(book.Bids, domain.PriceLevel{
			Price: z.Score,
			Size:  parseSize(sizes["bid:"+member]),
		})
	}
	for _, z := range asksCmd.Val() {
		member, _ := z.Member.(string)
		book.Asks = append(book.Asks, domain.PriceLevel{
			Price: z.Score,
			Size:  parseSize(sizes["ask:"+member]),
		})
	}
	return book, nil
}

// GetBBO returns the cached best bid and ask for a market.
func (oc *OrderbookCache) GetBBO(ctx context.Context, market string) (bestBid, bestAsk float64, err error) {
	_, _, _, bboKey, _ := bookKeys(market)

	vals, err := oc.rdb.HGetAll(ctx, bboKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", market, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	bestBid, _ = strconv.ParseFloat(vals["best_bid"], 64)
	bestAsk, _ = strconv.ParseFloat(vals["best_ask"], 64)
	return bestBid, bestAsk, nil
}

func parseSize(raw string) float64 {
	size, _ := strconv.ParseFloat(raw, 64)
	return size
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
