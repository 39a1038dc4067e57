package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

const (
	defaultMBCandleCount  = 10
	defaultMBVolumeWindow = 3
	defaultMBVolumeRatio  = 1.5
	defaultMBMaxSpreadBps = 10.0
	defaultMBSignalTTL    = 30 * time.Second
)

// MomentumBreakout fires when price pushes through the recent candle range
// on elevated volume. The forming candle never participates in the range; a
// breakout is only judged against completed history.
type MomentumBreakout struct {
	cfg    Config
	logger *slog.Logger

	candleCount  int
	volumeWindow int
	volumeRatio  float64
	maxSpreadBps float64
}

// NewMomentumBreakout creates a MomentumBreakout strategy. Params:
//
//   - "candle_count" (int): completed candles defining the range. Defaults to 10.
//   - "volume_window" (int): trailing candles in the volume burst numerator.
//     Defaults to 3.
//   - "volume_ratio" (float64): burst multiple over the average before the
//     breakout counts. Defaults to 1.5.
//   - "max_spread_bps" (float64): widest spread a signal may fire into.
//     Defaults to 10.
func NewMomentumBreakout(cfg Config, logger *slog.Logger) *MomentumBreakout {
	return &MomentumBreakout{
		cfg:          cfg,
		logger:       logger.With(slog.String("strategy", "momentum_breakout")),
		candleCount:  cfg.paramInt("candle_count", defaultMBCandleCount),
		volumeWindow: cfg.paramInt("volume_window", defaultMBVolumeWindow),
		volumeRatio:  cfg.paramFloat("volume_ratio", defaultMBVolumeRatio),
		maxSpreadBps: cfg.paramFloat("max_spread_bps", defaultMBMaxSpreadBps),
	}
}

// Name returns the strategy identifier.
func (mb *MomentumBreakout) Name() string { return "momentum_breakout" }

// Init performs one-time setup. For MomentumBreakout this is a no-op.
func (mb *MomentumBreakout) Init(_ context.Context) error { return nil }

// OnTick checks the current mid against the completed-candle range and the
// trailing volume burst.
func (mb *MomentumBreakout) OnTick(ctx context.Context, tick domain.Tick, view View) ([]domain.Signal, error) {
	_ = ctx

	if tick.SpreadBps > mb.maxSpreadBps {
		return nil, nil
	}

	candles := view.Candles(mb.candleCount)
	if len(candles) < mb.candleCount {
		return nil, nil
	}

	high, low := rangeOf(candles)

	mid := tick.MidPrice
	var side domain.OrderSide
	switch {
	case mid > high:
		side = domain.OrderSideBuy
	case mid < low:
		side = domain.OrderSideSell
	default:
		return nil, nil
	}

	ratio := volumeBurst(candles, mb.volumeWindow)
	if ratio <= mb.volumeRatio {
		return nil, nil
	}

	confidence := math.Min(100, (ratio-1)*50)
	now := view.Now

	sig := domain.Signal{
		ID:         uuid.NewString(),
		Strategy:   mb.Name(),
		Market:     tick.Market,
		Side:       side,
		Price:      mid,
		Size:       mb.cfg.Size,
		Score:      ratio,
		Confidence: confidence,
		Urgency:    domain.SignalUrgencyHigh,
		Reason:     fmt.Sprintf("breakout %s: mid=%.4f range=[%.4f, %.4f] vol_ratio=%.2f", side, mid, low, high, ratio),
		Metadata: map[string]string{
			"range_high": fmt.Sprintf("%.6f", high),
			"range_low":  fmt.Sprintf("%.6f", low),
			"vol_ratio":  fmt.Sprintf("%.4f", ratio),
			"spread_bps": fmt.Sprintf("%.2f", tick.SpreadBps),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(defaultMBSignalTTL),
	}

	mb.logger.Info("momentum breakout signal",
		slog.String("market", tick.Market),
		slog.String("side", string(side)),
		slog.Float64("mid", mid),
		slog.Float64("vol_ratio", ratio),
	)
	return []domain.Signal{sig}, nil
}

// OnTrade is a no-op; candle state is maintained by the feed.
func (mb *MomentumBreakout) OnTrade(_ context.Context, _ domain.Trade, _ View) ([]domain.Signal, error) {
	return nil, nil
}

// Close releases resources. MomentumBreakout has nothing to release.
func (mb *MomentumBreakout) Close() error { return nil }

// rangeOf returns the highest high and lowest low across the candles.
func rangeOf(candles []domain.Candle) (high, low float64) {
	high = candles[0].High
	low = candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

// volumeBurst compares the trailing window's volume to the same number of
// average-volume candles over the whole series.
func volumeBurst(candles []domain.Candle, windowSize int) float64 {
	if windowSize <= 0 || windowSize > len(candles) {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	if total == 0 {
		return 0
	}
	avg := total / float64(len(candles))

	var recent float64
	for _, c := range candles[len(candles)-windowSize:] {
		recent += c.Volume
	}
	return recent / (avg * float64(windowSize))
}
