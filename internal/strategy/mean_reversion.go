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
	defaultMRLookback   = 5 * time.Minute
	defaultMRMinSamples = 30
	defaultMRThreshold  = 1.5
	defaultMRVolumeRef  = 10_000.0
	defaultMRSignalTTL  = 60 * time.Second
)

// MeanReversion buys when the mid price sits significantly below the
// trailing mean and sells when it sits significantly above. "Significantly"
// is measured in multiples of the trailing sample standard deviation.
type MeanReversion struct {
	cfg    Config
	logger *slog.Logger

	lookback   time.Duration
	minSamples int
	threshold  float64
	volumeRef  float64
}

// NewMeanReversion creates a MeanReversion strategy. The following keys are
// read from cfg.Params:
//
//   - "lookback_window" (string, parseable by time.ParseDuration): how far
//     back mid-price samples feed the mean and deviation. Defaults to "5m".
//   - "min_samples" (int): samples required before any signal. Defaults to 30.
//   - "z_threshold" (float64): deviation in sigmas before a signal fires.
//     Defaults to 1.5.
//   - "reference_volume" (float64): traded notional over the lookback that
//     counts as a fully active tape when scaling confidence. Defaults to
//     10000.
func NewMeanReversion(cfg Config, logger *slog.Logger) *MeanReversion {
	lookback := defaultMRLookback
	if d, err := time.ParseDuration(cfg.paramDuration("lookback_window", "")); err == nil && d > 0 {
		lookback = d
	}
	return &MeanReversion{
		cfg:        cfg,
		logger:     logger.With(slog.String("strategy", "mean_reversion")),
		lookback:   lookback,
		minSamples: cfg.paramInt("min_samples", defaultMRMinSamples),
		threshold:  cfg.paramFloat("z_threshold", defaultMRThreshold),
		volumeRef:  cfg.paramFloat("reference_volume", defaultMRVolumeRef),
	}
}

// Name returns the strategy identifier.
func (mr *MeanReversion) Name() string { return "mean_reversion" }

// Init performs one-time setup. For MeanReversion this is a no-op.
func (mr *MeanReversion) Init(_ context.Context) error { return nil }

// OnTick evaluates whether the current mid price deviates enough from the
// trailing average to warrant a buy or sell signal.
func (mr *MeanReversion) OnTick(ctx context.Context, tick domain.Tick, view View) ([]domain.Signal, error) {
	_ = ctx

	samples := view.Samples(mr.lookback)
	if len(samples) < mr.minSamples {
		return nil, nil
	}

	mean, stdev := meanStdev(samples)
	if stdev == 0 {
		// Flat window carries no reversion information.
		return nil, nil
	}

	mid := tick.MidPrice
	z := (mid - mean) / stdev
	if math.Abs(z) <= mr.threshold {
		return nil, nil
	}

	side := domain.OrderSideSell
	if mid < mean {
		side = domain.OrderSideBuy
	}

	// The z-score sets the base confidence; a wide trailing spread eats into
	// it (crossing the spread gives back the edge) and a quiet tape dampens
	// what remains.
	base := math.Min(100, math.Abs(z)*25)
	penalty := spreadPenalty(samples)
	volFactor := mr.volumeFactor(view.Trades(mr.lookback))
	confidence := math.Min(100, math.Max(0, base-penalty)*volFactor)
	now := view.Now

	sig := domain.Signal{
		ID:         uuid.NewString(),
		Strategy:   mr.Name(),
		Market:     tick.Market,
		Side:       side,
		Price:      mid,
		Size:       mr.cfg.Size,
		Score:      z,
		Confidence: confidence,
		Urgency:    domain.SignalUrgencyMedium,
		Reason:     fmt.Sprintf("mean reversion %s: mid=%.4f mean=%.4f z=%.2f", side, mid, mean, z),
		Metadata: map[string]string{
			"mean":           fmt.Sprintf("%.6f", mean),
			"stdev":          fmt.Sprintf("%.6f", stdev),
			"z":              fmt.Sprintf("%.4f", z),
			"threshold":      fmt.Sprintf("%.4f", mr.threshold),
			"samples":        fmt.Sprintf("%d", len(samples)),
			"spread_penalty": fmt.Sprintf("%.4f", penalty),
			"volume_factor":  fmt.Sprintf("%.4f", volFactor),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(defaultMRSignalTTL),
	}

	mr.logger.Info("mean reversion signal",
		slog.String("market", tick.Market),
		slog.String("side", string(side)),
		slog.Float64("mid", mid),
		slog.Float64("mean", mean),
		slog.Float64("z", z),
	)
	return []domain.Signal{sig}, nil
}

// OnTrade is a no-op; MeanReversion works from tick samples only.
func (mr *MeanReversion) OnTrade(_ context.Context, _ domain.Trade, _ View) ([]domain.Signal, error) {
	return nil, nil
}

// Close releases resources. MeanReversion has nothing to release.
func (mr *MeanReversion) Close() error { return nil }

// spreadPenalty converts the trailing mean spread into a confidence
// deduction: 10 points per percent of spread beyond 0.05%.
func spreadPenalty(samples []domain.Tick) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.SpreadBps
	}
	meanSpreadPct := sum / float64(len(samples)) / 100
	return math.Max(0, (meanSpreadPct-0.05)*10)
}

// volumeFactor scales confidence by the traded notional over the lookback
// relative to the reference volume, capped at 1.2x. An empty tape scores a
// flat 0.8x.
func (mr *MeanReversion) volumeFactor(trades []domain.Trade) float64 {
	var notional float64
	for _, tr := range trades {
		notional += tr.Price * tr.Size
	}
	if notional <= 0 {
		return 0.8
	}
	return math.Min(1.2, notional/mr.volumeRef)
}

// meanStdev computes the mean and sample standard deviation of mid prices.
func meanStdev(samples []domain.Tick) (mean, stdev float64) {
	n := float64(len(samples))
	if n < 2 {
		if n == 1 {
			return samples[0].MidPrice, 0
		}
		return 0, 0
	}

	var sum float64
	for _, s := range samples {
		sum += s.MidPrice
	}
	mean = sum / n

	var ss float64
	for _, s := range samples {
		d := s.MidPrice - mean
		ss += d * d
	}
	stdev = math.Sqrt(ss / (n - 1))
	return mean, stdev
}
