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
	defaultScalpMaxSpreadBps  = 5.0
	defaultScalpEntryScore    = 80.0
	defaultScalpRunLength     = 5
	defaultScalpVolumeWindow  = 10 * time.Second
	defaultScalpFlowLookback  = 60 * time.Second
	defaultScalpSignalTTL     = 10 * time.Second
	scalpDepthSkewFullScore   = 0.3
	scalpVolumeSpikeFullScore = 1.0
	scalpTakerFullScore       = 0.6
)

// Scalping scores short-horizon entry quality from five order-flow features,
// each normalized to [0, 1]: spread tightness, top-of-book depth skew, trade
// volume spike, tick-direction run, and taker flow imbalance. The total is
// the sum scaled to [0, 100]. Spread tightness is a hard gate: no entry
// fires into a wide spread no matter how strong the other features are.
type Scalping struct {
	cfg    Config
	logger *slog.Logger

	maxSpreadBps float64
	entryScore   float64
	runLength    int
	volumeWindow time.Duration
	flowLookback time.Duration
}

// NewScalping creates a Scalping strategy. Params:
//
//   - "max_spread_bps" (float64): spread gate. Defaults to 5.
//   - "entry_score" (float64): total score required for entry. Defaults to 80.
//   - "run_length" (int): consecutive same-direction mid ticks worth a full
//     run score. Defaults to 5.
//   - "volume_window" / "flow_lookback" (string durations): short and long
//     windows for the volume spike and taker imbalance features. Default to
//     "10s" and "60s".
func NewScalping(cfg Config, logger *slog.Logger) *Scalping {
	volumeWindow := defaultScalpVolumeWindow
	if d, err := time.ParseDuration(cfg.paramDuration("volume_window", "")); err == nil && d > 0 {
		volumeWindow = d
	}
	flowLookback := defaultScalpFlowLookback
	if d, err := time.ParseDuration(cfg.paramDuration("flow_lookback", "")); err == nil && d > 0 {
		flowLookback = d
	}
	return &Scalping{
		cfg:          cfg,
		logger:       logger.With(slog.String("strategy", "scalping")),
		maxSpreadBps: cfg.paramFloat("max_spread_bps", defaultScalpMaxSpreadBps),
		entryScore:   cfg.paramFloat("entry_score", defaultScalpEntryScore),
		runLength:    cfg.paramInt("run_length", defaultScalpRunLength),
		volumeWindow: volumeWindow,
		flowLookback: flowLookback,
	}
}

// Name returns the strategy identifier.
func (sc *Scalping) Name() string { return "scalping" }

// Init performs one-time setup. For Scalping this is a no-op.
func (sc *Scalping) Init(_ context.Context) error { return nil }

// OnTick scores the current state and emits an entry signal when the total
// clears the threshold and the spread gate is satisfied.
func (sc *Scalping) OnTick(ctx context.Context, tick domain.Tick, view View) ([]domain.Signal, error) {
	_ = ctx

	spreadScore := 0.0
	if tick.SpreadBps <= sc.maxSpreadBps && tick.SpreadBps >= 0 {
		spreadScore = 1.0
	}

	skewScore, skewDir := depthSkew(tick)

	samples := view.Samples(sc.flowLookback)
	runScore, runDir := tickRun(samples, sc.runLength)

	trades := view.Trades(sc.flowLookback)
	volScore := volumeSpike(trades, sc.volumeWindow, sc.flowLookback, view.Now)
	takerScore, takerDir := takerImbalance(trades)

	total := (spreadScore + skewScore + volScore + runScore + takerScore) * 20

	if total < sc.entryScore || spreadScore != 1.0 {
		return nil, nil
	}

	// Direction comes from the tick run when one exists, else taker flow,
	// else the book skew.
	dir := runDir
	if dir == 0 {
		dir = takerDir
	}
	if dir == 0 {
		dir = skewDir
	}
	if dir == 0 {
		return nil, nil
	}
	side := domain.OrderSideBuy
	if dir < 0 {
		side = domain.OrderSideSell
	}

	now := view.Now
	sig := domain.Signal{
		ID:         uuid.NewString(),
		Strategy:   sc.Name(),
		Market:     tick.Market,
		Side:       side,
		Price:      tick.MidPrice,
		Size:       sc.cfg.Size,
		Score:      total,
		Confidence: total,
		Urgency:    domain.SignalUrgencyImmediate,
		Reason:     fmt.Sprintf("scalp %s: score=%.1f spread=%.2fbps", side, total, tick.SpreadBps),
		Metadata: map[string]string{
			"spread_score": fmt.Sprintf("%.2f", spreadScore),
			"skew_score":   fmt.Sprintf("%.2f", skewScore),
			"volume_score": fmt.Sprintf("%.2f", volScore),
			"run_score":    fmt.Sprintf("%.2f", runScore),
			"taker_score":  fmt.Sprintf("%.2f", takerScore),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(defaultScalpSignalTTL),
	}

	sc.logger.Info("scalp signal",
		slog.String("market", tick.Market),
		slog.String("side", string(side)),
		slog.Float64("score", total),
	)
	return []domain.Signal{sig}, nil
}

// OnTrade is a no-op; trade flow is read from the windows on tick.
func (sc *Scalping) OnTrade(_ context.Context, _ domain.Trade, _ View) ([]domain.Signal, error) {
	return nil, nil
}

// Close releases resources. Scalping has nothing to release.
func (sc *Scalping) Close() error { return nil }

// depthSkew scores the top-of-book size imbalance. Full score at 30%
// imbalance toward either side.
func depthSkew(tick domain.Tick) (score float64, dir int) {
	total := tick.BidDepth + tick.AskDepth
	if total == 0 {
		return 0, 0
	}
	imbalance := (tick.BidDepth - tick.AskDepth) / total
	score = math.Min(1, math.Abs(imbalance)/scalpDepthSkewFullScore)
	switch {
	case imbalance > 0:
		dir = 1
	case imbalance < 0:
		dir = -1
	}
	return score, dir
}

// tickRun counts consecutive same-direction mid moves at the tail of the
// sample window. fullRun moves earn the full score.
func tickRun(samples []domain.Tick, fullRun int) (score float64, dir int) {
	if len(samples) < 2 || fullRun <= 0 {
		return 0, 0
	}

	run := 0
	for i := len(samples) - 1; i > 0; i-- {
		d := sign(samples[i].MidPrice - samples[i-1].MidPrice)
		if d == 0 {
			break
		}
		if dir == 0 {
			dir = d
		} else if d != dir {
			break
		}
		run++
	}
	if dir == 0 {
		return 0, 0
	}
	return math.Min(1, float64(run)/float64(fullRun)), dir
}

// volumeSpike compares trade volume in the trailing short window to the
// per-window average over the lookback. Full score at 2x the average.
func volumeSpike(trades []domain.Trade, shortWindow, lookback time.Duration, now time.Time) float64 {
	if len(trades) == 0 || shortWindow <= 0 || lookback <= shortWindow {
		return 0
	}

	var total, recent float64
	cutoff := now.Add(-shortWindow)
	for _, t := range trades {
		total += t.Size
		if !t.CreatedAt.Before(cutoff) {
			recent += t.Size
		}
	}
	if total == 0 {
		return 0
	}

	windows := float64(lookback) / float64(shortWindow)
	avgPerWindow := total / windows
	if avgPerWindow == 0 {
		return 0
	}
	ratio := recent / avgPerWindow
	return clamp01((ratio - 1) / scalpVolumeSpikeFullScore)
}

// takerImbalance scores how one-sided aggressive flow is. Full score at 60%
// net flow toward either side.
func takerImbalance(trades []domain.Trade) (score float64, dir int) {
	var buy, sell float64
	for _, t := range trades {
		if t.Side == domain.OrderSideBuy {
			buy += t.Size
		} else {
			sell += t.Size
		}
	}
	total := buy + sell
	if total == 0 {
		return 0, 0
	}
	imbalance := (buy - sell) / total
	score = math.Min(1, math.Abs(imbalance)/scalpTakerFullScore)
	switch {
	case imbalance > 0:
		dir = 1
	case imbalance < 0:
		dir = -1
	}
	return score, dir
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
