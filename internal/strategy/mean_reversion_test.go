package strategy

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func viewWithTape(mids []float64, spreadBps float64, trades []domain.Trade, now time.Time) View {
	samples := make([]domain.Tick, len(mids))
	for i, m := range mids {
		samples[i] = domain.Tick{
			Market:    "BTC-USD",
			MidPrice:  m,
			SpreadBps: spreadBps,
			Timestamp: now.Add(time.Duration(i-len(mids)) * time.Second),
		}
	}
	return View{
		Now:     now,
		Samples: func(time.Duration) []domain.Tick { return samples },
		Trades:  func(time.Duration) []domain.Trade { return trades },
		Candles: func(int) []domain.Candle { return nil },
		Forming: func() (domain.Candle, bool) { return domain.Candle{}, false },
	}
}

func viewWithSamples(mids []float64, now time.Time) View {
	return viewWithTape(mids, 0, nil, now)
}

func TestMeanReversionSellOnSpikeAboveMean(t *testing.T) {
	mr := NewMeanReversion(Config{
		Size:   0.1,
		Params: map[string]any{"min_samples": 5},
	}, testLogger())

	now := time.Now().UTC()
	mids := []float64{100, 100, 100, 100, 130}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 130, Timestamp: now}

	signals, err := mr.OnTick(context.Background(), tick, viewWithSamples(mids, now))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, domain.OrderSideSell, sig.Side)
	assert.Equal(t, "mean_reversion", sig.Strategy)
	assert.Equal(t, 0.1, sig.Size)
	assert.InDelta(t, 1.789, sig.Score, 0.001)
	// Base confidence |z|*25 = 44.72, scaled by the empty-tape volume
	// factor of 0.8.
	assert.InDelta(t, 35.78, sig.Confidence, 0.05)
	assert.Equal(t, domain.SignalUrgencyMedium, sig.Urgency)
	assert.NotEmpty(t, sig.ID)
	assert.True(t, sig.ExpiresAt.After(now))
}

func TestMeanReversionBuyBelowMean(t *testing.T) {
	mr := NewMeanReversion(Config{
		Size:   0.1,
		Params: map[string]any{"min_samples": 5},
	}, testLogger())

	now := time.Now().UTC()
	mids := []float64{100, 100, 100, 100, 70}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 70, Timestamp: now}

	signals, err := mr.OnTick(context.Background(), tick, viewWithSamples(mids, now))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.OrderSideBuy, signals[0].Side)
}

func TestMeanReversionWideSpreadCutsConfidence(t *testing.T) {
	mr := NewMeanReversion(Config{
		Size:   0.1,
		Params: map[string]any{"min_samples": 5},
	}, testLogger())

	now := time.Now().UTC()
	mids := []float64{100, 100, 100, 100, 130}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 130, Timestamp: now}

	// A 2% trailing spread deducts (2 - 0.05) * 10 = 19.5 points before the
	// volume factor applies: (44.72 - 19.5) * 0.8.
	signals, err := mr.OnTick(context.Background(), tick, viewWithTape(mids, 200, nil, now))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.InDelta(t, 20.18, signals[0].Confidence, 0.05)
}

func TestMeanReversionVolumeScalesConfidence(t *testing.T) {
	mr := NewMeanReversion(Config{
		Size:   0.1,
		Params: map[string]any{"min_samples": 5, "reference_volume": 10_000.0},
	}, testLogger())

	now := time.Now().UTC()
	mids := []float64{100, 100, 100, 100, 130}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 130, Timestamp: now}

	// Notional equal to the reference volume scores a neutral 1.0 factor.
	atRef := []domain.Trade{{Market: "BTC-USD", Price: 100, Size: 100, CreatedAt: now}}
	signals, err := mr.OnTick(context.Background(), tick, viewWithTape(mids, 0, atRef, now))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.InDelta(t, 44.72, signals[0].Confidence, 0.05)

	// Twice the reference volume caps out at 1.2x.
	busy := []domain.Trade{{Market: "BTC-USD", Price: 100, Size: 200, CreatedAt: now}}
	signals, err = mr.OnTick(context.Background(), tick, viewWithTape(mids, 0, busy, now))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.InDelta(t, 53.67, signals[0].Confidence, 0.05)
}

func TestMeanReversionInsufficientSamples(t *testing.T) {
	mr := NewMeanReversion(Config{
		Params: map[string]any{"min_samples": 10},
	}, testLogger())

	now := time.Now().UTC()
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 130, Timestamp: now}

	signals, err := mr.OnTick(context.Background(), tick, viewWithSamples([]float64{100, 100, 130}, now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMeanReversionFlatWindowNoSignal(t *testing.T) {
	mr := NewMeanReversion(Config{
		Params: map[string]any{"min_samples": 5},
	}, testLogger())

	now := time.Now().UTC()
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 100, Timestamp: now}

	signals, err := mr.OnTick(context.Background(), tick, viewWithSamples([]float64{100, 100, 100, 100, 100}, now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMeanReversionWithinThresholdNoSignal(t *testing.T) {
	mr := NewMeanReversion(Config{
		Params: map[string]any{"min_samples": 5, "z_threshold": 3.0},
	}, testLogger())

	now := time.Now().UTC()
	mids := []float64{100, 100, 100, 100, 130}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 130, Timestamp: now}

	signals, err := mr.OnTick(context.Background(), tick, viewWithSamples(mids, now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}
