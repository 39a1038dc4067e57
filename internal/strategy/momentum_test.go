package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// candlesWithVolumes builds candles ranging 95-105 with the given volumes.
func candlesWithVolumes(volumes []float64) []domain.Candle {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, len(volumes))
	for i, v := range volumes {
		out[i] = domain.Candle{
			Market: "BTC-USD",
			Start:  base.Add(time.Duration(i) * time.Minute),
			Open:   100, High: 105, Low: 95, Close: 100,
			Volume: v,
			Trades: 10,
		}
	}
	return out
}

func viewWithCandles(candles []domain.Candle, now time.Time) View {
	return View{
		Now:     now,
		Samples: func(time.Duration) []domain.Tick { return nil },
		Trades:  func(time.Duration) []domain.Trade { return nil },
		Candles: func(n int) []domain.Candle {
			if n > 0 && len(candles) > n {
				return candles[len(candles)-n:]
			}
			return candles
		},
		Forming: func() (domain.Candle, bool) { return domain.Candle{}, false },
	}
}

func TestMomentumBuyBreakoutOnVolume(t *testing.T) {
	mb := NewMomentumBreakout(Config{Size: 0.5}, testLogger())

	now := time.Now().UTC()
	// Seven quiet candles then a three-candle volume burst: ratio 2.0.
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 20, 20, 20}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 106, SpreadBps: 2, Timestamp: now}

	signals, err := mb.OnTick(context.Background(), tick, viewWithCandles(candlesWithVolumes(volumes), now))
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, domain.OrderSideBuy, sig.Side)
	assert.InDelta(t, 60.0/39.0, sig.Score, 1e-9) // 60 volume over 3x avg 13
	assert.Equal(t, domain.SignalUrgencyHigh, sig.Urgency)
}

func TestMomentumSellBreakdown(t *testing.T) {
	mb := NewMomentumBreakout(Config{Size: 0.5}, testLogger())

	now := time.Now().UTC()
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 30, 30, 30}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 94, SpreadBps: 2, Timestamp: now}

	signals, err := mb.OnTick(context.Background(), tick, viewWithCandles(candlesWithVolumes(volumes), now))
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.OrderSideSell, signals[0].Side)
}

func TestMomentumInsideRangeNoSignal(t *testing.T) {
	mb := NewMomentumBreakout(Config{}, testLogger())

	now := time.Now().UTC()
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 30, 30, 30}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 100, SpreadBps: 2, Timestamp: now}

	signals, err := mb.OnTick(context.Background(), tick, viewWithCandles(candlesWithVolumes(volumes), now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMomentumNoVolumeBurstNoSignal(t *testing.T) {
	mb := NewMomentumBreakout(Config{}, testLogger())

	now := time.Now().UTC()
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 106, SpreadBps: 2, Timestamp: now}

	signals, err := mb.OnTick(context.Background(), tick, viewWithCandles(candlesWithVolumes(volumes), now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMomentumWideSpreadGate(t *testing.T) {
	mb := NewMomentumBreakout(Config{}, testLogger())

	now := time.Now().UTC()
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 30, 30, 30}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 106, SpreadBps: 50, Timestamp: now}

	signals, err := mb.OnTick(context.Background(), tick, viewWithCandles(candlesWithVolumes(volumes), now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestMomentumTooFewCandles(t *testing.T) {
	mb := NewMomentumBreakout(Config{}, testLogger())

	now := time.Now().UTC()
	volumes := []float64{10, 30, 30, 30}
	tick := domain.Tick{Market: "BTC-USD", MidPrice: 106, SpreadBps: 2, Timestamp: now}

	signals, err := mb.OnTick(context.Background(), tick, viewWithCandles(candlesWithVolumes(volumes), now))
	require.NoError(t, err)
	assert.Empty(t, signals)
}
