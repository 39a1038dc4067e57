package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleAggregation(t *testing.T) {
	b := NewCandleBuilder(time.Minute, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Add(tradeAt("BTC-USD", 100, 1, base.Add(5*time.Second)))
	b.Add(tradeAt("BTC-USD", 103, 2, base.Add(20*time.Second)))
	b.Add(tradeAt("BTC-USD", 99, 1, base.Add(40*time.Second)))
	b.Add(tradeAt("BTC-USD", 101, 3, base.Add(55*time.Second)))

	// Nothing completed until a later bucket opens.
	assert.Empty(t, b.Completed("BTC-USD", 0))

	forming, ok := b.Forming("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, base, forming.Start)
	assert.Equal(t, 100.0, forming.Open)
	assert.Equal(t, 103.0, forming.High)
	assert.Equal(t, 99.0, forming.Low)
	assert.Equal(t, 101.0, forming.Close)
	assert.Equal(t, 7.0, forming.Volume)
	assert.Equal(t, 4, forming.Trades)

	// First trade of the next minute seals the candle.
	b.Add(tradeAt("BTC-USD", 102, 1, base.Add(61*time.Second)))

	completed := b.Completed("BTC-USD", 0)
	require.Len(t, completed, 1)
	assert.Equal(t, base, completed[0].Start)
	assert.Equal(t, 101.0, completed[0].Close)

	forming, ok = b.Forming("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), forming.Start)
	assert.Equal(t, 102.0, forming.Open)
}

func TestCandleGapSealsSingleCandle(t *testing.T) {
	b := NewCandleBuilder(time.Minute, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Add(tradeAt("BTC-USD", 100, 1, base))
	// Quiet markets produce no empty candles for the skipped minutes.
	b.Add(tradeAt("BTC-USD", 105, 1, base.Add(5*time.Minute)))

	completed := b.Completed("BTC-USD", 0)
	require.Len(t, completed, 1)
	assert.Equal(t, base, completed[0].Start)
}

func TestCandleRetention(t *testing.T) {
	b := NewCandleBuilder(time.Minute, 3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		b.Add(tradeAt("BTC-USD", float64(100+i), 1, base.Add(time.Duration(i)*time.Minute)))
	}

	completed := b.Completed("BTC-USD", 0)
	require.Len(t, completed, 3)
	assert.Equal(t, base.Add(2*time.Minute), completed[0].Start)
	assert.Equal(t, base.Add(4*time.Minute), completed[2].Start)

	lastTwo := b.Completed("BTC-USD", 2)
	require.Len(t, lastTwo, 2)
	assert.Equal(t, base.Add(3*time.Minute), lastTwo[0].Start)
}

func TestCandleStaleTradeDropped(t *testing.T) {
	b := NewCandleBuilder(time.Minute, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Add(tradeAt("BTC-USD", 100, 1, base.Add(time.Minute)))
	b.Add(tradeAt("BTC-USD", 999, 1, base.Add(10*time.Second)))

	forming, ok := b.Forming("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, 100.0, forming.Close)
	assert.Equal(t, 1, forming.Trades)
	assert.Empty(t, b.Completed("BTC-USD", 0))
}

func TestCandleCompletedIsCopy(t *testing.T) {
	b := NewCandleBuilder(time.Minute, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Add(tradeAt("BTC-USD", 100, 1, base))
	b.Add(tradeAt("BTC-USD", 101, 1, base.Add(time.Minute)))

	first := b.Completed("BTC-USD", 0)
	require.Len(t, first, 1)
	first[0].Close = 999

	again := b.Completed("BTC-USD", 0)
	assert.Equal(t, 100.0, again[0].Close)
}
