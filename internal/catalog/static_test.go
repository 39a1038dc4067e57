package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

func TestStaticListSortedByTicker(t *testing.T) {
	cat, err := NewStatic([]domain.Instrument{
		{Ticker: "ETH-USD", TickSize: 0.1},
		{Ticker: "BTC-USD", TickSize: 1},
	})
	require.NoError(t, err)

	instruments, err := cat.List(context.Background())
	require.NoError(t, err)
	require.Len(t, instruments, 2)
	assert.Equal(t, "BTC-USD", instruments[0].Ticker)
	assert.Equal(t, "ETH-USD", instruments[1].Ticker)

	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cat.Tickers())
}

func TestStaticGet(t *testing.T) {
	cat, err := NewStatic([]domain.Instrument{{Ticker: "BTC-USD", StepSize: 0.001}})
	require.NoError(t, err)

	inst, err := cat.Get(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 0.001, inst.StepSize)

	_, err = cat.Get(context.Background(), "SOL-USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStaticRejectsDuplicatesAndEmptyTickers(t *testing.T) {
	_, err := NewStatic([]domain.Instrument{{Ticker: "BTC-USD"}, {Ticker: "BTC-USD"}})
	assert.Error(t, err)

	_, err = NewStatic([]domain.Instrument{{Ticker: ""}})
	assert.Error(t, err)
}
