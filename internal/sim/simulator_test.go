package sim

import (
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

// fixedRng returns the given values in order, then repeats the last one.
func fixedRng(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func testBook(bid, ask float64) domain.OrderBook {
	return domain.OrderBook{
		Market:    "BTC-USD",
		Bids:      []domain.PriceLevel{{Price: bid, Size: 10}},
		Asks:      []domain.PriceLevel{{Price: ask, Size: 10}},
		Timestamp: time.Now(),
	}
}

func buyReq(size float64) Request {
	return Request{Market: "BTC-USD", Side: domain.OrderSideBuy, Size: size, Strategy: "test"}
}

func TestMarketOrderSlippageAndFee(t *testing.T) {
	cfg := Config{
		TakerFeeRate:         0.0005,
		BaseSlippagePct:      0.01,
		ImpactFactor:         0.1,
		ReferenceVolume:      1_000_000,
		SpreadSlippageWeight: 0.3,
	}
	s := New(cfg, fixedRng(0.99), testLogger())

	book := testBook(100, 101)
	order, err := s.SubmitMarket(buyReq(10), book, time.Now())
	require.NoError(t, err)

	// notional = 100.5*10 = 1005; impact = 0.1*(1005/1e6)*100 = 0.01005%
	// spread% = 1/100.5 = 0.99502%; spread component = 0.29851%
	// slippage = 0.01 + 0.01005 + 0.29851 = 0.31856%
	wantSlippage := 0.01 + 0.1*(1005.0/1_000_000)*100 + (1.0/100.5*100)*0.3
	assert.InDelta(t, wantSlippage, order.SlippagePct, 1e-9)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	wantPrice := 101 * (1 + wantSlippage/100)
	assert.InDelta(t, wantPrice, order.FillPrice, 1e-9)
	assert.InDelta(t, wantPrice*10*0.0005, order.Fee, 1e-9)
	assert.Equal(t, 10.0, order.FilledSize)
	require.NotNil(t, order.FilledAt)
}

func TestMarketSellFillsBelowBid(t *testing.T) {
	s := New(DefaultConfig(), fixedRng(0.99), testLogger())

	order, err := s.SubmitMarket(Request{
		Market: "BTC-USD", Side: domain.OrderSideSell, Size: 1,
	}, testBook(100, 101), time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Less(t, order.FillPrice, 100.0)
}

func TestPostOnlyCrossingCancelled(t *testing.T) {
	s := New(DefaultConfig(), fixedRng(0.0), testLogger())
	now := time.Now()
	book := testBook(100, 101)

	// Buy at or above the ask must cancel, never fill, regardless of RNG.
	req := buyReq(1)
	req.LimitPrice = 101
	order, err := s.SubmitPostOnly(req, book, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelledAt)

	sellReq := Request{Market: "BTC-USD", Side: domain.OrderSideSell, Size: 1, LimitPrice: 100}
	order, err = s.SubmitPostOnly(sellReq, book, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
}

func TestPostOnlyBehindTouchNeverCancelled(t *testing.T) {
	now := time.Now()
	book := testBook(100, 101)

	// A buy resting behind the touch only ever fills or rests, across the
	// whole RNG range.
	for _, roll := range []float64{0.0, 0.29, 0.31, 0.5, 0.99} {
		s := New(DefaultConfig(), fixedRng(roll), testLogger())
		req := buyReq(1)
		req.LimitPrice = 100 * 0.9995
		order, err := s.SubmitPostOnly(req, book, now)
		require.NoError(t, err)
		assert.Contains(t,
			[]domain.OrderStatus{domain.OrderStatusFilled, domain.OrderStatusPending},
			order.Status,
		)
	}
}

func TestPostOnlyImmediateFillAtMakerRebate(t *testing.T) {
	s := New(DefaultConfig(), fixedRng(0.1), testLogger()) // 0.1 < p(at touch)=0.5
	now := time.Now()

	req := buyReq(2)
	req.LimitPrice = 100
	order, err := s.SubmitPostOnly(req, testBook(100, 101), now)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, 100.0, order.FillPrice)
	// Maker rebate: fee is negative.
	assert.InDelta(t, 100*2*-0.0002, order.Fee, 1e-9)
}

func TestPostOnlyRestsThenFillsOnTouch(t *testing.T) {
	// First roll rests the order, second roll fills on touch.
	s := New(DefaultConfig(), fixedRng(0.99, 0.5), testLogger())
	now := time.Now()

	req := buyReq(1)
	req.LimitPrice = 99.5
	order, err := s.SubmitPostOnly(req, testBook(100, 101), now)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, s.Pending("BTC-USD"), 1)

	// Price has not reached the limit yet: nothing resolves.
	resolved := s.OnTick(testBook(99.8, 100.2), now.Add(time.Second))
	assert.Empty(t, resolved)

	// Bid trades down through the limit: fills at the limit price with
	// probability TouchFillProbability (0.5 < 0.7).
	resolved = s.OnTick(testBook(99.4, 99.9), now.Add(2*time.Second))
	require.Len(t, resolved, 1)
	assert.Equal(t, domain.OrderStatusFilled, resolved[0].Status)
	assert.Equal(t, 99.5, resolved[0].FillPrice)
	assert.Empty(t, s.Pending("BTC-USD"))
}

func TestPendingExpiresAfterMaxAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrderAge = 30 * time.Second
	s := New(cfg, fixedRng(0.99), testLogger())
	now := time.Now()

	req := buyReq(1)
	req.LimitPrice = 99
	order, err := s.SubmitPostOnly(req, testBook(100, 101), now)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)

	resolved := s.OnTick(testBook(100, 101), now.Add(31*time.Second))
	require.Len(t, resolved, 1)
	assert.Equal(t, domain.OrderStatusCancelled, resolved[0].Status)
	assert.Contains(t, resolved[0].Reason, "max age")
}

func TestCancelAndCancelAll(t *testing.T) {
	s := New(DefaultConfig(), fixedRng(0.99), testLogger())
	now := time.Now()
	book := testBook(100, 101)

	req := buyReq(1)
	req.LimitPrice = 99
	first, err := s.SubmitPostOnly(req, book, now)
	require.NoError(t, err)
	second, err := s.SubmitPostOnly(req, book, now)
	require.NoError(t, err)

	cancelled, ok := s.Cancel(first.ID, now)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	_, ok = s.Cancel(first.ID, now)
	assert.False(t, ok)

	rest := s.CancelAll("BTC-USD", now)
	require.Len(t, rest, 1)
	assert.Equal(t, second.ID, rest[0].ID)
	assert.Empty(t, s.Pending(""))
}

func TestSubmitValidation(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())
	now := time.Now()
	book := testBook(100, 101)

	_, err := s.SubmitMarket(buyReq(0), book, now)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = s.SubmitMarket(buyReq(1), domain.OrderBook{Market: "BTC-USD"}, now)
	assert.ErrorIs(t, err, domain.ErrBookNotReady)

	req := buyReq(1)
	req.LimitPrice = 0
	_, err = s.SubmitPostOnly(req, book, now)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestFillProbabilityLadder(t *testing.T) {
	s := New(DefaultConfig(), nil, testLogger())

	// At the touch: 0.5.
	assert.InDelta(t, 0.5, s.fillProbability(domain.OrderSideBuy, 100, 100, 101), 1e-9)

	// Far behind the touch: floored at 0.3.
	assert.InDelta(t, 0.3, s.fillProbability(domain.OrderSideBuy, 90, 100, 101), 1e-9)

	// Midway into the spread: 0.6 - 0.4*0.5 = 0.4.
	assert.InDelta(t, 0.4, s.fillProbability(domain.OrderSideBuy, 100.5, 100, 101), 1e-9)

	// Sell side mirrors the buy side.
	assert.InDelta(t, 0.5, s.fillProbability(domain.OrderSideSell, 101, 100, 101), 1e-9)
	assert.InDelta(t, 0.4, s.fillProbability(domain.OrderSideSell, 100.5, 100, 101), 1e-9)
}
