package domain

import "context"

// Instrument describes one tradable perpetual market.
type Instrument struct {
	Ticker          string  // e.g. "BTC-USD"
	TickSize        float64 // minimum price increment
	StepSize        float64 // minimum size increment
	ReferenceVolume float64 // notional baseline used for slippage impact
}

// InstrumentCatalog resolves the set of instruments to trade. The in-repo
// implementation is config-backed; discovery against the indexer REST API is
// an external concern.
type InstrumentCatalog interface {
	List(ctx context.Context) ([]Instrument, error)
	Get(ctx context.Context, ticker string) (Instrument, error)
}
