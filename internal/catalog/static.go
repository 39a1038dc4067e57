// Package catalog resolves the instruments the session trades. The static
// implementation is built from configuration at startup.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Static is a config-backed InstrumentCatalog. The instrument set is fixed
// for the lifetime of the process.
type Static struct {
	byTicker map[string]domain.Instrument
	ordered  []domain.Instrument
}

// NewStatic builds a Static catalog from the given instruments. Duplicate
// tickers are rejected.
func NewStatic(instruments []domain.Instrument) (*Static, error) {
	byTicker := make(map[string]domain.Instrument, len(instruments))
	for _, inst := range instruments {
		if inst.Ticker == "" {
			return nil, fmt.Errorf("catalog: instrument with empty ticker")
		}
		if _, ok := byTicker[inst.Ticker]; ok {
			return nil, fmt.Errorf("catalog: duplicate ticker %q", inst.Ticker)
		}
		byTicker[inst.Ticker] = inst
	}

	ordered := make([]domain.Instrument, len(instruments))
	copy(ordered, instruments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Ticker < ordered[j].Ticker })

	return &Static{byTicker: byTicker, ordered: ordered}, nil
}

// List returns all instruments sorted by ticker.
func (s *Static) List(_ context.Context) ([]domain.Instrument, error) {
	out := make([]domain.Instrument, len(s.ordered))
	copy(out, s.ordered)
	return out, nil
}

// Get returns one instrument by ticker, or domain.ErrNotFound.
func (s *Static) Get(_ context.Context, ticker string) (domain.Instrument, error) {
	inst, ok := s.byTicker[ticker]
	if !ok {
		return domain.Instrument{}, fmt.Errorf("catalog: %s: %w", ticker, domain.ErrNotFound)
	}
	return inst, nil
}

// Tickers returns the sorted ticker list, convenient for subscription setup.
func (s *Static) Tickers() []string {
	out := make([]string, 0, len(s.ordered))
	for _, inst := range s.ordered {
		out = append(out, inst.Ticker)
	}
	return out
}

// Compile-time interface check.
var _ domain.InstrumentCatalog = (*Static)(nil)
