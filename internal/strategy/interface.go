package strategy

import (
	"context"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Strategy defines the contract for trading strategies. Handlers receive a
// read-only market view assembled by the engine; strategies keep no feed
// state of their own.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnTick(ctx context.Context, tick domain.Tick, view View) ([]domain.Signal, error)
	OnTrade(ctx context.Context, trade domain.Trade, view View) ([]domain.Signal, error)
	Close() error
}

// Config holds per-strategy configuration.
type Config struct {
	Name   string
	Size   float64 // order size in base units
	Params map[string]any
}

func (c Config) paramFloat(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func (c Config) paramInt(key string, def int) int {
	if v, ok := c.Params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

func (c Config) paramDuration(key, def string) string {
	if v, ok := c.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}
