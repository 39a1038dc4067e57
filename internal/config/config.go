// Package config defines the top-level configuration for the paper-trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DYDXBOT_* environment variables.
type Config struct {
	Dydx        DydxConfig         `toml:"dydx"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Strategy    StrategyConfig     `toml:"strategy"`
	Trader      TraderConfig       `toml:"trader"`
	Sim         SimConfig          `toml:"sim"`
	Notify      NotifyConfig       `toml:"notify"`
	Export      ExportConfig       `toml:"export"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// DydxConfig holds the indexer feed parameters.
type DydxConfig struct {
	IndexerWsURL string   `toml:"indexer_ws_url"`
	Markets      []string `toml:"markets"`
	DepthLimit   int      `toml:"depth_limit"`
	// ReconnectMaxAttempts bounds consecutive failed reconnects before the
	// session gives up and the bot flattens. Zero retries forever.
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
	FrameBuffer          int `toml:"frame_buffer"`
}

// InstrumentConfig describes one tradable market for the catalog. Markets
// listed under dydx.markets but absent here get zero tick/step sizes.
type InstrumentConfig struct {
	Ticker          string  `toml:"ticker"`
	TickSize        float64 `toml:"tick_size"`
	StepSize        float64 `toml:"step_size"`
	ReferenceVolume float64 `toml:"reference_volume"`
}

// RedisConfig holds Redis connection parameters for the state mirror. The
// whole mirror is optional; the trading core runs without it.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CacheTTL bounds how long mirrored book state survives after the
	// writer stops. Zero disables expiry.
	CacheTTL duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for session
// exports. Optional; exports fall back to the local filesystem.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// StrategyConfig selects the strategies to run and their tuning parameters.
// Params is keyed by strategy name; each strategy documents its own keys.
type StrategyConfig struct {
	Active []string                  `toml:"active"`
	Size   float64                   `toml:"size"`
	Params map[string]map[string]any `toml:"params"`
}

// TraderConfig holds the risk and exit parameters for the controller.
type TraderConfig struct {
	MaxOpenPositions int      `toml:"max_open_positions"`
	MaxExposure      float64  `toml:"max_exposure"`
	DailyLossLimit   float64  `toml:"daily_loss_limit"`
	MinConfidence    float64  `toml:"min_confidence"`
	MakerOffsetPct   float64  `toml:"maker_offset_pct"`
	TakeProfitPct    float64  `toml:"take_profit_pct"`
	StopLossPct      float64  `toml:"stop_loss_pct"`
	MaxHoldTime      duration `toml:"max_hold_time"`
	DedupTTL         duration `toml:"dedup_ttl"`
}

// SimConfig holds the execution-model parameters for the fill simulator.
type SimConfig struct {
	TakerFeeRate         float64  `toml:"taker_fee_rate"`
	MakerFeeRate         float64  `toml:"maker_fee_rate"`
	BaseSlippagePct      float64  `toml:"base_slippage_pct"`
	ImpactFactor         float64  `toml:"impact_factor"`
	ReferenceVolume      float64  `toml:"reference_volume"`
	SpreadSlippageWeight float64  `toml:"spread_slippage_weight"`
	MaxOrderAge          duration `toml:"max_order_age"`
	TouchFillProbability float64  `toml:"touch_fill_probability"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExportConfig controls the periodic session export.
type ExportConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	LocalDir string   `toml:"local_dir"`
	S3Prefix string   `toml:"s3_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Dydx: DydxConfig{
			IndexerWsURL:         "wss://indexer.dydx.trade/v4/ws",
			Markets:              []string{"BTC-USD", "ETH-USD"},
			DepthLimit:           20,
			ReconnectMaxAttempts: 10,
			FrameBuffer:          1024,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			CacheTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dydxbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Strategy: StrategyConfig{
			Active: []string{"mean_reversion", "momentum_breakout", "scalping"},
			Size:   0.01,
			Params: map[string]map[string]any{},
		},
		Trader: TraderConfig{
			MaxOpenPositions: 5,
			MaxExposure:      10_000,
			DailyLossLimit:   1_000,
			MinConfidence:    75,
			MakerOffsetPct:   0.02,
			TakeProfitPct:    0.6,
			StopLossPct:      0.3,
			MaxHoldTime:      duration{60 * time.Second},
			DedupTTL:         duration{2 * time.Minute},
		},
		Sim: SimConfig{
			TakerFeeRate:         0.0005,
			MakerFeeRate:         -0.0002,
			BaseSlippagePct:      0.01,
			ImpactFactor:         0.1,
			ReferenceVolume:      1_000_000,
			SpreadSlippageWeight: 0.3,
			MaxOrderAge:          duration{30 * time.Second},
			TouchFillProbability: 0.7,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "flatten"},
		},
		Export: ExportConfig{
			Enabled:  true,
			Interval: duration{5 * time.Minute},
			LocalDir: "exports",
			S3Prefix: "sessions",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Dydx
	if c.Dydx.IndexerWsURL == "" {
		errs = append(errs, "dydx: indexer_ws_url must not be empty")
	}
	if len(c.Dydx.Markets) == 0 {
		errs = append(errs, "dydx: at least one market must be configured")
	}
	for _, m := range c.Dydx.Markets {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, "dydx: markets must not contain empty entries")
			break
		}
	}
	if c.Dydx.DepthLimit < 1 {
		errs = append(errs, "dydx: depth_limit must be >= 1")
	}
	if c.Dydx.ReconnectMaxAttempts < 0 {
		errs = append(errs, "dydx: reconnect_max_attempts must be >= 0")
	}

	// Instruments must reference configured markets.
	configured := make(map[string]bool, len(c.Dydx.Markets))
	for _, m := range c.Dydx.Markets {
		configured[m] = true
	}
	for _, inst := range c.Instruments {
		if inst.Ticker == "" {
			errs = append(errs, "instruments: ticker must not be empty")
			continue
		}
		if !configured[inst.Ticker] {
			errs = append(errs, fmt.Sprintf("instruments: %q is not in dydx.markets", inst.Ticker))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Strategy
	if len(c.Strategy.Active) == 0 && c.Mode == "paper" {
		errs = append(errs, "strategy: at least one active strategy is required in paper mode")
	}
	if c.Strategy.Size <= 0 {
		errs = append(errs, "strategy: size must be > 0")
	}

	// Trader
	if c.Trader.MaxOpenPositions < 1 {
		errs = append(errs, "trader: max_open_positions must be >= 1")
	}
	if c.Trader.MaxExposure <= 0 {
		errs = append(errs, "trader: max_exposure must be > 0")
	}
	if c.Trader.MinConfidence < 0 || c.Trader.MinConfidence > 100 {
		errs = append(errs, fmt.Sprintf("trader: min_confidence must be 0-100, got %g", c.Trader.MinConfidence))
	}
	if c.Trader.TakeProfitPct <= 0 {
		errs = append(errs, "trader: take_profit_pct must be > 0")
	}
	if c.Trader.StopLossPct <= 0 {
		errs = append(errs, "trader: stop_loss_pct must be > 0")
	}
	if c.Trader.MaxHoldTime.Duration <= 0 {
		errs = append(errs, "trader: max_hold_time must be > 0")
	}

	// Sim
	if c.Sim.TouchFillProbability < 0 || c.Sim.TouchFillProbability > 1 {
		errs = append(errs, fmt.Sprintf("sim: touch_fill_probability must be 0-1, got %g", c.Sim.TouchFillProbability))
	}
	if c.Sim.ReferenceVolume < 0 {
		errs = append(errs, "sim: reference_volume must be >= 0")
	}
	if c.Sim.MaxOrderAge.Duration <= 0 {
		errs = append(errs, "sim: max_order_age must be > 0")
	}

	// Export
	if c.Export.Enabled && c.Export.Interval.Duration <= 0 {
		errs = append(errs, "export: interval must be > 0 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
