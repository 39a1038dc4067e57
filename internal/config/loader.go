package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DYDXBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DYDXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Dydx ──
	setStr(&cfg.Dydx.IndexerWsURL, "DYDXBOT_DYDX_INDEXER_WS_URL")
	setStringSlice(&cfg.Dydx.Markets, "DYDXBOT_DYDX_MARKETS")
	setInt(&cfg.Dydx.DepthLimit, "DYDXBOT_DYDX_DEPTH_LIMIT")
	setInt(&cfg.Dydx.ReconnectMaxAttempts, "DYDXBOT_DYDX_RECONNECT_MAX_ATTEMPTS")
	setInt(&cfg.Dydx.FrameBuffer, "DYDXBOT_DYDX_FRAME_BUFFER")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DYDXBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DYDXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DYDXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DYDXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DYDXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DYDXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DYDXBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DYDXBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DYDXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DYDXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DYDXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DYDXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DYDXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DYDXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DYDXBOT_S3_FORCE_PATH_STYLE")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "DYDXBOT_STRATEGY_ACTIVE")
	setFloat64(&cfg.Strategy.Size, "DYDXBOT_STRATEGY_SIZE")

	// ── Trader ──
	setInt(&cfg.Trader.MaxOpenPositions, "DYDXBOT_TRADER_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Trader.MaxExposure, "DYDXBOT_TRADER_MAX_EXPOSURE")
	setFloat64(&cfg.Trader.DailyLossLimit, "DYDXBOT_TRADER_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Trader.MinConfidence, "DYDXBOT_TRADER_MIN_CONFIDENCE")
	setFloat64(&cfg.Trader.MakerOffsetPct, "DYDXBOT_TRADER_MAKER_OFFSET_PCT")
	setFloat64(&cfg.Trader.TakeProfitPct, "DYDXBOT_TRADER_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trader.StopLossPct, "DYDXBOT_TRADER_STOP_LOSS_PCT")
	setDuration(&cfg.Trader.MaxHoldTime, "DYDXBOT_TRADER_MAX_HOLD_TIME")
	setDuration(&cfg.Trader.DedupTTL, "DYDXBOT_TRADER_DEDUP_TTL")

	// ── Sim ──
	setFloat64(&cfg.Sim.TakerFeeRate, "DYDXBOT_SIM_TAKER_FEE_RATE")
	setFloat64(&cfg.Sim.MakerFeeRate, "DYDXBOT_SIM_MAKER_FEE_RATE")
	setFloat64(&cfg.Sim.BaseSlippagePct, "DYDXBOT_SIM_BASE_SLIPPAGE_PCT")
	setFloat64(&cfg.Sim.ImpactFactor, "DYDXBOT_SIM_IMPACT_FACTOR")
	setFloat64(&cfg.Sim.ReferenceVolume, "DYDXBOT_SIM_REFERENCE_VOLUME")
	setFloat64(&cfg.Sim.SpreadSlippageWeight, "DYDXBOT_SIM_SPREAD_SLIPPAGE_WEIGHT")
	setDuration(&cfg.Sim.MaxOrderAge, "DYDXBOT_SIM_MAX_ORDER_AGE")
	setFloat64(&cfg.Sim.TouchFillProbability, "DYDXBOT_SIM_TOUCH_FILL_PROBABILITY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DYDXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DYDXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DYDXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DYDXBOT_NOTIFY_EVENTS")

	// ── Export ──
	setBool(&cfg.Export.Enabled, "DYDXBOT_EXPORT_ENABLED")
	setDuration(&cfg.Export.Interval, "DYDXBOT_EXPORT_INTERVAL")
	setStr(&cfg.Export.LocalDir, "DYDXBOT_EXPORT_LOCAL_DIR")
	setStr(&cfg.Export.S3Prefix, "DYDXBOT_EXPORT_S3_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "DYDXBOT_MODE")
	setStr(&cfg.LogLevel, "DYDXBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
