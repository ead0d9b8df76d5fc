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
// built-in defaults, applies STABLEMINT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known STABLEMINT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "STABLEMINT_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.WsURL, "STABLEMINT_ORACLE_WS_URL")
	setStr(&cfg.Oracle.ApiKey, "STABLEMINT_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.RequestTimeout, "STABLEMINT_ORACLE_REQUEST_TIMEOUT")

	// ── Collateral gateway ──
	setStr(&cfg.Collateral.BaseURL, "STABLEMINT_COLLATERAL_BASE_URL")
	setStr(&cfg.Collateral.ApiKey, "STABLEMINT_COLLATERAL_API_KEY")
	setDuration(&cfg.Collateral.RequestTimeout, "STABLEMINT_COLLATERAL_REQUEST_TIMEOUT")
	setDuration(&cfg.Collateral.ConfirmPollInterval, "STABLEMINT_COLLATERAL_CONFIRM_POLL_INTERVAL")

	// ── Stablecoin gateway ──
	setStr(&cfg.Stablecoin.BaseURL, "STABLEMINT_STABLECOIN_BASE_URL")
	setStr(&cfg.Stablecoin.ApiKey, "STABLEMINT_STABLECOIN_API_KEY")
	setDuration(&cfg.Stablecoin.RequestTimeout, "STABLEMINT_STABLECOIN_REQUEST_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STABLEMINT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "STABLEMINT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STABLEMINT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STABLEMINT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STABLEMINT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STABLEMINT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STABLEMINT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STABLEMINT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STABLEMINT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STABLEMINT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STABLEMINT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STABLEMINT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STABLEMINT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STABLEMINT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STABLEMINT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STABLEMINT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "STABLEMINT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STABLEMINT_S3_REGION")
	setStr(&cfg.S3.Bucket, "STABLEMINT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STABLEMINT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STABLEMINT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STABLEMINT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STABLEMINT_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setStr(&cfg.Engine.CollateralAsset, "STABLEMINT_ENGINE_COLLATERAL_ASSET")
	setStr(&cfg.Engine.DestinationChain, "STABLEMINT_ENGINE_DESTINATION_CHAIN")
	setDuration(&cfg.Engine.LockTTL, "STABLEMINT_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.ConfirmTimeout, "STABLEMINT_ENGINE_CONFIRM_TIMEOUT")
	setDuration(&cfg.Engine.CompensationTimeout, "STABLEMINT_ENGINE_COMPENSATION_TIMEOUT")
	setDuration(&cfg.Engine.SettleTimeout, "STABLEMINT_ENGINE_SETTLE_TIMEOUT")

	// ── Risk ──
	setFloat64(&cfg.Risk.TargetRatio, "STABLEMINT_RISK_TARGET_RATIO")
	setFloat64(&cfg.Risk.LiquidationThreshold, "STABLEMINT_RISK_LIQUIDATION_THRESHOLD")
	setFloat64(&cfg.Risk.MinCollateralRatio, "STABLEMINT_RISK_MIN_COLLATERAL_RATIO")
	setFloat64(&cfg.Risk.MaxCollateralRatio, "STABLEMINT_RISK_MAX_COLLATERAL_RATIO")
	setDuration(&cfg.Risk.MonitorInterval, "STABLEMINT_RISK_MONITOR_INTERVAL")

	// ── Yield ──
	setFloat64(&cfg.Yield.BaseRate, "STABLEMINT_YIELD_BASE_RATE")
	setStr(&cfg.Yield.Strategy, "STABLEMINT_YIELD_STRATEGY")
	setDuration(&cfg.Yield.DistributeInterval, "STABLEMINT_YIELD_DISTRIBUTE_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STABLEMINT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "STABLEMINT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "STABLEMINT_ARCHIVE_CRON")

	// ── Audit ──
	setStr(&cfg.Audit.ViewingKeySecret, "STABLEMINT_AUDIT_VIEWING_KEY_SECRET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STABLEMINT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STABLEMINT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STABLEMINT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STABLEMINT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STABLEMINT_MODE")
	setStr(&cfg.LogLevel, "STABLEMINT_LOG_LEVEL")
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
