// Package config defines the top-level configuration for the stablemint
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STABLEMINT_* environment variables.
type Config struct {
	Oracle     OracleConfig     `toml:"oracle"`
	Collateral CollateralConfig `toml:"collateral"`
	Stablecoin StablecoinConfig `toml:"stablecoin"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Yield      YieldConfig      `toml:"yield"`
	Archive    ArchiveConfig    `toml:"archive"`
	Audit      AuditConfig      `toml:"audit"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// OracleConfig holds the price oracle endpoints and credentials. WsURL is
// optional; when empty the push feed is disabled and the engine relies on the
// scheduled sweeps alone.
type OracleConfig struct {
	BaseURL        string   `toml:"base_url"`
	WsURL          string   `toml:"ws_url"`
	ApiKey         string   `toml:"api_key"`
	RequestTimeout duration `toml:"request_timeout"`
}

// CollateralConfig holds the collateral-chain custody gateway parameters.
type CollateralConfig struct {
	BaseURL             string   `toml:"base_url"`
	ApiKey              string   `toml:"api_key"`
	RequestTimeout      duration `toml:"request_timeout"`
	ConfirmPollInterval duration `toml:"confirm_poll_interval"`
}

// StablecoinConfig holds the stablecoin-chain issuance gateway parameters.
type StablecoinConfig struct {
	BaseURL        string   `toml:"base_url"`
	ApiKey         string   `toml:"api_key"`
	RequestTimeout duration `toml:"request_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN, when set, takes
// precedence over the individual fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the transaction
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the parameters shared across the mint, risk, and yield
// services.
type EngineConfig struct {
	// CollateralAsset is the oracle symbol of the collateral asset.
	CollateralAsset string `toml:"collateral_asset"`
	// DestinationChain is the hint passed to the custody gateway on lock.
	DestinationChain string `toml:"destination_chain"`
	// LockTTL bounds how long a per-position lock is held.
	LockTTL duration `toml:"lock_ttl"`
	// ConfirmTimeout bounds the wait for on-chain lock confirmation.
	ConfirmTimeout duration `toml:"confirm_timeout"`
	// CompensationTimeout bounds saga rollbacks.
	CompensationTimeout duration `toml:"compensation_timeout"`
	// SettleTimeout bounds the debt burn that follows a committed seizure.
	SettleTimeout duration `toml:"settle_timeout"`
}

// RiskConfig holds the collateralization thresholds (percentages; 150 means
// 150%) used to seed the system parameters row, plus the sweep interval.
// After first boot the thresholds live in the database; changing them here
// does not overwrite an existing row.
type RiskConfig struct {
	TargetRatio          float64  `toml:"target_ratio"`
	LiquidationThreshold float64  `toml:"liquidation_threshold"`
	MinCollateralRatio   float64  `toml:"min_collateral_ratio"`
	MaxCollateralRatio   float64  `toml:"max_collateral_ratio"`
	MonitorInterval      duration `toml:"monitor_interval"`
}

// YieldConfig holds yield accrual parameters. BaseRate is the annualized rate
// in percent used to seed the system parameters row.
type YieldConfig struct {
	BaseRate           float64  `toml:"base_rate"`
	Strategy           string   `toml:"strategy"`
	DistributeInterval duration `toml:"distribute_interval"`
}

// ArchiveConfig holds the cold-storage archive schedule.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// AuditConfig holds the viewing-key derivation secret. When empty, mints
// requesting an audit key are rejected.
type AuditConfig struct {
	ViewingKeySecret string `toml:"viewing_key_secret"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
		Oracle: OracleConfig{
			BaseURL:        "http://localhost:8545",
			RequestTimeout: duration{10 * time.Second},
		},
		Collateral: CollateralConfig{
			BaseURL:             "http://localhost:8600",
			RequestTimeout:      duration{15 * time.Second},
			ConfirmPollInterval: duration{2 * time.Second},
		},
		Stablecoin: StablecoinConfig{
			BaseURL:        "http://localhost:8700",
			RequestTimeout: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "stablemint",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stablemint-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			CollateralAsset:     "NATIVE",
			DestinationChain:    "stablechain",
			LockTTL:             duration{30 * time.Second},
			ConfirmTimeout:      duration{2 * time.Minute},
			CompensationTimeout: duration{30 * time.Second},
			SettleTimeout:       duration{30 * time.Second},
		},
		Risk: RiskConfig{
			TargetRatio:          150,
			LiquidationThreshold: 120,
			MinCollateralRatio:   130,
			MaxCollateralRatio:   500,
			MonitorInterval:      duration{time.Minute},
		},
		Yield: YieldConfig{
			BaseRate:           5,
			Strategy:           "lending",
			DistributeInterval: duration{time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Notify: NotifyConfig{
			Events: []string{"position_liquidated", "compensation_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validYieldStrategies enumerates the accepted values for Yield.Strategy.
var validYieldStrategies = map[string]bool{
	"lending": true,
	"staking": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Oracle
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	// Ledger gateways are required for every mode except archive.
	if strings.ToLower(c.Mode) != "archive" {
		if c.Collateral.BaseURL == "" {
			errs = append(errs, "collateral: base_url must not be empty")
		}
		if c.Stablecoin.BaseURL == "" {
			errs = append(errs, "stablecoin: base_url must not be empty")
		}
		if c.Engine.CollateralAsset == "" {
			errs = append(errs, "engine: collateral_asset must not be empty")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Risk thresholds: 0 < liquidation_threshold <= min <= target <= max.
	if c.Risk.LiquidationThreshold <= 0 {
		errs = append(errs, "risk: liquidation_threshold must be > 0")
	}
	if c.Risk.MinCollateralRatio < c.Risk.LiquidationThreshold {
		errs = append(errs, "risk: min_collateral_ratio must be >= liquidation_threshold")
	}
	if c.Risk.TargetRatio < c.Risk.MinCollateralRatio {
		errs = append(errs, "risk: target_ratio must be >= min_collateral_ratio")
	}
	if c.Risk.MaxCollateralRatio < c.Risk.TargetRatio {
		errs = append(errs, "risk: max_collateral_ratio must be >= target_ratio")
	}
	if c.Risk.MonitorInterval.Duration <= 0 {
		errs = append(errs, "risk: monitor_interval must be > 0")
	}

	// Yield
	if c.Yield.BaseRate < 0 {
		errs = append(errs, "yield: base_rate must be >= 0")
	}
	if !validYieldStrategies[strings.ToLower(c.Yield.Strategy)] {
		errs = append(errs, fmt.Sprintf("yield: unknown strategy %q (valid: lending, staking)", c.Yield.Strategy))
	}
	if c.Yield.DistributeInterval.Duration <= 0 {
		errs = append(errs, "yield: distribute_interval must be > 0")
	}

	// S3 settings only matter when the archiver runs.
	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when the archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when the archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when the archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
