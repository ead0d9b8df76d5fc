package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRiskOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Risk.LiquidationThreshold = 160
	cfg.Risk.MinCollateralRatio = 130

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_collateral_ratio must be >= liquidation_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
}

func TestValidateUnknownYieldStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.Yield.Strategy = "arbitrage"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestValidateArchiveRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: endpoint must not be empty")
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")
}

func TestValidateArchiveModeSkipsLedgers(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Collateral.BaseURL = ""
	cfg.Stablecoin.BaseURL = ""
	cfg.Engine.CollateralAsset = ""

	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	cfg.Yield.DistributeInterval = duration{0}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
	assert.Contains(t, err.Error(), "yield: distribute_interval must be > 0")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "monitor"

[postgres]
database = "stablemint_test"

[risk]
monitor_interval = "15s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "stablemint_test", cfg.Postgres.Database)
	assert.Equal(t, 15*time.Second, cfg.Risk.MonitorInterval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 150.0, cfg.Risk.TargetRatio)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STABLEMINT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("STABLEMINT_POSTGRES_POOL_MAX_CONNS", "25")
	t.Setenv("STABLEMINT_RISK_TARGET_RATIO", "175.5")
	t.Setenv("STABLEMINT_ENGINE_LOCK_TTL", "45s")
	t.Setenv("STABLEMINT_ARCHIVE_ENABLED", "true")
	t.Setenv("STABLEMINT_NOTIFY_EVENTS", "position_liquidated, yield_distributed")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 25, cfg.Postgres.PoolMaxConns)
	assert.Equal(t, 175.5, cfg.Risk.TargetRatio)
	assert.Equal(t, 45*time.Second, cfg.Engine.LockTTL.Duration)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, []string{"position_liquidated", "yield_distributed"}, cfg.Notify.Events)
}

func TestEnvOverrideIgnoresEmptyAndMalformed(t *testing.T) {
	t.Setenv("STABLEMINT_REDIS_ADDR", "")
	t.Setenv("STABLEMINT_POSTGRES_PORT", "not-a-number")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.ApiKey = "oracle-key"
	cfg.Postgres.Password = "pg-pass"
	cfg.Postgres.DSN = "postgres://u:p@host/db"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.AccessKey = "ak"
	cfg.S3.SecretKey = "sk"
	cfg.Audit.ViewingKeySecret = "vk-secret"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Oracle.ApiKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Postgres.DSN)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Audit.ViewingKeySecret)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Notify.DiscordWebhookURL)

	// Non-secret fields survive untouched.
	assert.Equal(t, cfg.Postgres.Database, red.Postgres.Database)
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
}
