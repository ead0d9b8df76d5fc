package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/stablemint/internal/blob/s3"
	"github.com/alanyoungcy/stablemint/internal/cache/redis"
	"github.com/alanyoungcy/stablemint/internal/config"
	"github.com/alanyoungcy/stablemint/internal/crypto"
	"github.com/alanyoungcy/stablemint/internal/domain"
	"github.com/alanyoungcy/stablemint/internal/notify"
	"github.com/alanyoungcy/stablemint/internal/platform/collateral"
	"github.com/alanyoungcy/stablemint/internal/platform/oracle"
	"github.com/alanyoungcy/stablemint/internal/platform/stablecoin"
	"github.com/alanyoungcy/stablemint/internal/saga"
	"github.com/alanyoungcy/stablemint/internal/service"
	"github.com/alanyoungcy/stablemint/internal/store/postgres"
)

// Dependencies bundles every component the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
// The three services are the engine's produced interface; callers embedding
// the engine drive mint/redeem/health/liquidate/yield through them.
type Dependencies struct {
	// Stores
	Positions    domain.PositionStore
	Transactions domain.TransactionStore
	Params       domain.ParamsStore

	// Redis-backed infrastructure
	Locks  domain.LockManager
	Prices domain.PriceCache
	Events domain.EventBus

	// External ledgers
	Oracle     domain.PriceOracle
	Collateral domain.CollateralLedger
	Stablecoin domain.StablecoinLedger
	Vault      domain.YieldVault

	// Cold storage (nil unless the archive is enabled)
	Archiver *s3blob.Archiver

	// Services
	Mint  *service.MintService
	Risk  *service.RiskService
	Yield *service.YieldService

	// Notifications
	Notifier *notify.Notifier
}

// needsLedgers returns true for modes that drive the ledger gateways.
func needsLedgers(mode string) bool {
	switch mode {
	case "full", "monitor":
		return true
	default:
		return false
	}
}

// needsS3 returns true when the cold-storage archiver must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || strings.ToLower(cfg.Mode) == "archive"
}

// eventFanout delivers engine events to the durable Redis bus and, in
// parallel, to the notifier. Notifier failures are logged and never surface:
// alerting problems must not fail the operation that emitted the event.
type eventFanout struct {
	bus      domain.EventBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

func (f *eventFanout) Publish(ctx context.Context, event domain.Event) error {
	if err := f.notifier.NotifyEvent(ctx, event); err != nil {
		f.logger.WarnContext(ctx, "event notification failed",
			slog.String("event", event.Type),
			slog.String("error", err.Error()),
		)
	}
	return f.bus.Publish(ctx, event)
}

var _ domain.EventBus = (*eventFanout)(nil)

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.Positions = postgres.NewPositionStore(pgClient)
	txStore := postgres.NewTransactionStore(pgClient)
	deps.Transactions = txStore
	paramsStore := postgres.NewParamsStore(pgClient)
	deps.Params = paramsStore

	// Seed the system parameters row from config. An existing row wins, so
	// operator changes in the database survive restarts.
	seed := domain.SystemParameters{
		TargetRatio:          decimal.NewFromFloat(cfg.Risk.TargetRatio),
		LiquidationThreshold: decimal.NewFromFloat(cfg.Risk.LiquidationThreshold),
		MinCollateralRatio:   decimal.NewFromFloat(cfg.Risk.MinCollateralRatio),
		MaxCollateralRatio:   decimal.NewFromFloat(cfg.Risk.MaxCollateralRatio),
		BaseYieldRate:        decimal.NewFromFloat(cfg.Yield.BaseRate),
		YieldStrategy:        domain.YieldStrategy(strings.ToLower(cfg.Yield.Strategy)),
	}
	if err := paramsStore.EnsureDefaults(ctx, seed); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed parameters: %w", err)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Prices = redis.NewPriceCache(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// All engine events flow through the fanout: durable Redis stream plus
	// operator notifications.
	deps.Events = &eventFanout{
		bus:      redis.NewEventBus(redisClient),
		notifier: deps.Notifier,
		logger:   logger.With(slog.String("component", "event_fanout")),
	}

	// --- S3 cold storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			txStore,
			logger,
		)
	}

	// --- Ledger gateways and services ---
	if needsLedgers(mode) {
		deps.Oracle = oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.ApiKey, cfg.Oracle.RequestTimeout.Duration)

		collateralClient := collateral.NewClient(collateral.ClientConfig{
			BaseURL:             cfg.Collateral.BaseURL,
			APIKey:              cfg.Collateral.ApiKey,
			RequestTimeout:      cfg.Collateral.RequestTimeout.Duration,
			ConfirmPollInterval: cfg.Collateral.ConfirmPollInterval.Duration,
		})
		deps.Collateral = collateralClient
		deps.Vault = collateralClient

		deps.Stablecoin = stablecoin.NewClient(cfg.Stablecoin.BaseURL, cfg.Stablecoin.ApiKey, cfg.Stablecoin.RequestTimeout.Duration)

		var keys *crypto.ViewingKeyDeriver
		if cfg.Audit.ViewingKeySecret != "" {
			keys, err = crypto.NewViewingKeyDeriver(cfg.Audit.ViewingKeySecret)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: viewing keys: %w", err)
			}
		}

		// Compensation failures go out through the same event fanout, so the
		// notifier's unconditional compensation_failed delivery applies.
		events := deps.Events
		escalate := saga.EscalateFunc(func(ctx context.Context, op, stage string, err error) {
			pubErr := events.Publish(ctx, domain.Event{
				Type:   domain.EventCompensationFailed,
				Detail: fmt.Sprintf("%s/%s: %v", op, stage, err),
				At:     time.Now().UTC(),
			})
			if pubErr != nil {
				logger.ErrorContext(ctx, "compensation failure event publish failed",
					slog.String("op", op),
					slog.String("stage", stage),
					slog.String("error", pubErr.Error()),
				)
			}
		})
		sagas := saga.NewExecutor(cfg.Engine.CompensationTimeout.Duration, escalate, logger)

		deps.Mint = service.NewMintService(service.MintDeps{
			Positions:    deps.Positions,
			Transactions: deps.Transactions,
			Params:       deps.Params,
			Oracle:       deps.Oracle,
			Collateral:   deps.Collateral,
			Stablecoin:   deps.Stablecoin,
			Locks:        deps.Locks,
			Prices:       deps.Prices,
			Events:       deps.Events,
			Sagas:        sagas,
			Keys:         keys,
		}, service.MintConfig{
			CollateralAsset:  cfg.Engine.CollateralAsset,
			DestinationChain: cfg.Engine.DestinationChain,
			LockTTL:          cfg.Engine.LockTTL.Duration,
			ConfirmTimeout:   cfg.Engine.ConfirmTimeout.Duration,
		}, logger)

		deps.Risk = service.NewRiskService(service.RiskDeps{
			Positions:    deps.Positions,
			Transactions: deps.Transactions,
			Params:       deps.Params,
			Oracle:       deps.Oracle,
			Collateral:   deps.Collateral,
			Stablecoin:   deps.Stablecoin,
			Locks:        deps.Locks,
			Prices:       deps.Prices,
			Events:       deps.Events,
			Escalate:     escalate,
		}, service.RiskConfig{
			CollateralAsset: cfg.Engine.CollateralAsset,
			LockTTL:         cfg.Engine.LockTTL.Duration,
			SettleTimeout:   cfg.Engine.SettleTimeout.Duration,
		}, logger)

		deps.Yield = service.NewYieldService(service.YieldDeps{
			Positions:    deps.Positions,
			Transactions: deps.Transactions,
			Vault:        deps.Vault,
			Locks:        deps.Locks,
			Events:       deps.Events,
		}, service.YieldConfig{
			LockTTL: cfg.Engine.LockTTL.Duration,
		}, logger)
	}

	return deps, cleanup, nil
}
