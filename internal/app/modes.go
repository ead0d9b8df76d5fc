package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stablemint/internal/domain"
	"github.com/alanyoungcy/stablemint/internal/feed"
	"github.com/alanyoungcy/stablemint/internal/pipeline"
)

// FullMode runs the complete engine: the risk sweep with liquidation, yield
// distribution, the cold-storage archiver when enabled, and the oracle push
// feed when configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	// Price pushes nudge the risk sweep so a crash is acted on before the next
	// scheduled tick. The channel holds one pending nudge; more are dropped.
	sweepCh := make(chan struct{}, 1)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sweepCh:
				if err := deps.Risk.MonitorAll(ctx); err != nil && ctx.Err() == nil {
					a.logger.ErrorContext(ctx, "push-triggered risk sweep failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})

	orch := pipeline.NewOrchestrator(
		deps.Risk,
		deps.Yield,
		a.buildArchivePipeline(deps),
		a.buildPriceFeed(deps, sweepCh),
		a.cfg.Risk.MonitorInterval.Duration,
		a.cfg.Yield.DistributeInterval.Duration,
		a.cfg.Archive.Cron,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// MonitorMode runs read-only health sweeps: positions are checked and their
// risk state persisted, but nothing is ever liquidated. The push feed still
// refreshes the price cache when configured.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	orch := pipeline.NewOrchestrator(
		checkOnlySweeper{deps.Risk},
		noopDistributor{},
		nil,
		a.buildPriceFeed(deps, nil),
		a.cfg.Risk.MonitorInterval.Duration,
		a.cfg.Yield.DistributeInterval.Duration,
		"",
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// ArchiveMode runs only the cold-storage archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	arch := a.buildArchivePipeline(deps)
	if arch == nil {
		return fmt.Errorf("archive mode requires s3 storage (set archive.enabled or the s3 section)")
	}

	err := arch.RunCron(ctx, a.cfg.Archive.Cron)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// buildArchivePipeline wraps the blob archiver in the scheduled pipeline.
// Returns nil when cold storage is not wired.
func (a *App) buildArchivePipeline(deps *Dependencies) *pipeline.Archiver {
	if deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
}

// buildPriceFeed creates the oracle WebSocket feed, or nil when no WS endpoint
// is configured. Every push lands in the reporting cache; when sweepCh is
// non-nil a push also requests an immediate risk sweep.
func (a *App) buildPriceFeed(deps *Dependencies, sweepCh chan<- struct{}) pipeline.PriceFeed {
	if a.cfg.Oracle.WsURL == "" {
		return nil
	}

	prices := deps.Prices
	logger := a.logger
	onPrice := func(ctx context.Context, asset string, point domain.PricePoint) {
		if err := prices.SetPrice(ctx, asset, point); err != nil {
			logger.WarnContext(ctx, "price cache write failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
		if sweepCh != nil {
			select {
			case sweepCh <- struct{}{}:
			default: // a sweep is already pending
			}
		}
	}

	return feed.NewOracleWSFeed(
		a.cfg.Oracle.WsURL,
		a.cfg.Oracle.ApiKey,
		a.cfg.Engine.CollateralAsset,
		onPrice,
		a.logger,
	)
}

// checkOnlySweeper adapts the risk service's health-check-only sweep to the
// orchestrator's sweeper surface for monitor mode.
type checkOnlySweeper struct {
	risk interface {
		CheckAll(ctx context.Context) error
	}
}

func (s checkOnlySweeper) MonitorAll(ctx context.Context) error {
	return s.risk.CheckAll(ctx)
}

// noopDistributor satisfies the orchestrator in monitor mode, where yield is
// never accrued.
type noopDistributor struct{}

func (noopDistributor) DistributeYield(context.Context) error { return nil }
