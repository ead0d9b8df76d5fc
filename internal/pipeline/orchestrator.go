// Package pipeline runs the engine's background work: the periodic risk
// sweep, the yield distribution batch, the transaction cold-storage archiver,
// and the oracle price feed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// RiskSweeper is the risk engine surface the orchestrator drives.
type RiskSweeper interface {
	MonitorAll(ctx context.Context) error
}

// YieldDistributor is the yield engine surface the orchestrator drives.
type YieldDistributor interface {
	DistributeYield(ctx context.Context) error
}

// PriceFeed is a long-running price stream, e.g. the oracle WebSocket feed.
type PriceFeed interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the engine's background goroutines.
type Orchestrator struct {
	risk            RiskSweeper
	yield           YieldDistributor
	archiver        *Archiver
	feed            PriceFeed // optional
	monitorInterval time.Duration
	yieldInterval   time.Duration
	archiveCron     string
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator. feed may be nil when no WebSocket
// oracle endpoint is configured.
func NewOrchestrator(
	risk RiskSweeper,
	yield YieldDistributor,
	archiver *Archiver,
	feed PriceFeed,
	monitorInterval time.Duration,
	yieldInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		risk:            risk,
		yield:           yield,
		archiver:        archiver,
		feed:            feed,
		monitorInterval: monitorInterval,
		yieldInterval:   yieldInterval,
		archiveCron:     archiveCron,
		logger:          logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all background loops as concurrent goroutines using an errgroup.
// Each goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		slog.Duration("monitor_interval", o.monitorInterval),
		slog.Duration("yield_interval", o.yieldInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	// 1. Risk sweep on ticker.
	g.Go(func() error {
		o.logger.Info("starting risk monitor loop")
		err := o.runSweep(ctx, o.monitorInterval, "risk monitor", o.risk.MonitorAll)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("risk monitor: %w", err)
	})

	// 2. Yield distribution on ticker.
	g.Go(func() error {
		o.logger.Info("starting yield distribution loop")
		err := o.runSweep(ctx, o.yieldInterval, "yield distribution", o.yield.DistributeYield)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("yield distribution: %w", err)
	})

	// 3. Archiver on cron schedule.
	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	// 4. Oracle price feed.
	if o.feed != nil {
		g.Go(func() error {
			o.logger.Info("starting oracle price feed")
			err := o.feed.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("oracle feed: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// runSweep runs fn immediately and then on every tick until ctx is cancelled.
// Individual run failures are logged; the loop keeps going.
func (o *Orchestrator) runSweep(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error(name+" run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info(name + " loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error(name+" run failed", slog.String("error", err.Error()))
			}
		}
	}
}
