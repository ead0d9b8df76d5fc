package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// secondsPerYear converts elapsed seconds into a fraction of a 365-day year
// for annualized accrual.
var secondsPerYear = decimal.NewFromInt(365 * 24 * 3600)

// YieldConfig holds the tunable parameters for the yield engine.
type YieldConfig struct {
	// LockTTL bounds how long a per-position lock is held.
	LockTTL time.Duration
}

// YieldDeps bundles the yield engine's collaborators.
type YieldDeps struct {
	Positions    domain.PositionStore
	Transactions domain.TransactionStore
	Vault        domain.YieldVault
	Locks        domain.LockManager
	Events       domain.EventBus // optional
}

// YieldService accrues time-weighted yield on locked collateral.
type YieldService struct {
	deps   YieldDeps
	cfg    YieldConfig
	logger *slog.Logger
}

// NewYieldService creates a YieldService with all required dependencies.
func NewYieldService(deps YieldDeps, cfg YieldConfig, logger *slog.Logger) *YieldService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &YieldService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "yield_service")),
	}
}

// GenerateYield accrues yield on the position's collateral for the time
// elapsed since the last accrual: collateral * (rate/100) * (elapsed/year).
// A non-positive computed amount is a no-op, not an error: nothing is
// mutated and zero is returned. Deployment failure leaves the position
// unchanged; accrual never partially updates state.
func (s *YieldService) GenerateYield(ctx context.Context, positionID string) (decimal.Decimal, error) {
	unlock, err := s.deps.Locks.Acquire(ctx, positionID, s.cfg.LockTTL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield_service: generate %s: %w", positionID, err)
	}
	defer unlock()

	pos, err := s.deps.Positions.GetByID(ctx, positionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield_service: generate: %w", err)
	}
	if pos.Liquidated {
		return decimal.Zero, fmt.Errorf("yield_service: generate %s: %w", positionID, domain.ErrPositionLiquidated)
	}

	now := time.Now().UTC()
	elapsedSeconds := int64(now.Sub(pos.LastYieldUpdate).Seconds())
	if elapsedSeconds <= 0 {
		return decimal.Zero, nil
	}

	yieldAmount := pos.CollateralAmount.
		Mul(pos.YieldRate).Div(hundred).
		Mul(decimal.NewFromInt(elapsedSeconds)).Div(secondsPerYear)
	if !yieldAmount.IsPositive() {
		return decimal.Zero, nil
	}

	deployRef, err := s.deps.Vault.Deploy(ctx, pos.ID, pos.CollateralAmount, pos.YieldStrategy)
	if err != nil {
		return decimal.Zero, fmt.Errorf("yield_service: generate %s: deploy: %w", positionID, err)
	}

	pos.YieldEarned = pos.YieldEarned.Add(yieldAmount)
	pos.LastYieldUpdate = now
	pos.UpdatedAt = now
	if err := s.deps.Positions.Update(ctx, pos); err != nil {
		return decimal.Zero, fmt.Errorf("yield_service: generate %s: persist: %w", positionID, err)
	}

	tx := domain.Transaction{
		ID:            uuid.New().String(),
		PositionID:    positionID,
		Type:          domain.TxYieldGenerate,
		Amount:        yieldAmount,
		CollateralRef: deployRef,
		Status:        domain.TxCompleted,
		CreatedAt:     now,
		CompletedAt:   &now,
	}
	if err := s.deps.Transactions.Create(ctx, tx); err != nil {
		s.logger.ErrorContext(ctx, "yield transaction record failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}

	if s.deps.Events != nil {
		event := domain.Event{
			Type:       domain.EventYieldGenerated,
			PositionID: positionID,
			AccountID:  pos.AccountID,
			Amount:     yieldAmount,
			At:         now,
		}
		if err := s.deps.Events.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "event publish failed",
				slog.String("event", event.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "yield accrued",
		slog.String("position_id", positionID),
		slog.String("amount", yieldAmount.String()),
		slog.String("total_earned", pos.YieldEarned.String()),
	)
	return yieldAmount, nil
}

// DistributeYield runs GenerateYield over every active position. Individual
// failures are logged and never abort the batch; positions locked by another
// instance are skipped.
func (s *YieldService) DistributeYield(ctx context.Context) error {
	positions, err := s.deps.Positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("yield_service: distribute: list active: %w", err)
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return fmt.Errorf("yield_service: distribute: %w", ctx.Err())
		}
		if _, err := s.GenerateYield(ctx, pos.ID); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			s.logger.WarnContext(ctx, "yield accrual failed during batch",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
