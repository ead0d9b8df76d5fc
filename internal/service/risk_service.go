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
	"github.com/alanyoungcy/stablemint/internal/saga"
)

// RiskConfig holds the tunable parameters for the risk engine.
type RiskConfig struct {
	// CollateralAsset is the oracle symbol for the collateral asset.
	CollateralAsset string
	// LockTTL bounds how long a per-position lock is held.
	LockTTL time.Duration
	// SettleTimeout bounds the debt burn that follows a committed seizure.
	SettleTimeout time.Duration
}

// RiskDeps bundles the risk engine's collaborators.
type RiskDeps struct {
	Positions    domain.PositionStore
	Transactions domain.TransactionStore
	Params       domain.ParamsStore
	Oracle       domain.PriceOracle
	Collateral   domain.CollateralLedger
	Stablecoin   domain.StablecoinLedger
	Locks        domain.LockManager
	Prices       domain.PriceCache // optional, reporting only
	Events       domain.EventBus   // optional
	// Escalate receives burn failures after a committed seizure. Reversing a
	// seizure is not a safe default, so these are fatal and go out-of-band.
	Escalate saga.EscalateFunc
}

// RiskService evaluates position solvency and performs liquidation.
type RiskService struct {
	deps   RiskDeps
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(deps RiskDeps, cfg RiskConfig, logger *slog.Logger) *RiskService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	return &RiskService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// CheckHealth recomputes the position's collateralization ratio against a
// fresh oracle price, persists the updated risk state, and returns the full
// health report.
func (s *RiskService) CheckHealth(ctx context.Context, positionID string) (domain.HealthReport, error) {
	unlock, err := s.deps.Locks.Acquire(ctx, positionID, s.cfg.LockTTL)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("risk_service: check %s: %w", positionID, err)
	}
	defer unlock()

	return s.checkHealthLocked(ctx, positionID)
}

// checkHealthLocked is CheckHealth without lock acquisition, for callers that
// already hold the position lock.
func (s *RiskService) checkHealthLocked(ctx context.Context, positionID string) (domain.HealthReport, error) {
	pos, err := s.deps.Positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("risk_service: check: %w", err)
	}
	if pos.Liquidated {
		return domain.HealthReport{}, fmt.Errorf("risk_service: check %s: %w", positionID, domain.ErrPositionLiquidated)
	}

	params, err := s.deps.Params.Get(ctx)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("risk_service: check: load parameters: %w", err)
	}

	price, err := s.deps.Oracle.GetPrice(ctx, s.cfg.CollateralAsset)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("risk_service: check %s: %w", positionID, err)
	}
	s.recordPrice(ctx, price)

	now := time.Now().UTC()
	report := domain.HealthReport{
		PositionID:      positionID,
		CollateralValue: pos.CollateralAmount.Mul(price),
		Debt:            pos.StablecoinDebt,
		CheckedAt:       now,
	}

	if pos.StablecoinDebt.IsZero() {
		// Fully unwound: no debt to cover, nothing at risk.
		report.Status = domain.HealthHealthy
		report.Score = domain.HealthScore(params.TargetRatio, params.TargetRatio, params.LiquidationThreshold)
	} else {
		report.Ratio = domain.CollateralRatio(pos.CollateralAmount, price, pos.StablecoinDebt)
		report.Status = domain.ClassifyHealth(report.Ratio, params.TargetRatio, params.LiquidationThreshold)
		report.Score = domain.HealthScore(report.Ratio, params.TargetRatio, params.LiquidationThreshold)
		report.LiquidationPrice = domain.LiquidationPrice(pos.StablecoinDebt, params.LiquidationThreshold, pos.CollateralAmount)
	}

	pos.CollateralRatio = report.Ratio
	pos.HealthStatus = report.Status
	pos.LastHealthCheck = now
	if err := s.deps.Positions.Update(ctx, pos); err != nil {
		return domain.HealthReport{}, fmt.Errorf("risk_service: check %s: persist: %w", positionID, err)
	}

	return report, nil
}

// Liquidate force-closes a Critical position: it seizes all remaining
// collateral, burns the outstanding debt, and marks the position liquidated.
// There is no compensation path: a burn failure after a committed seizure is
// escalated, since reversing a seizure is not a safe default. An already
// liquidated position is never seized or burned again. It returns the
// collateral-ledger seize reference.
func (s *RiskService) Liquidate(ctx context.Context, positionID string) (string, error) {
	unlock, err := s.deps.Locks.Acquire(ctx, positionID, s.cfg.LockTTL)
	if err != nil {
		return "", fmt.Errorf("risk_service: liquidate %s: %w", positionID, err)
	}
	defer unlock()

	pos, err := s.deps.Positions.GetByID(ctx, positionID)
	if err != nil {
		return "", fmt.Errorf("risk_service: liquidate: %w", err)
	}
	if pos.Liquidated {
		return "", fmt.Errorf("risk_service: liquidate %s: %w", positionID, domain.ErrPositionLiquidated)
	}

	report, err := s.checkHealthLocked(ctx, positionID)
	if err != nil {
		return "", err
	}
	if report.Status != domain.HealthCritical {
		return "", fmt.Errorf("risk_service: liquidate %s: status %s: %w",
			positionID, report.Status, domain.ErrNotLiquidatable)
	}

	now := time.Now().UTC()
	tx := domain.Transaction{
		ID:         uuid.New().String(),
		PositionID: positionID,
		Type:       domain.TxLiquidate,
		Amount:     pos.StablecoinDebt,
		Status:     domain.TxPending,
		CreatedAt:  now,
	}
	if err := s.deps.Transactions.Create(ctx, tx); err != nil {
		return "", fmt.Errorf("risk_service: liquidate: record transaction: %w", err)
	}

	seizeRef, err := s.deps.Collateral.Seize(ctx, pos.CollateralAddress, pos.CollateralAmount)
	if err != nil {
		s.completeTx(ctx, tx.ID, domain.TxFailed, "", "", err.Error())
		return "", fmt.Errorf("risk_service: liquidate %s: seize: %w", positionID, err)
	}

	// The seizure is committed; the burn must be attempted even if the caller
	// cancels, so it runs on a detached bounded context.
	burnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SettleTimeout)
	defer cancel()

	burnRef, err := s.deps.Stablecoin.Burn(burnCtx, pos.StablecoinAddress, pos.StablecoinDebt, pos.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "debt burn failed after committed seizure",
			slog.String("position_id", positionID),
			slog.String("seize_ref", seizeRef),
			slog.String("error", err.Error()),
		)
		if s.deps.Escalate != nil {
			s.deps.Escalate(burnCtx, "liquidate", "burn_debt", err)
		}
		s.completeTx(ctx, tx.ID, domain.TxFailed, seizeRef, "", err.Error())
		return "", fmt.Errorf("risk_service: liquidate %s: burn after seize %s: %w", positionID, seizeRef, err)
	}

	seizedCollateral := pos.CollateralAmount
	burnedDebt := pos.StablecoinDebt

	pos.CollateralAmount = decimal.Zero
	pos.StablecoinDebt = decimal.Zero
	pos.StablecoinBalance = pos.StablecoinBalance.Sub(burnedDebt)
	if pos.StablecoinBalance.IsNegative() {
		pos.StablecoinBalance = decimal.Zero
	}
	pos.CollateralRatio = report.Ratio
	pos.HealthStatus = domain.HealthCritical
	pos.LastHealthCheck = report.CheckedAt
	pos.Liquidated = true
	pos.LiquidatedAt = &now
	pos.LiquidationRef = seizeRef
	pos.UpdatedAt = now
	if err := s.deps.Positions.Update(ctx, pos); err != nil {
		// Both ledger legs committed but the record still shows the position
		// live, so the next sweep would seize already-seized collateral. Same
		// unreconciled class as a failed compensation.
		s.logger.ErrorContext(ctx, "liquidated position persist failed",
			slog.String("position_id", positionID),
			slog.String("seize_ref", seizeRef),
			slog.String("error", err.Error()),
		)
		if s.deps.Escalate != nil {
			s.deps.Escalate(ctx, "liquidate", "persist_position", err)
		}
		return "", fmt.Errorf("risk_service: liquidate %s: persist: %w", positionID, err)
	}

	delta := domain.TotalsDelta{
		CollateralLocked: seizedCollateral.Neg(),
		StablecoinSupply: burnedDebt.Neg(),
		Debt:             burnedDebt.Neg(),
	}
	if err := s.deps.Params.AdjustTotals(ctx, delta); err != nil {
		// The position is settled but the aggregates still count its
		// collateral and debt; nothing retries this, so it needs an operator.
		s.logger.ErrorContext(ctx, "totals adjustment failed after liquidation",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		if s.deps.Escalate != nil {
			s.deps.Escalate(ctx, "liquidate", "adjust_totals", err)
		}
	}

	s.completeTx(ctx, tx.ID, domain.TxCompleted, seizeRef, burnRef, "")
	s.publish(ctx, domain.Event{
		Type:       domain.EventPositionLiquidated,
		PositionID: positionID,
		AccountID:  pos.AccountID,
		Amount:     burnedDebt,
		Detail:     "ratio " + report.Ratio.StringFixed(2),
		At:         now,
	})

	s.logger.WarnContext(ctx, "position liquidated",
		slog.String("position_id", positionID),
		slog.String("seize_ref", seizeRef),
		slog.String("collateral_seized", seizedCollateral.String()),
		slog.String("debt_burned", burnedDebt.String()),
	)
	return seizeRef, nil
}

// MonitorAll sweeps every active position: each gets a health check, and any
// that lands Critical is liquidated. Individual failures are logged and never
// abort the sweep; positions locked by another instance are skipped.
func (s *RiskService) MonitorAll(ctx context.Context) error {
	positions, err := s.deps.Positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("risk_service: monitor: list active: %w", err)
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return fmt.Errorf("risk_service: monitor: %w", ctx.Err())
		}

		report, err := s.CheckHealth(ctx, pos.ID)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			s.logger.WarnContext(ctx, "health check failed during sweep",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if report.Status != domain.HealthCritical {
			continue
		}

		if _, err := s.Liquidate(ctx, pos.ID); err != nil {
			if errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrPositionLiquidated) {
				continue
			}
			s.logger.ErrorContext(ctx, "liquidation failed during sweep",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// CheckAll sweeps every active position with health checks only, never
// liquidating. Used by read-only monitoring deployments.
func (s *RiskService) CheckAll(ctx context.Context) error {
	positions, err := s.deps.Positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("risk_service: check all: list active: %w", err)
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return fmt.Errorf("risk_service: check all: %w", ctx.Err())
		}
		if _, err := s.CheckHealth(ctx, pos.ID); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				continue
			}
			s.logger.WarnContext(ctx, "health check failed during sweep",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *RiskService) recordPrice(ctx context.Context, price decimal.Decimal) {
	if s.deps.Prices == nil {
		return
	}
	point := domain.PricePoint{Price: price, ObservedAt: time.Now().UTC()}
	if err := s.deps.Prices.SetPrice(ctx, s.cfg.CollateralAsset, point); err != nil {
		s.logger.WarnContext(ctx, "price cache write failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *RiskService) completeTx(ctx context.Context, id string, status domain.TransactionStatus, collateralRef, stablecoinRef, detail string) {
	if err := s.deps.Transactions.Complete(ctx, id, status, collateralRef, stablecoinRef, detail); err != nil {
		s.logger.ErrorContext(ctx, "transaction completion failed",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RiskService) publish(ctx context.Context, event domain.Event) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", event.Type),
			slog.String("error", err.Error()),
		)
	}
}
