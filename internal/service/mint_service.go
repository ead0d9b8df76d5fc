// Package service implements the engine's operations: the mint/redeem saga
// orchestrator, the risk engine, and the yield engine. Services own all
// mutation of position risk/yield/lifecycle state; accounts only request
// mint and redeem.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/crypto"
	"github.com/alanyoungcy/stablemint/internal/domain"
	"github.com/alanyoungcy/stablemint/internal/saga"
)

var hundred = decimal.NewFromInt(100)

// MintConfig holds the tunable parameters for the mint/redeem orchestrator.
type MintConfig struct {
	// CollateralAsset is the oracle symbol for the collateral asset.
	CollateralAsset string
	// DestinationChain is the hint passed to the collateral ledger on lock.
	DestinationChain string
	// LockTTL bounds how long a per-position lock is held.
	LockTTL time.Duration
	// ConfirmTimeout bounds the wait for on-chain lock confirmation.
	ConfirmTimeout time.Duration
}

// MintDeps bundles the orchestrator's collaborators.
type MintDeps struct {
	Positions    domain.PositionStore
	Transactions domain.TransactionStore
	Params       domain.ParamsStore
	Oracle       domain.PriceOracle
	Collateral   domain.CollateralLedger
	Stablecoin   domain.StablecoinLedger
	Locks        domain.LockManager
	Prices       domain.PriceCache // optional, reporting only
	Events       domain.EventBus   // optional
	Sagas        *saga.Executor
	Keys         *crypto.ViewingKeyDeriver // optional; required for audit keys
}

// MintService opens and closes positions by driving the two-ledger saga.
type MintService struct {
	deps   MintDeps
	cfg    MintConfig
	logger *slog.Logger
}

// NewMintService creates a MintService with all required dependencies.
func NewMintService(deps MintDeps, cfg MintConfig, logger *slog.Logger) *MintService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &MintService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mint_service")),
	}
}

// OpenPositionRequest carries the inputs for a mint.
type OpenPositionRequest struct {
	AccountID         string
	CollateralAmount  decimal.Decimal
	StablecoinAmount  decimal.Decimal
	CollateralAddress string
	StablecoinAddress string
	// WithAuditKey derives a viewing key scoped to the collateral lock.
	WithAuditKey bool
}

func (r OpenPositionRequest) validate() error {
	switch {
	case r.AccountID == "":
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	case !r.CollateralAmount.IsPositive():
		return fmt.Errorf("%w: collateral amount must be positive", domain.ErrInvalidInput)
	case !r.StablecoinAmount.IsPositive():
		return fmt.Errorf("%w: stablecoin amount must be positive", domain.ErrInvalidInput)
	case r.CollateralAddress == "":
		return fmt.Errorf("%w: collateral address is required", domain.ErrInvalidInput)
	case r.StablecoinAddress == "":
		return fmt.Errorf("%w: stablecoin address is required", domain.ErrInvalidInput)
	}
	return nil
}

// OpenPosition mints stable tokens against freshly locked collateral. The
// ledger legs run as a saga: a mint failure after the lock committed releases
// the collateral before the error surfaces. A persisted position implies both
// legs succeeded.
func (s *MintService) OpenPosition(ctx context.Context, req OpenPositionRequest) (domain.Position, error) {
	if err := req.validate(); err != nil {
		return domain.Position{}, fmt.Errorf("mint_service: open: %w", err)
	}

	params, err := s.deps.Params.Get(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("mint_service: open: load parameters: %w", err)
	}

	price, err := s.fetchPrice(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("mint_service: open: %w", err)
	}

	ratio := domain.CollateralRatio(req.CollateralAmount, price, req.StablecoinAmount)
	if ratio.LessThan(params.MinCollateralRatio) {
		return domain.Position{}, fmt.Errorf(
			"mint_service: open: ratio %s below minimum %s: %w",
			ratio, params.MinCollateralRatio, domain.ErrInsufficientCollateral,
		)
	}

	now := time.Now().UTC()
	positionID := uuid.New().String()

	tx := domain.Transaction{
		ID:         uuid.New().String(),
		PositionID: positionID,
		Type:       domain.TxMint,
		Amount:     req.StablecoinAmount,
		Status:     domain.TxPending,
		CreatedAt:  now,
	}
	if err := s.deps.Transactions.Create(ctx, tx); err != nil {
		return domain.Position{}, fmt.Errorf("mint_service: open: record transaction: %w", err)
	}

	var (
		lockRef    string
		mintRef    string
		viewingKey string
	)
	pos := domain.Position{
		ID:                positionID,
		AccountID:         req.AccountID,
		CollateralAddress: req.CollateralAddress,
		StablecoinAddress: req.StablecoinAddress,
		CollateralAmount:  req.CollateralAmount,
		StablecoinDebt:    req.StablecoinAmount,
		StablecoinBalance: req.StablecoinAmount,
		CollateralRatio:   ratio,
		HealthStatus:      domain.HealthHealthy,
		LastHealthCheck:   now,
		YieldRate:         params.BaseYieldRate,
		YieldStrategy:     params.YieldStrategy,
		LastYieldUpdate:   now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	delta := domain.TotalsDelta{
		CollateralLocked: req.CollateralAmount,
		StablecoinSupply: req.StablecoinAmount,
		Debt:             req.StablecoinAmount,
	}

	stages := []saga.Stage{
		{
			Name: "lock_collateral",
			Run: func(ctx context.Context) error {
				ref, err := s.deps.Collateral.Lock(ctx, req.CollateralAmount, s.cfg.DestinationChain, req.CollateralAddress)
				if err != nil {
					return err
				}
				lockRef = ref
				return nil
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.deps.Collateral.Release(ctx, lockRef, req.CollateralAmount, req.CollateralAddress)
				return err
			},
		},
		{
			Name: "await_lock_confirmation",
			Run: func(ctx context.Context) error {
				waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
				defer cancel()
				return s.deps.Collateral.WaitConfirmation(waitCtx, lockRef)
			},
		},
		{
			Name: "mint_stablecoin",
			Run: func(ctx context.Context) error {
				if req.WithAuditKey {
					if s.deps.Keys == nil {
						return fmt.Errorf("%w: audit keys are not configured", domain.ErrInvalidInput)
					}
					key, err := s.deps.Keys.Derive(positionID, lockRef)
					if err != nil {
						return err
					}
					viewingKey = key
				}
				ref, err := s.deps.Stablecoin.Mint(ctx, req.StablecoinAddress, req.StablecoinAmount, lockRef, viewingKey)
				if err != nil {
					return err
				}
				mintRef = ref
				return nil
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.deps.Stablecoin.Burn(ctx, req.StablecoinAddress, req.StablecoinAmount, positionID)
				return err
			},
		},
		{
			Name: "update_totals",
			Run: func(ctx context.Context) error {
				return s.deps.Params.AdjustTotals(ctx, delta)
			},
			Compensate: func(ctx context.Context) error {
				return s.deps.Params.AdjustTotals(ctx, negate(delta))
			},
		},
		{
			Name: "persist_position",
			Run: func(ctx context.Context) error {
				pos.LockRef = lockRef
				pos.LockedAt = time.Now().UTC()
				pos.ViewingKey = viewingKey
				return s.deps.Positions.Create(ctx, pos)
			},
		},
	}

	if err := s.deps.Sagas.Run(ctx, "open_position", stages); err != nil {
		s.completeTx(ctx, tx.ID, domain.TxFailed, lockRef, mintRef, err.Error())
		return domain.Position{}, fmt.Errorf("mint_service: open: %w", err)
	}

	s.completeTx(ctx, tx.ID, domain.TxCompleted, lockRef, mintRef, "")
	s.publish(ctx, domain.Event{
		Type:       domain.EventPositionOpened,
		PositionID: positionID,
		AccountID:  req.AccountID,
		Amount:     req.StablecoinAmount,
		At:         time.Now().UTC(),
	})

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", positionID),
		slog.String("account_id", req.AccountID),
		slog.String("collateral", req.CollateralAmount.String()),
		slog.String("debt", req.StablecoinAmount.String()),
		slog.String("ratio", ratio.StringFixed(2)),
	)
	return pos, nil
}

// ClosePosition redeems stable tokens against the position, returning the
// proportional collateral to the destination address. The release amount is
// tied to the position's own current ratio, so over-collateralized positions
// return more collateral per token than under-collateralized ones. It returns
// the collateral-ledger release reference.
func (s *MintService) ClosePosition(ctx context.Context, positionID string, redeemAmount decimal.Decimal, destination string) (string, error) {
	if positionID == "" || destination == "" {
		return "", fmt.Errorf("mint_service: close: %w: position id and destination are required", domain.ErrInvalidInput)
	}
	if !redeemAmount.IsPositive() {
		return "", fmt.Errorf("mint_service: close: %w: redeem amount must be positive", domain.ErrInvalidInput)
	}

	unlock, err := s.deps.Locks.Acquire(ctx, positionID, s.cfg.LockTTL)
	if err != nil {
		return "", fmt.Errorf("mint_service: close %s: %w", positionID, err)
	}
	defer unlock()

	pos, err := s.deps.Positions.GetByID(ctx, positionID)
	if err != nil {
		return "", fmt.Errorf("mint_service: close: %w", err)
	}
	if pos.Liquidated {
		return "", fmt.Errorf("mint_service: close %s: %w", positionID, domain.ErrPositionLiquidated)
	}
	if redeemAmount.GreaterThan(pos.StablecoinBalance) {
		return "", fmt.Errorf("mint_service: close %s: redeem %s exceeds balance %s: %w",
			positionID, redeemAmount, pos.StablecoinBalance, domain.ErrInsufficientBalance)
	}

	params, err := s.deps.Params.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("mint_service: close: load parameters: %w", err)
	}

	price, err := s.fetchPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("mint_service: close: %w", err)
	}

	currentRatio := domain.CollateralRatio(pos.CollateralAmount, price, pos.StablecoinDebt)
	if !currentRatio.IsPositive() {
		return "", fmt.Errorf("mint_service: close %s: position has no outstanding debt: %w", positionID, domain.ErrInvalidInput)
	}

	// collateralToReturn = (redeemAmount / price) * (100 / currentRatio),
	// capped at the collateral actually locked.
	collateralToReturn := redeemAmount.Div(price).Mul(hundred.Div(currentRatio))
	if collateralToReturn.GreaterThan(pos.CollateralAmount) {
		collateralToReturn = pos.CollateralAmount
	}

	debtReduction := redeemAmount
	if debtReduction.GreaterThan(pos.StablecoinDebt) {
		debtReduction = pos.StablecoinDebt
	}
	newDebt := pos.StablecoinDebt.Sub(debtReduction)
	newCollateral := pos.CollateralAmount.Sub(collateralToReturn)

	if newDebt.IsPositive() {
		projected := domain.CollateralRatio(newCollateral, price, newDebt)
		if projected.LessThan(params.MinCollateralRatio) {
			return "", fmt.Errorf(
				"mint_service: close %s: projected ratio %s below minimum %s: %w",
				positionID, projected.StringFixed(2), params.MinCollateralRatio, domain.ErrRedemptionUnsafe,
			)
		}
	}

	now := time.Now().UTC()
	tx := domain.Transaction{
		ID:         uuid.New().String(),
		PositionID: positionID,
		Type:       domain.TxRedeem,
		Amount:     redeemAmount,
		Status:     domain.TxPending,
		CreatedAt:  now,
	}
	if err := s.deps.Transactions.Create(ctx, tx); err != nil {
		return "", fmt.Errorf("mint_service: close: record transaction: %w", err)
	}

	delta := domain.TotalsDelta{
		CollateralLocked: collateralToReturn.Neg(),
		StablecoinSupply: redeemAmount.Neg(),
		Debt:             debtReduction.Neg(),
	}

	// The release leg runs last: collateral that has left the lock cannot be
	// clawed back, so no stage may fail after it. Everything before it rolls
	// back internally, restoring the pre-close record on a persist failure.
	orig := pos
	var burnRef, releaseRef string
	stages := []saga.Stage{
		{
			Name: "burn_stablecoin",
			Run: func(ctx context.Context) error {
				ref, err := s.deps.Stablecoin.Burn(ctx, pos.StablecoinAddress, redeemAmount, pos.ID)
				if err != nil {
					return err
				}
				burnRef = ref
				return nil
			},
			Compensate: func(ctx context.Context) error {
				// Re-mint the burned amount back to the owner.
				_, err := s.deps.Stablecoin.Mint(ctx, pos.StablecoinAddress, redeemAmount, pos.LockRef, "")
				return err
			},
		},
		{
			Name: "update_totals",
			Run: func(ctx context.Context) error {
				return s.deps.Params.AdjustTotals(ctx, delta)
			},
			Compensate: func(ctx context.Context) error {
				return s.deps.Params.AdjustTotals(ctx, negate(delta))
			},
		},
		{
			Name: "persist_position",
			Run: func(ctx context.Context) error {
				pos.CollateralAmount = newCollateral
				pos.StablecoinDebt = newDebt
				pos.StablecoinBalance = pos.StablecoinBalance.Sub(redeemAmount)
				pos.CollateralRatio = domain.CollateralRatio(newCollateral, price, newDebt)
				pos.UpdatedAt = time.Now().UTC()
				return s.deps.Positions.Update(ctx, pos)
			},
			Compensate: func(ctx context.Context) error {
				return s.deps.Positions.Update(ctx, orig)
			},
		},
		{
			Name: "release_collateral",
			Run: func(ctx context.Context) error {
				ref, err := s.deps.Collateral.Release(ctx, pos.LockRef, collateralToReturn, destination)
				if err != nil {
					return err
				}
				releaseRef = ref
				return nil
			},
		},
	}

	if err := s.deps.Sagas.Run(ctx, "close_position", stages); err != nil {
		s.completeTx(ctx, tx.ID, domain.TxFailed, releaseRef, burnRef, err.Error())
		return "", fmt.Errorf("mint_service: close: %w", err)
	}

	s.completeTx(ctx, tx.ID, domain.TxCompleted, releaseRef, burnRef, "")
	s.publish(ctx, domain.Event{
		Type:       domain.EventPositionClosed,
		PositionID: positionID,
		AccountID:  pos.AccountID,
		Amount:     redeemAmount,
		At:         time.Now().UTC(),
	})

	s.logger.InfoContext(ctx, "position redeemed",
		slog.String("position_id", positionID),
		slog.String("redeemed", redeemAmount.String()),
		slog.String("collateral_returned", collateralToReturn.String()),
		slog.String("remaining_debt", newDebt.String()),
	)
	return releaseRef, nil
}

// fetchPrice queries the oracle and records the observation in the reporting
// cache. Cache failures are logged and ignored; oracle failures propagate.
func (s *MintService) fetchPrice(ctx context.Context) (decimal.Decimal, error) {
	price, err := s.deps.Oracle.GetPrice(ctx, s.cfg.CollateralAsset)
	if err != nil {
		return decimal.Zero, err
	}
	if s.deps.Prices != nil {
		point := domain.PricePoint{Price: price, ObservedAt: time.Now().UTC()}
		if cacheErr := s.deps.Prices.SetPrice(ctx, s.cfg.CollateralAsset, point); cacheErr != nil {
			s.logger.WarnContext(ctx, "price cache write failed",
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return price, nil
}

func (s *MintService) completeTx(ctx context.Context, id string, status domain.TransactionStatus, collateralRef, stablecoinRef, detail string) {
	if err := s.deps.Transactions.Complete(ctx, id, status, collateralRef, stablecoinRef, detail); err != nil {
		s.logger.ErrorContext(ctx, "transaction completion failed",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MintService) publish(ctx context.Context, event domain.Event) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

func negate(d domain.TotalsDelta) domain.TotalsDelta {
	return domain.TotalsDelta{
		CollateralLocked: d.CollateralLocked.Neg(),
		StablecoinSupply: d.StablecoinSupply.Neg(),
		Debt:             d.Debt.Neg(),
	}
}
