package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInsufficientBalance    = errors.New("amount exceeds stablecoin balance")
	ErrRedemptionUnsafe       = errors.New("redemption would leave position under-collateralized")
	ErrPositionLiquidated     = errors.New("position already liquidated")
	ErrNotLiquidatable        = errors.New("position not eligible for liquidation")
	ErrLockHeld               = errors.New("lock already held")
	ErrContextDone            = errors.New("context cancelled")
)
