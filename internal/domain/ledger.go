package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceOracle returns the current exchange rate for an asset in stable-token
// units. Errors mean "cannot proceed": callers must never substitute a stale
// or default price.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// CollateralLedger moves collateral funds on the collateral chain.
type CollateralLedger interface {
	// Lock escrows the amount held at address for cross-chain use and returns
	// a lock reference.
	Lock(ctx context.Context, amount decimal.Decimal, destinationChain, address string) (string, error)
	// Release returns previously locked collateral to the given address.
	Release(ctx context.Context, lockRef string, amount decimal.Decimal, address string) (string, error)
	// Seize forcibly claims collateral during liquidation.
	Seize(ctx context.Context, address string, amount decimal.Decimal) (string, error)
	// WaitConfirmation blocks until the referenced operation is confirmed on
	// chain, or the context expires.
	WaitConfirmation(ctx context.Context, ref string) error
}

// StablecoinLedger mints and burns the synthetic stable token.
type StablecoinLedger interface {
	// Mint issues stable tokens to address, referencing the collateral lock
	// that backs them. auditKey may be empty.
	Mint(ctx context.Context, address string, amount decimal.Decimal, collateralRef, auditKey string) (string, error)
	// Burn destroys stable tokens held at address on behalf of the position.
	Burn(ctx context.Context, address string, amount decimal.Decimal, positionID string) (string, error)
}

// YieldVault deploys locked collateral into a yield strategy. The deployment
// is notional: the collateral keeps backing the debt.
type YieldVault interface {
	Deploy(ctx context.Context, positionID string, amount decimal.Decimal, strategy YieldStrategy) (string, error)
}
