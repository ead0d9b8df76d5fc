package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthStatus classifies a position's solvency margin.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// YieldStrategy names the mechanism by which locked collateral earns a return
// while still backing the debt.
type YieldStrategy string

const (
	YieldStrategyLending YieldStrategy = "lending"
	YieldStrategyStaking YieldStrategy = "staking"
)

// Position represents one open collateralized loan: locked collateral on the
// collateral ledger backing stable-token debt minted on the stablecoin ledger.
type Position struct {
	ID                string
	AccountID         string
	CollateralAddress string
	StablecoinAddress string

	// Collateral side.
	CollateralAmount decimal.Decimal
	LockRef          string
	LockedAt         time.Time
	ViewingKey       string // optional audit key scoped to the lock

	// Debt side. Balance and debt diverge once partial redemption or yield
	// distribution occurs; both stay non-negative.
	StablecoinDebt    decimal.Decimal
	StablecoinBalance decimal.Decimal

	// Risk state, refreshed on every health check.
	CollateralRatio decimal.Decimal // percentage; zero when debt is zero
	HealthStatus    HealthStatus
	LastHealthCheck time.Time

	// Yield state.
	YieldEarned     decimal.Decimal
	YieldRate       decimal.Decimal // annualized, percent
	YieldStrategy   YieldStrategy
	LastYieldUpdate time.Time

	// Lifecycle.
	Liquidated     bool
	LiquidatedAt   *time.Time
	LiquidationRef string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the position still backs outstanding debt and has not
// been liquidated.
func (p *Position) Active() bool {
	return !p.Liquidated && p.StablecoinDebt.IsPositive()
}
