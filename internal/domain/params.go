package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemParameters is the process-wide configuration and aggregate state for
// the engine. Ratio fields are percentages (150 means 150%). The running
// totals are shared across orchestrator instances and must only be changed
// through ParamsStore.AdjustTotals, which applies the delta atomically at the
// store.
type SystemParameters struct {
	TargetRatio          decimal.Decimal
	LiquidationThreshold decimal.Decimal
	MinCollateralRatio   decimal.Decimal
	MaxCollateralRatio   decimal.Decimal

	BaseYieldRate decimal.Decimal // annualized, percent
	YieldStrategy YieldStrategy

	TotalCollateralLocked decimal.Decimal
	TotalStablecoinSupply decimal.Decimal
	TotalDebt             decimal.Decimal

	UpdatedAt time.Time
}

// TotalsDelta is one atomic adjustment to the aggregate totals. Fields may be
// negative to decrement.
type TotalsDelta struct {
	CollateralLocked decimal.Decimal
	StablecoinSupply decimal.Decimal
	Debt             decimal.Decimal
}
