package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxScore = decimal.NewFromInt(100)
)

// HealthReport is the result of one health evaluation of a Position.
type HealthReport struct {
	PositionID       string
	Ratio            decimal.Decimal
	Status           HealthStatus
	CollateralValue  decimal.Decimal
	Debt             decimal.Decimal
	LiquidationPrice decimal.Decimal
	Score            decimal.Decimal // 0 at the liquidation threshold, 100 at the target ratio
	CheckedAt        time.Time
}

// CollateralRatio returns (collateral * price / debt) * 100. When debt is zero
// the ratio is undefined and zero is returned; the position is considered
// fully unwound.
func CollateralRatio(collateral, price, debt decimal.Decimal) decimal.Decimal {
	if debt.IsZero() {
		return decimal.Zero
	}
	return collateral.Mul(price).Div(debt).Mul(hundred)
}

// ClassifyHealth maps a collateralization ratio onto the three-state health
// classification. Callers must handle the zero-debt case before classifying.
func ClassifyHealth(ratio, target, threshold decimal.Decimal) HealthStatus {
	switch {
	case ratio.GreaterThanOrEqual(target):
		return HealthHealthy
	case ratio.GreaterThanOrEqual(threshold):
		return HealthWarning
	default:
		return HealthCritical
	}
}

// HealthScore interpolates the ratio linearly onto [0, 100]: 0 at the
// liquidation threshold, 100 at the target ratio, saturating outside the band.
func HealthScore(ratio, target, threshold decimal.Decimal) decimal.Decimal {
	band := target.Sub(threshold)
	if !band.IsPositive() {
		if ratio.GreaterThanOrEqual(target) {
			return maxScore
		}
		return decimal.Zero
	}
	score := ratio.Sub(threshold).Div(band).Mul(hundred)
	if score.IsNegative() {
		return decimal.Zero
	}
	if score.GreaterThan(maxScore) {
		return maxScore
	}
	return score
}

// LiquidationPrice returns the collateral price at which the position's ratio
// hits the liquidation threshold: (debt * threshold/100) / collateral.
func LiquidationPrice(debt, threshold, collateral decimal.Decimal) decimal.Decimal {
	if collateral.IsZero() {
		return decimal.Zero
	}
	return debt.Mul(threshold).Div(hundred).Div(collateral)
}
