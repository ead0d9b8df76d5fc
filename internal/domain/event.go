package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published on the engine event stream.
const (
	EventPositionOpened     = "position_opened"
	EventPositionClosed     = "position_closed"
	EventPositionLiquidated = "position_liquidated"
	EventYieldGenerated     = "yield_generated"
	EventCompensationFailed = "compensation_failed"
)

// Event is one engine lifecycle event, published for API/reporting consumers.
type Event struct {
	Type       string          `json:"type"`
	PositionID string          `json:"position_id"`
	AccountID  string          `json:"account_id,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	At         time.Time       `json:"at"`
}

// PricePoint is one observed oracle price.
type PricePoint struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}
