package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType identifies the state-changing operation recorded by a
// Transaction.
type TransactionType string

const (
	TxMint          TransactionType = "mint"
	TxRedeem        TransactionType = "redeem"
	TxLiquidate     TransactionType = "liquidate"
	TxYieldGenerate TransactionType = "yield_generate"
)

// TransactionStatus tracks the terminal outcome of an operation.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is the immutable audit record of one operation against a
// Position. It is created once when the operation starts and only touched
// again to record the terminal status and ledger references.
type Transaction struct {
	ID         string
	PositionID string
	Type       TransactionType
	Amount     decimal.Decimal

	// References to the legs performed on each ledger.
	CollateralRef string
	StablecoinRef string

	Status      TransactionStatus
	ErrorDetail string

	CreatedAt   time.Time
	CompletedAt *time.Time
}
