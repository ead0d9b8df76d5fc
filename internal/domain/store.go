package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. The store provides plain keyed
// reads/writes; concurrency control around read-modify-write sequences is the
// caller's responsibility (see LockManager).
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// ListActive returns all non-liquidated positions.
	ListActive(ctx context.Context) ([]Position, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Position, error)
}

// TransactionStore persists the append-only operation audit trail.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) error
	// Complete records the terminal status and the ledger references of both
	// legs. A transaction is never mutated again afterwards.
	Complete(ctx context.Context, id string, status TransactionStatus, collateralRef, stablecoinRef, errDetail string) error
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]Transaction, error)
	// ListCompletedBefore returns terminal transactions created strictly
	// before the cutoff, for cold-storage archival.
	ListCompletedBefore(ctx context.Context, before time.Time) ([]Transaction, error)
	// DeleteCompletedBefore prunes terminal transactions older than the
	// cutoff after they have been archived. It returns the number of rows
	// removed.
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ParamsStore is the single source of truth for SystemParameters across
// orchestrator instances.
type ParamsStore interface {
	Get(ctx context.Context) (SystemParameters, error)
	// EnsureDefaults seeds the parameters row if it does not exist yet.
	EnsureDefaults(ctx context.Context, params SystemParameters) error
	// AdjustTotals applies the delta to the running totals atomically at the
	// store, never via read-modify-write in the process.
	AdjustTotals(ctx context.Context, delta TotalsDelta) error
}

// LockManager provides per-key mutual exclusion, keyed by position id, around
// every read-modify-write sequence. Acquire returns an unlock function on
// success and ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PriceCache records the last price observed from the oracle. It exists for
// reporting and feed consumers only; mint/redeem/risk decisions always fetch
// a fresh oracle price and never fall back to the cache.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price PricePoint) error
	GetPrice(ctx context.Context, asset string) (PricePoint, error)
}

// EventBus publishes engine lifecycle events for out-of-process consumers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
}
