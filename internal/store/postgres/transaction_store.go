package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// TransactionStore implements domain.TransactionStore backed by the
// transactions table.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a TransactionStore using the client's pool.
func NewTransactionStore(client *Client) *TransactionStore {
	return &TransactionStore{pool: client.Pool()}
}

const transactionColumns = `
	id, position_id, tx_type, amount,
	collateral_ref, stablecoin_ref,
	status, error_detail,
	created_at, completed_at`

// Create inserts a new pending transaction record.
func (s *TransactionStore) Create(ctx context.Context, tx domain.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.PositionID, string(tx.Type), tx.Amount,
		tx.CollateralRef, tx.StablecoinRef,
		string(tx.Status), tx.ErrorDetail,
		tx.CreatedAt, tx.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Complete records the terminal status and ledger references. It only touches
// rows still pending, so a completed transaction is never rewritten.
func (s *TransactionStore) Complete(ctx context.Context, id string, status domain.TransactionStatus, collateralRef, stablecoinRef, errDetail string) error {
	query := `
		UPDATE transactions SET
			status = $2, collateral_ref = $3, stablecoin_ref = $4,
			error_detail = $5, completed_at = $6
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		id, string(status), collateralRef, stablecoinRef, errDetail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: complete transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: complete transaction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single transaction.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, fmt.Errorf("postgres: transaction %s: %w", id, domain.ErrNotFound)
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListByPosition returns the position's audit trail, newest first.
func (s *TransactionStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE position_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, positionID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %s: %w", positionID, err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListCompletedBefore returns terminal transactions created strictly before
// the cutoff, oldest first.
func (s *TransactionStore) ListCompletedBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status <> 'pending' AND created_at < $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// DeleteCompletedBefore prunes archived terminal transactions older than the
// cutoff.
func (s *TransactionStore) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM transactions WHERE status <> 'pending' AND created_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete completed transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate transactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx     domain.Transaction
		txType string
		status string
	)
	err := row.Scan(
		&tx.ID, &tx.PositionID, &txType, &tx.Amount,
		&tx.CollateralRef, &tx.StablecoinRef,
		&status, &tx.ErrorDetail,
		&tx.CreatedAt, &tx.CompletedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	return tx, nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
