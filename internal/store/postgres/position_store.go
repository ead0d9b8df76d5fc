package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// PositionStore implements domain.PositionStore backed by the positions table.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore using the client's pool.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{pool: client.Pool()}
}

const positionColumns = `
	id, account_id, collateral_address, stablecoin_address,
	collateral_amount, lock_ref, locked_at, viewing_key,
	stablecoin_debt, stablecoin_balance,
	collateral_ratio, health_status, last_health_check,
	yield_earned, yield_rate, yield_strategy, last_yield_update,
	liquidated, liquidated_at, liquidation_ref,
	created_at, updated_at`

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.AccountID, pos.CollateralAddress, pos.StablecoinAddress,
		pos.CollateralAmount, pos.LockRef, pos.LockedAt, pos.ViewingKey,
		pos.StablecoinDebt, pos.StablecoinBalance,
		pos.CollateralRatio, string(pos.HealthStatus), pos.LastHealthCheck,
		pos.YieldEarned, pos.YieldRate, string(pos.YieldStrategy), pos.LastYieldUpdate,
		pos.Liquidated, pos.LiquidatedAt, pos.LiquidationRef,
		pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create position %s: %w", pos.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return nil
}

// Update overwrites all mutable fields of the position.
func (s *PositionStore) Update(ctx context.Context, pos domain.Position) error {
	query := `
		UPDATE positions SET
			collateral_amount = $2, lock_ref = $3, viewing_key = $4,
			stablecoin_debt = $5, stablecoin_balance = $6,
			collateral_ratio = $7, health_status = $8, last_health_check = $9,
			yield_earned = $10, yield_rate = $11, yield_strategy = $12, last_yield_update = $13,
			liquidated = $14, liquidated_at = $15, liquidation_ref = $16,
			updated_at = $17
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		pos.ID,
		pos.CollateralAmount, pos.LockRef, pos.ViewingKey,
		pos.StablecoinDebt, pos.StablecoinBalance,
		pos.CollateralRatio, string(pos.HealthStatus), pos.LastHealthCheck,
		pos.YieldEarned, pos.YieldRate, string(pos.YieldStrategy), pos.LastYieldUpdate,
		pos.Liquidated, pos.LiquidatedAt, pos.LiquidationRef,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// ListActive returns every non-liquidated position, oldest first.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE NOT liquidated AND stablecoin_debt > 0
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListByAccount returns the account's positions, newest first.
func (s *PositionStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, accountID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", accountID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		pos           domain.Position
		healthStatus  string
		yieldStrategy string
	)
	err := row.Scan(
		&pos.ID, &pos.AccountID, &pos.CollateralAddress, &pos.StablecoinAddress,
		&pos.CollateralAmount, &pos.LockRef, &pos.LockedAt, &pos.ViewingKey,
		&pos.StablecoinDebt, &pos.StablecoinBalance,
		&pos.CollateralRatio, &healthStatus, &pos.LastHealthCheck,
		&pos.YieldEarned, &pos.YieldRate, &yieldStrategy, &pos.LastYieldUpdate,
		&pos.Liquidated, &pos.LiquidatedAt, &pos.LiquidationRef,
		&pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	pos.HealthStatus = domain.HealthStatus(healthStatus)
	pos.YieldStrategy = domain.YieldStrategy(yieldStrategy)
	return pos, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
