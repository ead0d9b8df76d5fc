package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// ParamsStore implements domain.ParamsStore on the single-row
// system_parameters table.
type ParamsStore struct {
	pool *pgxpool.Pool
}

// NewParamsStore creates a ParamsStore using the client's pool.
func NewParamsStore(client *Client) *ParamsStore {
	return &ParamsStore{pool: client.Pool()}
}

// Get returns the current system parameters and totals.
func (s *ParamsStore) Get(ctx context.Context) (domain.SystemParameters, error) {
	query := `
		SELECT target_ratio, liquidation_threshold,
		       min_collateral_ratio, max_collateral_ratio,
		       base_yield_rate, yield_strategy,
		       total_collateral_locked, total_stablecoin_supply, total_debt,
		       updated_at
		FROM system_parameters WHERE id = 1`

	var (
		params   domain.SystemParameters
		strategy string
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&params.TargetRatio, &params.LiquidationThreshold,
		&params.MinCollateralRatio, &params.MaxCollateralRatio,
		&params.BaseYieldRate, &strategy,
		&params.TotalCollateralLocked, &params.TotalStablecoinSupply, &params.TotalDebt,
		&params.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SystemParameters{}, fmt.Errorf("postgres: system parameters: %w", domain.ErrNotFound)
		}
		return domain.SystemParameters{}, fmt.Errorf("postgres: get system parameters: %w", err)
	}
	params.YieldStrategy = domain.YieldStrategy(strategy)
	return params, nil
}

// EnsureDefaults inserts the parameters row if it does not exist. An existing
// row is left untouched so operator changes survive restarts.
func (s *ParamsStore) EnsureDefaults(ctx context.Context, params domain.SystemParameters) error {
	query := `
		INSERT INTO system_parameters (
			id, target_ratio, liquidation_threshold,
			min_collateral_ratio, max_collateral_ratio,
			base_yield_rate, yield_strategy
		)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		params.TargetRatio, params.LiquidationThreshold,
		params.MinCollateralRatio, params.MaxCollateralRatio,
		params.BaseYieldRate, string(params.YieldStrategy),
	)
	if err != nil {
		return fmt.Errorf("postgres: seed system parameters: %w", err)
	}
	return nil
}

// AdjustTotals applies the delta to the running totals in one statement. The
// additions happen at the database so concurrent orchestrators never lose an
// update to a read-modify-write race.
func (s *ParamsStore) AdjustTotals(ctx context.Context, delta domain.TotalsDelta) error {
	query := `
		UPDATE system_parameters SET
			total_collateral_locked = total_collateral_locked + $1,
			total_stablecoin_supply = total_stablecoin_supply + $2,
			total_debt = total_debt + $3,
			updated_at = NOW()
		WHERE id = 1`

	tag, err := s.pool.Exec(ctx, query,
		delta.CollateralLocked, delta.StablecoinSupply, delta.Debt,
	)
	if err != nil {
		return fmt.Errorf("postgres: adjust totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: adjust totals: %w", domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ParamsStore = (*ParamsStore)(nil)
