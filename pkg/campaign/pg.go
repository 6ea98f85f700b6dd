package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the postgres-backed campaign Store.
type PGStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPGStore(log *slog.Logger, pool *pgxpool.Pool) (*PGStore, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &PGStore{log: log, pool: pool}, nil
}

func (s *PGStore) Create(ctx context.Context, c Campaign) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO campaigns (name, start_at, end_at, total_tokens, active)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		c.Name, c.Start, c.End, c.TotalTokens, c.Active).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert campaign: %w", err)
	}
	return id, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (Campaign, error) {
	var c Campaign
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, start_at, end_at, total_tokens, active
		FROM campaigns WHERE id = $1 AND active`, id).
		Scan(&c.ID, &c.Name, &c.Start, &c.End, &c.TotalTokens, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, fmt.Errorf("%w: active campaign %d", ErrNotFound, id)
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to query campaign: %w", err)
	}
	return c, nil
}

func (s *PGStore) List(ctx context.Context) ([]Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, start_at, end_at, total_tokens, active
		FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Start, &c.End, &c.TotalTokens, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGStore) Deactivate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE campaigns SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: campaign %d", ErrNotFound, id)
	}
	return nil
}

// PGTierContractStore is the postgres-backed TierContractStore.
type PGTierContractStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPGTierContractStore(log *slog.Logger, pool *pgxpool.Pool) (*PGTierContractStore, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &PGTierContractStore{log: log, pool: pool}, nil
}

func (s *PGTierContractStore) Upsert(ctx context.Context, tc TierContract) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tier_contracts (token_id, tier, amount, contract_address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_id, tier) DO UPDATE SET
			amount = EXCLUDED.amount,
			contract_address = EXCLUDED.contract_address`,
		tc.TokenID, tc.Tier, tc.Amount, tc.ContractAddress)
	if err != nil {
		return fmt.Errorf("failed to upsert tier contract: %w", err)
	}
	return nil
}

func (s *PGTierContractStore) Get(ctx context.Context, tokenID int64, tier int) (TierContract, bool, error) {
	var tc TierContract
	err := s.pool.QueryRow(ctx, `
		SELECT token_id, tier, amount, contract_address
		FROM tier_contracts WHERE token_id = $1 AND tier = $2`, tokenID, tier).
		Scan(&tc.TokenID, &tc.Tier, &tc.Amount, &tc.ContractAddress)
	if errors.Is(err, pgx.ErrNoRows) {
		return TierContract{}, false, nil
	}
	if err != nil {
		return TierContract{}, false, fmt.Errorf("failed to query tier contract: %w", err)
	}
	return tc, true, nil
}
