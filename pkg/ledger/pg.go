package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *PGStoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	return nil
}

// PGStore is the postgres-backed Store. State transitions are conditional
// single-row updates, so the database enforces the compare-and-set.
type PGStore struct {
	log *slog.Logger
	cfg PGStoreConfig
}

func NewPGStore(cfg PGStoreConfig) (*PGStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PGStore{log: cfg.Logger, cfg: cfg}, nil
}

func (s *PGStore) CreateIfAbsent(ctx context.Context, rec Record) (bool, error) {
	var vestingEnd *time.Time
	if !rec.VestingEnd.IsZero() {
		vestingEnd = &rec.VestingEnd
	}
	tag, err := s.cfg.Pool.Exec(ctx, `
		INSERT INTO distributions (participant_id, wallet, chain, amount, status, tx_ref, vesting_end, fail_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (participant_id) DO NOTHING`,
		rec.ParticipantID, rec.Wallet, string(rec.Chain), rec.Amount, string(rec.Status), rec.TxRef, vestingEnd, rec.FailReason)
	if err != nil {
		return false, fmt.Errorf("failed to insert distribution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Get(ctx context.Context, participantID string) (Record, error) {
	row := s.cfg.Pool.QueryRow(ctx, `
		SELECT participant_id, wallet, chain, amount, status, tx_ref, vesting_end, fail_reason
		FROM distributions WHERE participant_id = $1`, participantID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, participantID)
	}
	return rec, err
}

func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	rows, err := s.cfg.Pool.Query(ctx, `
		SELECT participant_id, wallet, chain, amount, status, tx_ref, vesting_end, fail_reason
		FROM distributions WHERE status = $1 ORDER BY participant_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query distributions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) CompareAndTransition(ctx context.Context, participantID string, from, to Status, m Mutation) error {
	tag, err := s.cfg.Pool.Exec(ctx, `
		UPDATE distributions
		SET status = $1,
		    tx_ref = COALESCE($2, tx_ref),
		    fail_reason = COALESCE($3, fail_reason)
		WHERE participant_id = $4 AND status = $5`,
		string(to), m.TxRef, m.FailReason, participantID, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition distribution: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing row from a lost compare-and-set.
	var exists bool
	if err := s.cfg.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM distributions WHERE participant_id = $1)`, participantID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check distribution existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, participantID)
	}
	return fmt.Errorf("%w: want %s", ErrConflict, from)
}

func (s *PGStore) Delete(ctx context.Context, participantID string) error {
	if _, err := s.cfg.Pool.Exec(ctx,
		`DELETE FROM distributions WHERE participant_id = $1`, participantID); err != nil {
		return fmt.Errorf("failed to delete distribution: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		chainStr   string
		statusStr  string
		vestingEnd *time.Time
	)
	if err := row.Scan(&rec.ParticipantID, &rec.Wallet, &chainStr, &rec.Amount, &statusStr, &rec.TxRef, &vestingEnd, &rec.FailReason); err != nil {
		return Record{}, err
	}
	rec.Chain = chain.Chain(chainStr)
	rec.Status = Status(statusStr)
	if vestingEnd != nil {
		rec.VestingEnd = *vestingEnd
	}
	return rec, nil
}

// PGBalances credits spendable balances in the participants table.
type PGBalances struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewPGBalances(log *slog.Logger, pool *pgxpool.Pool) (*PGBalances, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &PGBalances{log: log, pool: pool}, nil
}

func (b *PGBalances) Credit(ctx context.Context, participantID string, amount float64) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO participants (participant_id, spendable_balance)
		VALUES ($1, $2)
		ON CONFLICT (participant_id)
		DO UPDATE SET spendable_balance = participants.spendable_balance + EXCLUDED.spendable_balance`,
		participantID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit participant balance: %w", err)
	}
	return nil
}
