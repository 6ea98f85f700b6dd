package eligibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a participant has no eligibility record.
var ErrNotFound = errors.New("eligibility: record not found")

// Record is the last eligibility evaluation for a participant. Re-verification
// overwrites it; no history is retained.
type Record struct {
	ParticipantID  string
	Wallet         string
	Chain          chain.Chain
	Tier           int
	Verified       bool
	Balance        float64
	TasksCompleted bool
}

// Store persists eligibility records keyed by participant.
type Store interface {
	// Replace upserts the record; the last evaluation wins.
	Replace(ctx context.Context, rec Record) error
	Get(ctx context.Context, participantID string) (Record, error)
	// ListVerified returns verified participants with auxiliary tasks done,
	// optionally filtered to one tier (tier 0 means all tiers).
	ListVerified(ctx context.Context, tier int) ([]Record, error)
}

// Verifier evaluates a wallet and persists the outcome.
type Verifier struct {
	log       *slog.Logger
	evaluator *Evaluator
	store     Store
}

func NewVerifier(log *slog.Logger, evaluator *Evaluator, store Store) (*Verifier, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Verifier{log: log, evaluator: evaluator, store: store}, nil
}

// Verify evaluates the wallet and overwrites the participant's eligibility
// record when a positive tier results. A tier 0 outcome is returned but not
// persisted, leaving any previous verification intact for its round.
func (v *Verifier) Verify(ctx context.Context, participantID, wallet string, c chain.Chain, tasksCompleted bool) (Record, error) {
	tier, balance := v.evaluator.Evaluate(ctx, wallet, c)
	rec := Record{
		ParticipantID:  participantID,
		Wallet:         wallet,
		Chain:          c,
		Tier:           tier,
		Verified:       tier > 0,
		Balance:        balance,
		TasksCompleted: tasksCompleted,
	}
	if tier == 0 {
		return rec, nil
	}
	if err := v.store.Replace(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("failed to store eligibility record: %w", err)
	}
	v.log.Info("eligibility: wallet verified",
		"participant", participantID, "chain", c, "tier", tier, "balance", balance)
	return rec, nil
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Replace(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ParticipantID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, participantID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[participantID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, participantID)
	}
	return rec, nil
}

func (s *MemoryStore) ListVerified(ctx context.Context, tier int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if !rec.Verified || !rec.TasksCompleted {
			continue
		}
		if tier != 0 && rec.Tier != tier {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// PGStore is the postgres-backed Store.
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

func (s *PGStore) Replace(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eligibility (participant_id, wallet, chain, tier, verified, balance, tasks_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (participant_id) DO UPDATE SET
			wallet = EXCLUDED.wallet,
			chain = EXCLUDED.chain,
			tier = EXCLUDED.tier,
			verified = EXCLUDED.verified,
			balance = EXCLUDED.balance,
			tasks_completed = EXCLUDED.tasks_completed`,
		rec.ParticipantID, rec.Wallet, string(rec.Chain), rec.Tier, rec.Verified, rec.Balance, rec.TasksCompleted)
	if err != nil {
		return fmt.Errorf("failed to upsert eligibility record: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, participantID string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT participant_id, wallet, chain, tier, verified, balance, tasks_completed
		FROM eligibility WHERE participant_id = $1`, participantID)
	rec, err := scanEligibility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, participantID)
	}
	return rec, err
}

func (s *PGStore) ListVerified(ctx context.Context, tier int) ([]Record, error) {
	query := `
		SELECT participant_id, wallet, chain, tier, verified, balance, tasks_completed
		FROM eligibility WHERE verified AND tasks_completed`
	args := []any{}
	if tier != 0 {
		query += ` AND tier = $1`
		args = append(args, tier)
	}
	query += ` ORDER BY participant_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligibility records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanEligibility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanEligibility(row pgx.Row) (Record, error) {
	var (
		rec      Record
		chainStr string
	)
	if err := row.Scan(&rec.ParticipantID, &rec.Wallet, &chainStr, &rec.Tier, &rec.Verified, &rec.Balance, &rec.TasksCompleted); err != nil {
		return Record{}, err
	}
	rec.Chain = chain.Chain(chainStr)
	return rec, nil
}
