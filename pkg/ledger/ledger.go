package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/metrics"
	"github.com/jonboulle/clockwork"
)

// Status is a distribution record state. Records only ever move forward:
//
//	pending → claimable → claimed
//	pending → completed
//	pending|claimable → failed
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimable Status = "claimable"
	StatusCompleted Status = "completed"
	StatusClaimed   Status = "claimed"
	StatusFailed    Status = "failed"
)

var (
	// ErrNotFound is returned when no record exists for a participant.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrConflict is returned when a compare-and-set transition loses against
	// a concurrent writer or the record is not in the expected state.
	ErrConflict = errors.New("ledger: record not in expected state")
	// ErrVestingNotElapsed is returned for claim attempts before the vesting
	// release timestamp.
	ErrVestingNotElapsed = errors.New("ledger: vesting period has not elapsed")
	// ErrExists is returned when allocation would overwrite a live record.
	ErrExists = errors.New("ledger: record already exists")
)

// Record is one distribution attempt for one participant.
type Record struct {
	ParticipantID string
	Wallet        string
	Chain         chain.Chain
	Amount        float64
	Status        Status
	TxRef         string
	// VestingEnd is the claim release timestamp. The zero value means no
	// vesting: the transfer completes without a claim step.
	VestingEnd time.Time
	FailReason string
}

// Mutation carries the optional column updates applied alongside a status
// transition.
type Mutation struct {
	TxRef      *string
	FailReason *string
}

// Store is the durable record table. Implementations must make
// CompareAndTransition atomic per participant row.
type Store interface {
	// CreateIfAbsent inserts rec and reports whether it was inserted. An
	// existing row for the participant is left untouched.
	CreateIfAbsent(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, participantID string) (Record, error)
	ListByStatus(ctx context.Context, status Status) ([]Record, error)
	// CompareAndTransition moves the record from status `from` to `to`,
	// applying m, iff the record currently has status `from`. Returns
	// ErrNotFound or ErrConflict otherwise.
	CompareAndTransition(ctx context.Context, participantID string, from, to Status, m Mutation) error
	// Delete removes the record unconditionally (administrative reset).
	Delete(ctx context.Context, participantID string) error
}

// Balances credits a participant's spendable balance when a claim succeeds.
type Balances interface {
	Credit(ctx context.Context, participantID string, amount float64) error
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Store    Store
	Balances Balances
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Balances == nil {
		return errors.New("balances is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Ledger owns every distribution record state transition. The dispatcher and
// other collaborators never write rows directly; they report outcomes that the
// orchestrator translates into calls here.
type Ledger struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{log: cfg.Logger, cfg: cfg}, nil
}

// Allocate records a pending distribution unless the participant already has a
// live record. Reports whether a record was created.
func (l *Ledger) Allocate(ctx context.Context, rec Record) (bool, error) {
	if rec.ParticipantID == "" {
		return false, errors.New("participant id is required")
	}
	if rec.Amount <= 0 {
		return false, fmt.Errorf("amount must be positive, got %v", rec.Amount)
	}
	rec.Status = StatusPending
	rec.TxRef = ""
	rec.FailReason = ""
	created, err := l.cfg.Store.CreateIfAbsent(ctx, rec)
	if err != nil {
		return false, err
	}
	if created {
		metrics.LedgerTransitionsTotal.WithLabelValues("", string(StatusPending)).Inc()
	}
	return created, nil
}

// Pending returns all records awaiting dispatch.
func (l *Ledger) Pending(ctx context.Context) ([]Record, error) {
	return l.cfg.Store.ListByStatus(ctx, StatusPending)
}

// Get returns the participant's record.
func (l *Ledger) Get(ctx context.Context, participantID string) (Record, error) {
	return l.cfg.Store.Get(ctx, participantID)
}

// MarkDispatched records a successful submission. The record becomes
// claimable when its vesting release is still in the future, completed
// otherwise.
func (l *Ledger) MarkDispatched(ctx context.Context, participantID, txRef string) (Status, error) {
	rec, err := l.cfg.Store.Get(ctx, participantID)
	if err != nil {
		return "", err
	}
	to := StatusCompleted
	if !rec.VestingEnd.IsZero() && rec.VestingEnd.After(l.cfg.Clock.Now()) {
		to = StatusClaimable
	}
	if err := l.cfg.Store.CompareAndTransition(ctx, participantID, StatusPending, to, Mutation{TxRef: &txRef}); err != nil {
		return "", err
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(string(StatusPending), string(to)).Inc()
	return to, nil
}

// MarkFailed moves a pending or claimable record into the absorbing failed
// state with a human-readable reason category.
func (l *Ledger) MarkFailed(ctx context.Context, participantID, reason string) error {
	m := Mutation{FailReason: &reason}
	from := StatusPending
	err := l.cfg.Store.CompareAndTransition(ctx, participantID, StatusPending, StatusFailed, m)
	if errors.Is(err, ErrConflict) {
		from = StatusClaimable
		err = l.cfg.Store.CompareAndTransition(ctx, participantID, StatusClaimable, StatusFailed, m)
	}
	if err != nil {
		return err
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(string(from), string(StatusFailed)).Inc()
	return nil
}

// Claim consumes a claimable record and credits the participant's spendable
// balance by exactly the record amount. Claims before the vesting release are
// rejected and leave the record claimable. The transition consuming the
// claimable state makes the credit happen at most once.
func (l *Ledger) Claim(ctx context.Context, participantID string) (Record, error) {
	rec, err := l.cfg.Store.Get(ctx, participantID)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusClaimable {
		return Record{}, fmt.Errorf("%w: status is %s", ErrConflict, rec.Status)
	}
	if rec.VestingEnd.After(l.cfg.Clock.Now()) {
		return Record{}, fmt.Errorf("%w: releases at %s", ErrVestingNotElapsed, rec.VestingEnd.UTC().Format(time.RFC3339))
	}
	if err := l.cfg.Store.CompareAndTransition(ctx, participantID, StatusClaimable, StatusClaimed, Mutation{}); err != nil {
		return Record{}, err
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(string(StatusClaimable), string(StatusClaimed)).Inc()
	if err := l.cfg.Balances.Credit(ctx, participantID, rec.Amount); err != nil {
		// The claim itself has committed; the credit is reconciled from the
		// ledger row, so log rather than unwind.
		l.log.Error("ledger: failed to credit claimed amount",
			"participant", participantID, "amount", rec.Amount, "error", err)
	}
	rec.Status = StatusClaimed
	return rec, nil
}

// Reset deletes the participant's record so a fresh allocation can be created.
func (l *Ledger) Reset(ctx context.Context, participantID string) error {
	return l.cfg.Store.Delete(ctx, participantID)
}
