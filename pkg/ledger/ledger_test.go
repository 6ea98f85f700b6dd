package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/metrics"
	"github.com/birdlabs/airdrop/pkg/testlog"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, clock clockwork.Clock) (*Ledger, *MemoryStore, *MemoryBalances) {
	t.Helper()
	store := NewMemoryStore()
	balances := NewMemoryBalances()
	l, err := New(Config{
		Logger:   testlog.New(t),
		Clock:    clock,
		Store:    store,
		Balances: balances,
	})
	require.NoError(t, err)
	return l, store, balances
}

func pendingRecord(id string, amount float64) Record {
	return Record{
		ParticipantID: id,
		Wallet:        "0xabc",
		Chain:         chain.ETH,
		Amount:        amount,
	}
}

func TestAirdrop_Ledger_New(t *testing.T) {
	t.Parallel()

	t.Run("missing store", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Logger: testlog.New(t), Balances: NewMemoryBalances()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "store is required")
	})

	t.Run("missing balances", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Logger: testlog.New(t), Store: NewMemoryStore()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "balances is required")
	})
}

func TestAirdrop_Ledger_Allocate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates a pending record", func(t *testing.T) {
		t.Parallel()
		l, store, _ := testLedger(t, nil)

		created, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)
		require.True(t, created)

		rec, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, StatusPending, rec.Status)
		require.Equal(t, 100.0, rec.Amount)
	})

	t.Run("is idempotent per participant", func(t *testing.T) {
		t.Parallel()
		l, store, _ := testLedger(t, nil)

		created, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)
		require.True(t, created)
		created, err = l.Allocate(ctx, pendingRecord("alice", 999))
		require.NoError(t, err)
		require.False(t, created)

		rec, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 100.0, rec.Amount, "existing record must not be overwritten")
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()
		l, _, _ := testLedger(t, nil)
		_, err := l.Allocate(ctx, pendingRecord("alice", 0))
		require.Error(t, err)
		_, err = l.Allocate(ctx, pendingRecord("alice", -5))
		require.Error(t, err)
	})

	t.Run("forces pending status regardless of input", func(t *testing.T) {
		t.Parallel()
		l, store, _ := testLedger(t, nil)
		rec := pendingRecord("alice", 100)
		rec.Status = StatusCompleted
		rec.TxRef = "sneaky"
		_, err := l.Allocate(ctx, rec)
		require.NoError(t, err)

		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, StatusPending, got.Status)
		require.Empty(t, got.TxRef)
	})
}

func TestAirdrop_Ledger_MarkDispatched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no vesting completes immediately", func(t *testing.T) {
		t.Parallel()
		l, store, _ := testLedger(t, nil)
		_, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)

		status, err := l.MarkDispatched(ctx, "alice", "0xtx1")
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, status)

		rec, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, "0xtx1", rec.TxRef)
	})

	t.Run("future vesting becomes claimable", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		l, _, _ := testLedger(t, clock)

		rec := pendingRecord("alice", 100)
		rec.VestingEnd = clock.Now().Add(24 * time.Hour)
		_, err := l.Allocate(ctx, rec)
		require.NoError(t, err)

		status, err := l.MarkDispatched(ctx, "alice", "0xtx1")
		require.NoError(t, err)
		require.Equal(t, StatusClaimable, status)
	})

	t.Run("elapsed vesting completes", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		l, _, _ := testLedger(t, clock)

		rec := pendingRecord("alice", 100)
		rec.VestingEnd = clock.Now().Add(24 * time.Hour)
		_, err := l.Allocate(ctx, rec)
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		status, err := l.MarkDispatched(ctx, "alice", "0xtx1")
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, status)
	})

	t.Run("only a pending record can be dispatched", func(t *testing.T) {
		t.Parallel()
		l, _, _ := testLedger(t, nil)
		_, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)
		_, err = l.MarkDispatched(ctx, "alice", "0xtx1")
		require.NoError(t, err)

		_, err = l.MarkDispatched(ctx, "alice", "0xtx2")
		require.ErrorIs(t, err, ErrConflict)
	})
}

func TestAirdrop_Ledger_MarkFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("pending record fails with a reason", func(t *testing.T) {
		t.Parallel()
		l, store, _ := testLedger(t, nil)
		_, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)

		require.NoError(t, l.MarkFailed(ctx, "alice", "network"))
		rec, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, StatusFailed, rec.Status)
		require.Equal(t, "network", rec.FailReason)
	})

	t.Run("claimable record can fail", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		l, store, _ := testLedger(t, clock)

		rec := pendingRecord("alice", 100)
		rec.VestingEnd = clock.Now().Add(24 * time.Hour)
		_, err := l.Allocate(ctx, rec)
		require.NoError(t, err)
		_, err = l.MarkDispatched(ctx, "alice", "0xtx1")
		require.NoError(t, err)

		require.NoError(t, l.MarkFailed(ctx, "alice", "rejected"))
		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, StatusFailed, got.Status)
	})

	t.Run("claimable failure is counted against the claimable state", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		l, _, _ := testLedger(t, clock)

		rec := pendingRecord("alice", 100)
		rec.VestingEnd = clock.Now().Add(24 * time.Hour)
		_, err := l.Allocate(ctx, rec)
		require.NoError(t, err)
		_, err = l.MarkDispatched(ctx, "alice", "0xtx1")
		require.NoError(t, err)

		counter := metrics.LedgerTransitionsTotal.WithLabelValues(string(StatusClaimable), string(StatusFailed))
		before := testutil.ToFloat64(counter)
		require.NoError(t, l.MarkFailed(ctx, "alice", "rejected"))
		require.GreaterOrEqual(t, testutil.ToFloat64(counter), before+1)
	})

	t.Run("failed is absorbing", func(t *testing.T) {
		t.Parallel()
		l, _, _ := testLedger(t, nil)
		_, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)
		require.NoError(t, l.MarkFailed(ctx, "alice", "network"))

		_, err = l.MarkDispatched(ctx, "alice", "0xtx1")
		require.ErrorIs(t, err, ErrConflict)
		require.ErrorIs(t, l.MarkFailed(ctx, "alice", "again"), ErrConflict)
	})
}

func TestAirdrop_Ledger_Claim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	claimable := func(t *testing.T, l *Ledger, clock clockwork.Clock, id string, amount float64, vesting time.Duration) {
		t.Helper()
		rec := pendingRecord(id, amount)
		rec.VestingEnd = clock.Now().Add(vesting)
		_, err := l.Allocate(ctx, rec)
		require.NoError(t, err)
		_, err = l.MarkDispatched(ctx, id, "0xtx1")
		require.NoError(t, err)
	}

	t.Run("claim after vesting credits the balance once", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		l, _, balances := testLedger(t, clock)
		claimable(t, l, clock, "alice", 150, 24*time.Hour)

		clock.Advance(25 * time.Hour)
		rec, err := l.Claim(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, StatusClaimed, rec.Status)
		require.Equal(t, 150.0, balances.Balance("alice"))

		// A second claim finds nothing claimable and credits nothing.
		_, err = l.Claim(ctx, "alice")
		require.ErrorIs(t, err, ErrConflict)
		require.Equal(t, 150.0, balances.Balance("alice"))
	})

	t.Run("claim before vesting is rejected and leaves the record claimable", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		l, store, balances := testLedger(t, clock)
		claimable(t, l, clock, "alice", 150, 24*time.Hour)

		_, err := l.Claim(ctx, "alice")
		require.ErrorIs(t, err, ErrVestingNotElapsed)
		require.Equal(t, 0.0, balances.Balance("alice"))

		rec, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, StatusClaimable, rec.Status)
	})

	t.Run("claiming a pending record is a conflict", func(t *testing.T) {
		t.Parallel()
		l, _, _ := testLedger(t, nil)
		_, err := l.Allocate(ctx, pendingRecord("alice", 100))
		require.NoError(t, err)
		_, err = l.Claim(ctx, "alice")
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("claiming a missing record", func(t *testing.T) {
		t.Parallel()
		l, _, _ := testLedger(t, nil)
		_, err := l.Claim(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAirdrop_Ledger_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l, store, _ := testLedger(t, nil)
	_, err := l.Allocate(ctx, pendingRecord("alice", 100))
	require.NoError(t, err)
	require.NoError(t, l.MarkFailed(ctx, "alice", "network"))

	require.NoError(t, l.Reset(ctx, "alice"))
	_, err = store.Get(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	// A fresh allocation is possible after the reset.
	created, err := l.Allocate(ctx, pendingRecord("alice", 200))
	require.NoError(t, err)
	require.True(t, created)
}
