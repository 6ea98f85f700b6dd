package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAirdrop_ConfigStore_Defaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg, err := New(NewMemoryStore(nil))
	require.NoError(t, err)

	minBalance, err := cfg.MinTokenBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, 100.0, minBalance)

	days, err := cfg.VestingPeriodDays(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, days)

	bonus, err := cfg.ReferralBonus(ctx)
	require.NoError(t, err)
	require.Equal(t, 15.0, bonus)

	supply, err := cfg.TotalSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, 1_000_000.0, supply)
}

func TestAirdrop_ConfigStore_Overrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("seeded values win over defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := New(NewMemoryStore(map[string]string{
			KeyMinTokenBalance:   "250",
			KeyVestingPeriodDays: "30",
		}))
		require.NoError(t, err)

		minBalance, err := cfg.MinTokenBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, 250.0, minBalance)

		days, err := cfg.VestingPeriodDays(ctx)
		require.NoError(t, err)
		require.Equal(t, 30, days)
	})

	t.Run("set updates the stored value", func(t *testing.T) {
		t.Parallel()
		cfg, err := New(NewMemoryStore(nil))
		require.NoError(t, err)

		require.NoError(t, cfg.Set(ctx, KeyTotalSupply, "500000"))
		supply, err := cfg.TotalSupply(ctx)
		require.NoError(t, err)
		require.Equal(t, 500_000.0, supply)
	})

	t.Run("non-numeric values error", func(t *testing.T) {
		t.Parallel()
		cfg, err := New(NewMemoryStore(map[string]string{KeyTotalSupply: "lots"}))
		require.NoError(t, err)

		_, err = cfg.TotalSupply(ctx)
		require.Error(t, err)
		require.Contains(t, err.Error(), "non-numeric")
	})
}
