package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/testlog"
	"github.com/stretchr/testify/require"
)

type mockBalanceReader struct {
	balanceFunc func(ctx context.Context, wallet string) (float64, error)
}

func (m *mockBalanceReader) Balance(ctx context.Context, wallet string) (float64, error) {
	if m.balanceFunc != nil {
		return m.balanceFunc(ctx, wallet)
	}
	return 0, nil
}

type mockConfigSource struct {
	minTokenBalance float64
	err             error
}

func (m *mockConfigSource) MinTokenBalance(ctx context.Context) (float64, error) {
	return m.minTokenBalance, m.err
}

func fixedBalance(v float64) *mockBalanceReader {
	return &mockBalanceReader{balanceFunc: func(ctx context.Context, wallet string) (float64, error) {
		return v, nil
	}}
}

func testEvaluator(t *testing.T, balance float64, minBalance float64) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(EvaluatorConfig{
		Logger: testlog.New(t),
		Readers: map[chain.Chain]chain.BalanceReader{
			chain.ETH: fixedBalance(balance),
			chain.XRP: fixedBalance(balance),
		},
		Config: &mockConfigSource{minTokenBalance: minBalance},
	})
	require.NoError(t, err)
	return e
}

func TestAirdrop_Eligibility_Evaluator_NewEvaluator(t *testing.T) {
	t.Parallel()

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		_, err := NewEvaluator(EvaluatorConfig{
			Readers: map[chain.Chain]chain.BalanceReader{chain.ETH: fixedBalance(0)},
			Config:  &mockConfigSource{},
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("missing readers", func(t *testing.T) {
		t.Parallel()
		_, err := NewEvaluator(EvaluatorConfig{Logger: testlog.New(t), Config: &mockConfigSource{}})
		require.Error(t, err)
		require.Contains(t, err.Error(), "balance reader is required")
	})
}

func TestAirdrop_Eligibility_Evaluator_Evaluate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("tier follows the per-chain step function clamped to the tier range", func(t *testing.T) {
		t.Parallel()
		for _, tc := range []struct {
			name    string
			chain   chain.Chain
			balance float64
			tier    int
		}{
			// ETH steps by 100 per tier.
			{"eth below one step floors to tier 1", chain.ETH, 150, 1},
			{"eth two steps", chain.ETH, 250, 2},
			{"eth three steps", chain.ETH, 320, 3},
			{"eth clamps above max tier", chain.ETH, 10_000, 3},
			// XRP steps by 10 per tier.
			{"xrp two steps", chain.XRP, 25, 2},
			{"xrp clamps above max tier", chain.XRP, 500, 3},
		} {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				e := testEvaluator(t, tc.balance, 0)
				tier, balance := e.Evaluate(ctx, "wallet", tc.chain)
				require.Equal(t, tc.tier, tier)
				require.Equal(t, tc.balance, balance)
			})
		}
	})

	t.Run("minimum balance gates after the step function", func(t *testing.T) {
		t.Parallel()
		// 90 XRP would step to tier 3, but sits under the 100-token minimum.
		e := testEvaluator(t, 90, 100)
		tier, balance := e.Evaluate(ctx, "wallet", chain.XRP)
		require.Equal(t, 0, tier)
		require.Equal(t, 90.0, balance)
	})

	t.Run("fails closed on missing reader", func(t *testing.T) {
		t.Parallel()
		e := testEvaluator(t, 500, 0)
		tier, balance := e.Evaluate(ctx, "wallet", chain.SOL)
		require.Equal(t, 0, tier)
		require.Equal(t, 0.0, balance)
	})

	t.Run("fails closed on balance query error", func(t *testing.T) {
		t.Parallel()
		e, err := NewEvaluator(EvaluatorConfig{
			Logger: testlog.New(t),
			Readers: map[chain.Chain]chain.BalanceReader{
				chain.ETH: &mockBalanceReader{balanceFunc: func(ctx context.Context, wallet string) (float64, error) {
					return 0, errors.New("rpc timeout")
				}},
			},
			Config: &mockConfigSource{},
		})
		require.NoError(t, err)
		tier, balance := e.Evaluate(ctx, "wallet", chain.ETH)
		require.Equal(t, 0, tier)
		require.Equal(t, 0.0, balance)
	})

	t.Run("fails closed when the config source errors", func(t *testing.T) {
		t.Parallel()
		e, err := NewEvaluator(EvaluatorConfig{
			Logger:  testlog.New(t),
			Readers: map[chain.Chain]chain.BalanceReader{chain.ETH: fixedBalance(500)},
			Config:  &mockConfigSource{err: errors.New("store down")},
		})
		require.NoError(t, err)
		tier, _ := e.Evaluate(ctx, "wallet", chain.ETH)
		require.Equal(t, 0, tier)
	})
}
