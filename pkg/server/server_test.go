package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/birdlabs/airdrop/pkg/allocation"
	"github.com/birdlabs/airdrop/pkg/campaign"
	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/configstore"
	"github.com/birdlabs/airdrop/pkg/distribute"
	"github.com/birdlabs/airdrop/pkg/eligibility"
	"github.com/birdlabs/airdrop/pkg/ledger"
	"github.com/birdlabs/airdrop/pkg/notify"
	"github.com/birdlabs/airdrop/pkg/testlog"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct {
	chainID chain.Chain
	balance float64
}

func (d *stubDispatcher) Chain() chain.Chain { return d.chainID }
func (d *stubDispatcher) Sender() string     { return "sender-" + string(d.chainID) }

func (d *stubDispatcher) Send(ctx context.Context, destination string, amount float64, contractRef string) (string, error) {
	return "0xtx-" + destination, nil
}

func (d *stubDispatcher) Balance(ctx context.Context, wallet string) (float64, error) {
	return d.balance, nil
}

type serverFixture struct {
	server    *Server
	ledger    *ledger.Ledger
	contracts *campaign.MemoryTierContractStore
	config    *configstore.Config
}

func newServerFixture(t *testing.T, balance float64) *serverFixture {
	t.Helper()
	log := testlog.New(t)

	led, err := ledger.New(ledger.Config{
		Logger:   log,
		Store:    ledger.NewMemoryStore(),
		Balances: ledger.NewMemoryBalances(),
	})
	require.NoError(t, err)

	eligStore := eligibility.NewMemoryStore()
	contracts := campaign.NewMemoryTierContractStore()
	cfg, err := configstore.New(configstore.NewMemoryStore(map[string]string{
		configstore.KeyMinTokenBalance: "100",
	}))
	require.NoError(t, err)

	dispatcher := &stubDispatcher{chainID: chain.ETH, balance: balance}
	evaluator, err := eligibility.NewEvaluator(eligibility.EvaluatorConfig{
		Logger:  log,
		Readers: map[chain.Chain]chain.BalanceReader{chain.ETH: dispatcher},
		Config:  cfg,
	})
	require.NoError(t, err)
	verifier, err := eligibility.NewVerifier(log, evaluator, eligStore)
	require.NoError(t, err)

	calculator, err := allocation.NewCalculator(allocation.Config{
		Logger:        log,
		Ledger:        led,
		TierContracts: contracts,
		Vesting:       cfg,
	})
	require.NoError(t, err)

	orchestrator, err := distribute.New(distribute.Config{
		Logger:          log,
		Ledger:          led,
		Eligibility:     eligStore,
		TierContracts:   contracts,
		Dispatchers:     map[chain.Chain]chain.Dispatcher{chain.ETH: dispatcher},
		Participants:    notify.NewLogNotifier(log),
		DefaultContract: "0xdefault",
	})
	require.NoError(t, err)

	srv, err := New(Config{
		Logger:        log,
		ListenAddr:    "127.0.0.1:0",
		VersionInfo:   VersionInfo{Version: "test", Commit: "abc", Date: "today"},
		Verifier:      verifier,
		Eligibility:   eligStore,
		Calculator:    calculator,
		Orchestrator:  orchestrator,
		Ledger:        led,
		Campaigns:     campaign.NewMemoryStore(),
		TierContracts: contracts,
		Config:        cfg,
	})
	require.NoError(t, err)
	return &serverFixture{server: srv, ledger: led, contracts: contracts, config: cfg}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestAirdrop_Server_Health(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, 0)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decodeBody[VersionInfo](t, w)
	require.Equal(t, "test", info.Version)
}

func TestAirdrop_Server_Campaigns(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, 0)

	t.Run("create requires a name and budget", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/campaigns", map[string]any{"total_tokens": 9000})
		require.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(t, http.MethodPost, "/api/campaigns", map[string]any{"name": "genesis"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("create, list, deactivate", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/campaigns", map[string]any{
			"name":         "genesis",
			"start":        time.Now().UTC(),
			"end":          time.Now().UTC().Add(24 * time.Hour),
			"total_tokens": 9000,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		created := decodeBody[map[string]int64](t, w)
		id := created["id"]
		require.NotZero(t, id)

		w = f.do(t, http.MethodGet, "/api/campaigns", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodDelete, fmt.Sprintf("/api/campaigns/%d", id), nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = f.do(t, http.MethodDelete, "/api/campaigns/9999", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAirdrop_Server_Verify(t *testing.T) {
	t.Parallel()

	t.Run("eligible wallet", func(t *testing.T) {
		t.Parallel()
		f := newServerFixture(t, 250)
		w := f.do(t, http.MethodPost, "/api/eligibility/verify", map[string]any{
			"participant_id":  "alice",
			"wallet":          "0xabc",
			"chain":           "eth",
			"tasks_completed": true,
		})
		require.Equal(t, http.StatusOK, w.Code)
		rec := decodeBody[eligibilityView](t, w)
		require.True(t, rec.Verified)
		require.Equal(t, 2, rec.Tier)

		w = f.do(t, http.MethodGet, "/api/eligibility/alice", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("ineligible wallet is returned unverified", func(t *testing.T) {
		t.Parallel()
		f := newServerFixture(t, 50)
		w := f.do(t, http.MethodPost, "/api/eligibility/verify", map[string]any{
			"participant_id": "bob",
			"wallet":         "0xdef",
			"chain":          "ETH",
		})
		require.Equal(t, http.StatusOK, w.Code)
		rec := decodeBody[eligibilityView](t, w)
		require.False(t, rec.Verified)

		w = f.do(t, http.MethodGet, "/api/eligibility/bob", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown chain", func(t *testing.T) {
		t.Parallel()
		f := newServerFixture(t, 250)
		w := f.do(t, http.MethodPost, "/api/eligibility/verify", map[string]any{
			"participant_id": "carol",
			"wallet":         "0x123",
			"chain":          "DOGE",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAirdrop_Server_DistributionFlow(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, 250)

	// Verify a participant, create a campaign, allocate, run, inspect.
	w := f.do(t, http.MethodPost, "/api/eligibility/verify", map[string]any{
		"participant_id":  "alice",
		"wallet":          "0xabc",
		"chain":           "ETH",
		"tasks_completed": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/campaigns", map[string]any{
		"name":         "genesis",
		"total_tokens": 9000,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody[map[string]int64](t, w)["id"]

	t.Run("report is missing before any run", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/distributions/report", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	w = f.do(t, http.MethodPost, "/api/allocations", map[string]any{
		"campaign_id": id,
		"token_id":    1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	alloc := decodeBody[map[string]int](t, w)
	require.Equal(t, 1, alloc["created"])

	w = f.do(t, http.MethodPost, "/api/distributions/run", map[string]any{
		"campaign_id": id,
		"token_id":    1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	report := decodeBody[distribute.Report](t, w)
	require.Equal(t, 1, report.Succeeded)

	t.Run("record reflects the completed transfer", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/distributions/alice", nil)
		require.Equal(t, http.StatusOK, w.Code)
		rec := decodeBody[recordView](t, w)
		require.Equal(t, string(ledger.StatusCompleted), rec.Status)
		require.NotEmpty(t, rec.TxRef)
	})

	t.Run("report is served after the run", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/distributions/report", nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("claiming a completed record is a conflict", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/distributions/alice/claim", nil)
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("reset clears the record", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/api/distributions/alice", nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = f.do(t, http.MethodGet, "/api/distributions/alice", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("run against a missing campaign", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/distributions/run", map[string]any{
			"campaign_id": 9999,
			"token_id":    1,
		})
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAirdrop_Server_Claim(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, 250)

	t.Run("missing record", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/distributions/nobody/claim", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAirdrop_Server_TierContracts(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, 0)
	ctx := context.Background()

	t.Run("upsert stores the override", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/tokens/1/tiers/2", map[string]any{
			"amount":           1000,
			"contract_address": "0xtier2",
		})
		require.Equal(t, http.StatusNoContent, w.Code)

		tc, ok, err := f.contracts.Get(ctx, 1, 2)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 1000.0, tc.Amount)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/tokens/1/tiers/2", map[string]any{"amount": 0})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a non-numeric tier", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/api/tokens/1/tiers/gold", map[string]any{"amount": 10})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAirdrop_Server_ConfigSet(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t, 0)
	ctx := context.Background()

	w := f.do(t, http.MethodPut, "/api/config/min_token_balance", map[string]any{"value": "250"})
	require.Equal(t, http.StatusNoContent, w.Code)

	minBalance, err := f.config.MinTokenBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, 250.0, minBalance)

	w = f.do(t, http.MethodPut, "/api/config/min_token_balance", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
