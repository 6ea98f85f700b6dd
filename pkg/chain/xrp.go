package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

const dropsPerXRP = 1_000_000

var xrpAddressRE = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

type XRPDispatcherConfig struct {
	Logger        *slog.Logger
	RPCURL        string
	SenderAddress string
	SenderSeed    string
	RateLimiter   *rate.Limiter
}

func (cfg *XRPDispatcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if !xrpAddressRE.MatchString(cfg.SenderAddress) {
		return fmt.Errorf("sender address %q is not a valid XRP address", cfg.SenderAddress)
	}
	if cfg.SenderSeed == "" {
		return errors.New("sender seed is required")
	}
	return nil
}

// XRPDispatcher submits XRP payments through rippled's sign-and-submit mode.
// The server allocates the account sequence, so submissions from the same
// sender are serialized here to keep sequence allocation ordered.
type XRPDispatcher struct {
	log *slog.Logger
	cfg XRPDispatcherConfig
	rpc *rpcClient

	mu sync.Mutex
}

func NewXRPDispatcher(cfg XRPDispatcherConfig) (*XRPDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &XRPDispatcher{
		log: cfg.Logger,
		cfg: cfg,
		rpc: newRPCClient(cfg.RPCURL, cfg.RateLimiter),
	}, nil
}

func (d *XRPDispatcher) Chain() Chain { return XRP }

func (d *XRPDispatcher) Sender() string { return d.cfg.SenderAddress }

type xrpAccountInfoResult struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	AccountData struct {
		Balance string `json:"Balance"`
	} `json:"account_data"`
}

// Balance returns the XRP balance of wallet in whole XRP.
func (d *XRPDispatcher) Balance(ctx context.Context, wallet string) (float64, error) {
	if !xrpAddressRE.MatchString(wallet) {
		return 0, fmt.Errorf("invalid XRP address %q", wallet)
	}
	var result xrpAccountInfoResult
	if err := d.rpc.call(ctx, "account_info", []any{map[string]any{
		"account":      wallet,
		"ledger_index": "validated",
	}}, &result); err != nil {
		return 0, fmt.Errorf("account_info failed: %w", err)
	}
	if result.Error != "" {
		return 0, fmt.Errorf("account_info failed: %s", result.Error)
	}
	drops, err := strconv.ParseFloat(result.AccountData.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid drops balance %q: %w", result.AccountData.Balance, err)
	}
	return drops / dropsPerXRP, nil
}

type xrpSubmitResult struct {
	Status              string `json:"status"`
	Error               string `json:"error"`
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

func (d *XRPDispatcher) Send(ctx context.Context, destination string, amount float64, _ string) (string, error) {
	if !xrpAddressRE.MatchString(destination) {
		return "", Fatal(XRP, ReasonInvalidAddress, fmt.Errorf("invalid destination address %q", destination))
	}

	drops := strconv.FormatInt(int64(math.Round(amount*dropsPerXRP)), 10)

	d.mu.Lock()
	defer d.mu.Unlock()

	var result xrpSubmitResult
	err := d.rpc.call(ctx, "submit", []any{map[string]any{
		"secret": d.cfg.SenderSeed,
		"tx_json": map[string]any{
			"TransactionType": "Payment",
			"Account":         d.cfg.SenderAddress,
			"Destination":     destination,
			"Amount":          drops,
		},
	}}, &result)
	if err != nil {
		return "", Retryable(XRP, ReasonNetwork, err)
	}
	if result.Error != "" {
		return "", Fatal(XRP, ReasonRejected, fmt.Errorf("submit failed: %s", result.Error))
	}

	if cerr := d.classifyEngineResult(result); cerr != nil {
		return "", cerr
	}

	d.log.Debug("xrp: payment submitted",
		"to", destination, "drops", drops, "engine_result", result.EngineResult, "tx", result.TxJSON.Hash)
	return result.TxJSON.Hash, nil
}

// classifyEngineResult maps rippled engine result classes onto the dispatch
// error taxonomy. tes is success and ter is queued-for-later, which counts as
// submitted; tec/tem/tef are failures of varying permanence.
func (d *XRPDispatcher) classifyEngineResult(result xrpSubmitResult) error {
	code := result.EngineResult
	err := fmt.Errorf("submit returned %s: %s", code, result.EngineResultMessage)
	switch {
	case strings.HasPrefix(code, "tes"), strings.HasPrefix(code, "ter"):
		return nil
	case strings.Contains(code, "UNFUNDED"), strings.Contains(code, "INSUF"):
		return Fatal(XRP, ReasonInsufficientFunds, err)
	case code == "tefPAST_SEQ":
		return Retryable(XRP, ReasonNonceConflict, err)
	case strings.Contains(code, "DST"):
		return Fatal(XRP, ReasonInvalidAddress, err)
	}
	return Fatal(XRP, ReasonRejected, err)
}
