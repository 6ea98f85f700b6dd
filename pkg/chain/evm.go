package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var evmAddressRE = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// erc20TransferSelector is the 4-byte selector of transfer(address,uint256).
const erc20TransferSelector = "a9059cbb"

var weiPerEther = new(big.Float).SetFloat64(1e18)

type EVMDispatcherConfig struct {
	Logger        *slog.Logger
	Chain         Chain // ETH or BSC
	RPCURL        string
	SenderAddress string
	GasLimit      uint64
	GasPriceGwei  uint64
	RateLimiter   *rate.Limiter
}

func (cfg *EVMDispatcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain != ETH && cfg.Chain != BSC {
		return fmt.Errorf("chain must be ETH or BSC, got %q", cfg.Chain)
	}
	if cfg.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if !evmAddressRE.MatchString(cfg.SenderAddress) {
		return fmt.Errorf("sender address %q is not a valid EVM address", cfg.SenderAddress)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 200_000
	}
	if cfg.GasPriceGwei == 0 {
		cfg.GasPriceGwei = 50
	}
	return nil
}

// EVMDispatcher submits ERC-20 token transfers on ETH or BSC through a node
// that holds the sender account. Nonce allocation and submission are
// serialized per sender behind a mutex; the next nonce is cached so a batch
// only pays one getTransactionCount round-trip.
type EVMDispatcher struct {
	log *slog.Logger
	cfg EVMDispatcherConfig
	rpc *rpcClient

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool
}

func NewEVMDispatcher(cfg EVMDispatcherConfig) (*EVMDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EVMDispatcher{
		log: cfg.Logger,
		cfg: cfg,
		rpc: newRPCClient(cfg.RPCURL, cfg.RateLimiter),
	}, nil
}

func (d *EVMDispatcher) Chain() Chain { return d.cfg.Chain }

func (d *EVMDispatcher) Sender() string { return strings.ToLower(d.cfg.SenderAddress) }

// Balance returns the native balance of wallet in ether units.
func (d *EVMDispatcher) Balance(ctx context.Context, wallet string) (float64, error) {
	if !evmAddressRE.MatchString(wallet) {
		return 0, fmt.Errorf("invalid %s address %q", d.cfg.Chain, wallet)
	}
	var hexBalance string
	if err := d.rpc.call(ctx, "eth_getBalance", []any{wallet, "latest"}, &hexBalance); err != nil {
		return 0, fmt.Errorf("eth_getBalance failed: %w", err)
	}
	wei, err := parseHexBig(hexBalance)
	if err != nil {
		return 0, err
	}
	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	return ether, nil
}

func (d *EVMDispatcher) Send(ctx context.Context, destination string, amount float64, contractRef string) (string, error) {
	if !evmAddressRE.MatchString(destination) {
		return "", Fatal(d.cfg.Chain, ReasonInvalidAddress, fmt.Errorf("invalid destination address %q", destination))
	}
	if !evmAddressRE.MatchString(contractRef) {
		return "", Fatal(d.cfg.Chain, ReasonInvalidAddress, fmt.Errorf("invalid token contract address %q", contractRef))
	}

	wei, _ := new(big.Float).Mul(new(big.Float).SetFloat64(amount), weiPerEther).Int(nil)
	data := "0x" + erc20TransferSelector + padAddress(destination) + padBig(wei)

	// Nonce read and submission are one critical section: a concurrent Send
	// from the same sender would otherwise race on the same nonce and lose.
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.nonceKnown {
		var hexNonce string
		if err := d.rpc.call(ctx, "eth_getTransactionCount", []any{d.cfg.SenderAddress, "pending"}, &hexNonce); err != nil {
			return "", d.classify(fmt.Errorf("eth_getTransactionCount failed: %w", err))
		}
		n, err := parseHexBig(hexNonce)
		if err != nil {
			return "", Fatal(d.cfg.Chain, ReasonRejected, err)
		}
		d.nonce = n.Uint64()
		d.nonceKnown = true
	}

	tx := map[string]string{
		"from":     d.cfg.SenderAddress,
		"to":       contractRef,
		"gas":      hexUint(d.cfg.GasLimit),
		"gasPrice": hexUint(d.cfg.GasPriceGwei * 1_000_000_000),
		"nonce":    hexUint(d.nonce),
		"data":     data,
	}

	var txHash string
	if err := d.rpc.call(ctx, "eth_sendTransaction", []any{tx}, &txHash); err != nil {
		cerr := d.classify(err)
		if FailureReason(cerr) == ReasonNonceConflict {
			// Our cached nonce is stale; refetch on the next attempt.
			d.nonceKnown = false
		}
		return "", cerr
	}

	d.log.Debug("evm: transaction submitted",
		"chain", d.cfg.Chain, "to", destination, "amount", amount, "nonce", d.nonce, "tx", txHash)
	d.nonce++
	return txHash, nil
}

func (d *EVMDispatcher) classify(err error) error {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		switch {
		case strings.Contains(msg, "nonce too low"),
			strings.Contains(msg, "replacement transaction underpriced"),
			strings.Contains(msg, "already known"),
			strings.Contains(msg, "known transaction"):
			return Retryable(d.cfg.Chain, ReasonNonceConflict, err)
		case strings.Contains(msg, "insufficient funds"):
			return Fatal(d.cfg.Chain, ReasonInsufficientFunds, err)
		case strings.Contains(msg, "revert"):
			return Fatal(d.cfg.Chain, ReasonContractRevert, err)
		}
		return Fatal(d.cfg.Chain, ReasonRejected, err)
	}
	return Retryable(d.cfg.Chain, ReasonNetwork, err)
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func parseHexBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}

// padAddress left-pads a 20-byte address to a 32-byte ABI word.
func padAddress(addr string) string {
	return fmt.Sprintf("%064s", strings.ToLower(strings.TrimPrefix(addr, "0x")))
}

// padBig left-pads an unsigned integer to a 32-byte ABI word.
func padBig(v *big.Int) string {
	return fmt.Sprintf("%064s", v.Text(16))
}
