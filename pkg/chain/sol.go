package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
)

const lamportsPerSOL = 1_000_000_000

// SolanaRPC wraps the solana-go RPC client methods used by the dispatcher.
type SolanaRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
}

type SOLDispatcherConfig struct {
	Logger *slog.Logger
	// RPC overrides the client constructed from RPCURL; used in tests.
	RPC              SolanaRPC
	RPCURL           string
	SenderPrivateKey string // base58-encoded 64-byte keypair
}

func (cfg *SOLDispatcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		if cfg.RPCURL == "" {
			return errors.New("rpc url is required")
		}
		cfg.RPC = solanarpc.New(cfg.RPCURL)
	}
	if cfg.SenderPrivateKey == "" {
		return errors.New("sender private key is required")
	}
	raw, err := base58.Decode(cfg.SenderPrivateKey)
	if err != nil {
		return fmt.Errorf("sender private key is not valid base58: %w", err)
	}
	if len(raw) != 64 {
		return fmt.Errorf("sender private key must decode to 64 bytes, got %d", len(raw))
	}
	return nil
}

// SOLDispatcher submits SOL system-program transfers. Blockhash fetch, signing
// and submission run as one critical section per sender.
type SOLDispatcher struct {
	log    *slog.Logger
	cfg    SOLDispatcherConfig
	key    solana.PrivateKey
	sender solana.PublicKey

	mu sync.Mutex
}

func NewSOLDispatcher(cfg SOLDispatcherConfig) (*SOLDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	raw, err := base58.Decode(cfg.SenderPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sender private key: %w", err)
	}
	key := solana.PrivateKey(raw)
	return &SOLDispatcher{
		log:    cfg.Logger,
		cfg:    cfg,
		key:    key,
		sender: key.PublicKey(),
	}, nil
}

func (d *SOLDispatcher) Chain() Chain { return SOL }

func (d *SOLDispatcher) Sender() string { return d.sender.String() }

// Balance returns the SOL balance of wallet in whole SOL.
func (d *SOLDispatcher) Balance(ctx context.Context, wallet string) (float64, error) {
	pubkey, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, fmt.Errorf("invalid SOL address %q: %w", wallet, err)
	}
	out, err := d.cfg.RPC.GetBalance(ctx, pubkey, solanarpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("getBalance failed: %w", err)
	}
	return float64(out.Value) / lamportsPerSOL, nil
}

func (d *SOLDispatcher) Send(ctx context.Context, destination string, amount float64, _ string) (string, error) {
	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return "", Fatal(SOL, ReasonInvalidAddress, fmt.Errorf("invalid destination address %q: %w", destination, err))
	}

	lamports := uint64(math.Round(amount * lamportsPerSOL))

	d.mu.Lock()
	defer d.mu.Unlock()

	bh, err := d.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	if err != nil {
		return "", d.classify(fmt.Errorf("getLatestBlockhash failed: %w", err))
	}

	ins := system.NewTransferInstruction(lamports, d.sender, dest).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ins},
		bh.Value.Blockhash,
		solana.TransactionPayer(d.sender),
	)
	if err != nil {
		return "", Fatal(SOL, ReasonRejected, fmt.Errorf("failed to build transaction: %w", err))
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(d.sender) {
			return &d.key
		}
		return nil
	}); err != nil {
		return "", Fatal(SOL, ReasonRejected, fmt.Errorf("failed to sign transaction: %w", err))
	}

	sig, err := d.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: solanarpc.CommitmentFinalized,
	})
	if err != nil {
		return "", d.classify(err)
	}

	d.log.Debug("sol: transaction submitted", "to", destination, "lamports", lamports, "signature", sig)
	return sig.String(), nil
}

func (d *SOLDispatcher) classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "insufficient funds"):
		return Fatal(SOL, ReasonInsufficientFunds, err)
	case strings.Contains(msg, "blockhash not found"):
		// The blockhash went stale between fetch and submit; a retry picks up
		// a fresh one.
		return Retryable(SOL, ReasonNonceConflict, err)
	case strings.Contains(msg, "invalid param"):
		return Fatal(SOL, ReasonRejected, err)
	}
	return Retryable(SOL, ReasonNetwork, err)
}
