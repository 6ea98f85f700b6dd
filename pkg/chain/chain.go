package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Chain identifies one of the supported networks.
type Chain string

const (
	ETH Chain = "ETH"
	BSC Chain = "BSC"
	SOL Chain = "SOL"
	XRP Chain = "XRP"
)

// Parse normalizes a chain identifier.
func Parse(s string) (Chain, error) {
	switch Chain(strings.ToUpper(strings.TrimSpace(s))) {
	case ETH:
		return ETH, nil
	case BSC:
		return BSC, nil
	case SOL:
		return SOL, nil
	case XRP:
		return XRP, nil
	}
	return "", fmt.Errorf("unknown chain %q", s)
}

// Reason is the human-readable failure category surfaced to participants and
// aggregated in operator reports. Raw RPC errors stay wrapped underneath.
type Reason string

const (
	ReasonNetwork           Reason = "network"
	ReasonNonceConflict     Reason = "nonce_conflict"
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonInvalidAddress    Reason = "invalid_address"
	ReasonContractRevert    Reason = "contract_revert"
	ReasonRejected          Reason = "rejected"
)

// DispatchError classifies a failed submission as retryable or fatal.
type DispatchError struct {
	Chain     Chain
	Reason    Reason
	Retryable bool
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s dispatch failed (%s): %v", e.Chain, e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Retryable wraps err as a transient dispatch failure.
func Retryable(c Chain, reason Reason, err error) error {
	return &DispatchError{Chain: c, Reason: reason, Retryable: true, Err: err}
}

// Fatal wraps err as a permanent dispatch failure.
func Fatal(c Chain, reason Reason, err error) error {
	return &DispatchError{Chain: c, Reason: reason, Retryable: false, Err: err}
}

// IsRetryable reports whether err is a dispatch error worth retrying.
// Unclassified errors are treated as fatal.
func IsRetryable(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// FailureReason extracts the failure category from err, defaulting to
// ReasonRejected for unclassified errors.
func FailureReason(err error) Reason {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ReasonRejected
}

// Dispatcher constructs, signs and submits one transfer on its chain.
//
// Implementations must serialize nonce/sequence allocation and submission per
// sending account: two concurrent Send calls on the same dispatcher must never
// observe the same nonce.
type Dispatcher interface {
	Chain() Chain
	// Sender returns the sending account identifier used for work grouping.
	Sender() string
	// Send transfers amount (in whole token units) to destination and returns
	// the transaction reference. contractRef selects a token contract where
	// the chain distinguishes native and contract transfers; it is ignored
	// otherwise. Errors are *DispatchError classified Retryable or Fatal.
	Send(ctx context.Context, destination string, amount float64, contractRef string) (string, error)
}

// BalanceReader is the read-only balance interface used by eligibility checks.
type BalanceReader interface {
	// Balance returns the wallet balance in whole units of the chain's
	// eligibility metric.
	Balance(ctx context.Context, wallet string) (float64, error)
}
