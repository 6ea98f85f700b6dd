package distribute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/birdlabs/airdrop/pkg/campaign"
	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/eligibility"
	"github.com/birdlabs/airdrop/pkg/ledger"
	"github.com/birdlabs/airdrop/pkg/metrics"
	"github.com/birdlabs/airdrop/pkg/notify"
	"github.com/birdlabs/airdrop/pkg/retry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	Ledger        *ledger.Ledger
	Eligibility   eligibility.Store
	TierContracts campaign.TierContractStore
	Dispatchers   map[chain.Chain]chain.Dispatcher
	Participants  notify.Notifier
	// Operator receives failure and summary reports; optional.
	Operator notify.Notifier
	Retry    retry.Config
	// DefaultContract is the token contract used when no (token, tier)
	// override names one.
	DefaultContract string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Eligibility == nil {
		return errors.New("eligibility store is required")
	}
	if cfg.TierContracts == nil {
		return errors.New("tier contract store is required")
	}
	if len(cfg.Dispatchers) == 0 {
		return errors.New("at least one dispatcher is required")
	}
	if cfg.Participants == nil {
		return errors.New("participant notifier is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.Retry.Retryable = chain.IsRetryable
	return nil
}

// Outcome is the result of one record's dispatch.
type Outcome struct {
	ParticipantID string        `json:"participant_id"`
	Chain         chain.Chain   `json:"chain"`
	Amount        float64       `json:"amount"`
	Status        ledger.Status `json:"status"`
	TxRef         string        `json:"tx_ref,omitempty"`
	Reason        chain.Reason  `json:"reason,omitempty"`
	// Unreconciled marks a transfer that went out on chain but whose ledger
	// update failed. The row still reads pending, so an operator must
	// reconcile it before the next run or a reset pays the participant twice.
	Unreconciled bool `json:"unreconciled,omitempty"`
}

// Report summarizes one distribution run.
type Report struct {
	Started          time.Time            `json:"started"`
	Finished         time.Time            `json:"finished"`
	Succeeded        int                  `json:"succeeded"`
	Failed           int                  `json:"failed"`
	Skipped          int                  `json:"skipped"`
	Unreconciled     int                  `json:"unreconciled,omitempty"`
	FailuresByReason map[chain.Reason]int `json:"failures_by_reason,omitempty"`
	Outcomes         []Outcome            `json:"outcomes"`
}

// Orchestrator drives pending ledger records through the chain dispatchers.
// Work is grouped by (chain, sender) so nonce allocation stays ordered within
// a group, while distinct groups run in parallel. A single record's failure
// never aborts the batch.
type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Run dispatches every pending record for the campaign and returns a per-record
// report. Cancelling ctx lets in-flight submissions finish but starts no new
// ones; untouched records stay pending for the next run.
func (o *Orchestrator) Run(ctx context.Context, cmp campaign.Campaign, tokenID int64) (*Report, error) {
	started := o.cfg.Clock.Now()
	defer func() {
		metrics.DistributionRunDuration.Observe(time.Since(started).Seconds())
	}()

	records, err := o.cfg.Ledger.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending records: %w", err)
	}
	o.log.Info("distribute: starting run",
		"campaign", cmp.ID, "token", tokenID, "pending", len(records))

	report := &Report{
		Started:          started,
		FailuresByReason: make(map[chain.Reason]int),
	}
	var mu sync.Mutex

	groups := make(map[string][]ledger.Record)
	for _, rec := range records {
		d, ok := o.cfg.Dispatchers[rec.Chain]
		if !ok {
			o.log.Warn("distribute: no dispatcher for chain, leaving pending",
				"participant", rec.ParticipantID, "chain", rec.Chain)
			report.Skipped++
			continue
		}
		key := string(rec.Chain) + "/" + d.Sender()
		groups[key] = append(groups[key], rec)
	}

	var g errgroup.Group
	for key, recs := range groups {
		g.Go(func() error {
			d := o.cfg.Dispatchers[recs[0].Chain]
			for _, rec := range recs {
				if ctx.Err() != nil {
					// Record stays pending for the next run.
					mu.Lock()
					report.Skipped++
					mu.Unlock()
					continue
				}
				outcome := o.dispatchOne(ctx, d, rec, tokenID)
				mu.Lock()
				report.Outcomes = append(report.Outcomes, outcome)
				switch {
				case outcome.Unreconciled:
					report.Unreconciled++
				case outcome.Status == ledger.StatusFailed:
					report.Failed++
					report.FailuresByReason[outcome.Reason]++
				case outcome.Status == ledger.StatusPending:
					// Run was cancelled before this record's submission went
					// out; it waits for the next run.
					report.Skipped++
				default:
					report.Succeeded++
				}
				mu.Unlock()
			}
			o.log.Debug("distribute: group drained", "group", key, "count", len(recs))
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = o.cfg.Clock.Now()
	o.log.Info("distribute: run finished",
		"campaign", cmp.ID, "succeeded", report.Succeeded, "failed", report.Failed,
		"skipped", report.Skipped, "unreconciled", report.Unreconciled)
	if o.cfg.Operator != nil {
		o.cfg.Operator.Notify(context.WithoutCancel(ctx), "",
			fmt.Sprintf("distribution run for campaign %d: %d succeeded, %d failed, %d skipped, %d unreconciled",
				cmp.ID, report.Succeeded, report.Failed, report.Skipped, report.Unreconciled))
	}
	return report, nil
}

func (o *Orchestrator) dispatchOne(ctx context.Context, d chain.Dispatcher, rec ledger.Record, tokenID int64) Outcome {
	outcome := Outcome{
		ParticipantID: rec.ParticipantID,
		Chain:         rec.Chain,
		Amount:        rec.Amount,
	}

	// A submission that has started is allowed to finish even when the run is
	// cancelled; Run honors cancellation between records. The detached
	// context also keeps the ledger write for a landed transfer from being
	// dropped.
	sendCtx := context.WithoutCancel(ctx)

	if rec.Amount <= 0 {
		o.failRecord(sendCtx, rec, chain.ReasonRejected, errors.New("non-positive amount"))
		outcome.Status = ledger.StatusFailed
		outcome.Reason = chain.ReasonRejected
		return outcome
	}

	contractRef := o.contractFor(sendCtx, rec.ParticipantID, tokenID)

	start := time.Now()
	var txRef string
	err := retry.Do(ctx, o.cfg.Retry, func() error {
		ref, sendErr := d.Send(sendCtx, rec.Wallet, rec.Amount, contractRef)
		if sendErr != nil {
			metrics.DispatchTotal.WithLabelValues(string(rec.Chain), "error").Inc()
			return sendErr
		}
		txRef = ref
		return nil
	})
	metrics.DispatchDuration.WithLabelValues(string(rec.Chain)).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			o.log.Info("distribute: run cancelled before submission, leaving record pending",
				"participant", rec.ParticipantID, "chain", rec.Chain)
			outcome.Status = ledger.StatusPending
			return outcome
		}
		reason := chain.FailureReason(err)
		o.log.Error("distribute: dispatch failed",
			"participant", rec.ParticipantID, "chain", rec.Chain, "amount", rec.Amount,
			"reason", reason, "error", err)
		o.failRecord(sendCtx, rec, reason, err)
		outcome.Status = ledger.StatusFailed
		outcome.Reason = reason
		return outcome
	}

	metrics.DispatchTotal.WithLabelValues(string(rec.Chain), "success").Inc()

	// The transfer is on chain now; losing the ledger write to a transient
	// store error would let the next run pay again.
	storeRetry := o.cfg.Retry
	storeRetry.Retryable = func(err error) bool {
		return !errors.Is(err, ledger.ErrConflict) && !errors.Is(err, ledger.ErrNotFound)
	}
	var status ledger.Status
	err = retry.Do(sendCtx, storeRetry, func() error {
		s, markErr := o.cfg.Ledger.MarkDispatched(sendCtx, rec.ParticipantID, txRef)
		if markErr != nil {
			return markErr
		}
		status = s
		return nil
	})
	if err != nil {
		o.log.Error("distribute: transfer submitted but ledger update failed",
			"participant", rec.ParticipantID, "tx", txRef, "error", err)
		if o.cfg.Operator != nil {
			o.cfg.Operator.Notify(sendCtx, rec.ParticipantID,
				fmt.Sprintf("transfer %s on %s submitted but the ledger update failed, reconcile before re-running: %v",
					txRef, rec.Chain, err))
		}
		outcome.Status = rec.Status
		outcome.TxRef = txRef
		outcome.Unreconciled = true
		return outcome
	}

	o.log.Info("distribute: transfer submitted",
		"participant", rec.ParticipantID, "chain", rec.Chain, "amount", rec.Amount, "tx", txRef, "status", status)
	o.cfg.Participants.Notify(sendCtx, rec.ParticipantID,
		fmt.Sprintf("Sent %g tokens to %s (tx: %s)", rec.Amount, rec.Wallet, txRef))

	outcome.Status = status
	outcome.TxRef = txRef
	return outcome
}

func (o *Orchestrator) failRecord(ctx context.Context, rec ledger.Record, reason chain.Reason, cause error) {
	if err := o.cfg.Ledger.MarkFailed(ctx, rec.ParticipantID, string(reason)); err != nil {
		o.log.Error("distribute: failed to mark record failed",
			"participant", rec.ParticipantID, "error", err)
	}
	o.cfg.Participants.Notify(ctx, rec.ParticipantID,
		fmt.Sprintf("Failed to send %g tokens to %s: %s", rec.Amount, rec.Wallet, reason))
	if o.cfg.Operator != nil {
		o.cfg.Operator.Notify(ctx, rec.ParticipantID,
			fmt.Sprintf("distribution failed on %s (%s): %v", rec.Chain, reason, cause))
	}
}

// contractFor resolves the token contract for the participant's tier, falling
// back to the campaign's default token contract.
func (o *Orchestrator) contractFor(ctx context.Context, participantID string, tokenID int64) string {
	el, err := o.cfg.Eligibility.Get(ctx, participantID)
	if err != nil {
		return o.cfg.DefaultContract
	}
	tc, ok, err := o.cfg.TierContracts.Get(ctx, tokenID, el.Tier)
	if err != nil || !ok || tc.ContractAddress == "" {
		return o.cfg.DefaultContract
	}
	return tc.ContractAddress
}
