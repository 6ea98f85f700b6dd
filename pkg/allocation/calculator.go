package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/birdlabs/airdrop/pkg/campaign"
	"github.com/birdlabs/airdrop/pkg/eligibility"
	"github.com/birdlabs/airdrop/pkg/ledger"
	"github.com/birdlabs/airdrop/pkg/metrics"
	"github.com/jonboulle/clockwork"
)

// VestingSource provides the configured vesting period.
type VestingSource interface {
	VestingPeriodDays(ctx context.Context) (int, error)
}

type Config struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	Ledger        *ledger.Ledger
	TierContracts campaign.TierContractStore
	Vesting       VestingSource
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.TierContracts == nil {
		return errors.New("tier contract store is required")
	}
	if cfg.Vesting == nil {
		return errors.New("vesting source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Result summarizes one allocation pass.
type Result struct {
	Created int
	// Skipped counts participants who already had a live ledger record.
	Skipped int
}

// Calculator turns an eligible set into pending ledger records. Allocation is
// replace-if-absent keyed by participant, so re-running a round never doubles
// a balance.
type Calculator struct {
	log *slog.Logger
	cfg Config
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{log: cfg.Logger, cfg: cfg}, nil
}

// Allocate computes per-participant amounts for the campaign budget. A fixed
// (token, tier) override wins when configured; everyone else splits the budget
// pro rata by tier weight. An empty eligible set or zero total weight yields
// no records.
func (c *Calculator) Allocate(ctx context.Context, cmp campaign.Campaign, tokenID int64, eligible []eligibility.Record) (Result, error) {
	eligible = verifiedOnly(eligible)
	if len(eligible) == 0 {
		return Result{}, nil
	}

	totalWeight := 0
	for _, rec := range eligible {
		totalWeight += rec.Tier
	}
	if totalWeight == 0 {
		return Result{}, nil
	}
	perWeight := cmp.TotalTokens / float64(totalWeight)

	vestingEnd, err := c.vestingEnd(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rec := range eligible {
		amount := perWeight * float64(rec.Tier)
		mode := "weighted"
		if tc, ok, err := c.cfg.TierContracts.Get(ctx, tokenID, rec.Tier); err != nil {
			return res, fmt.Errorf("failed to look up tier contract: %w", err)
		} else if ok {
			amount = tc.Amount
			mode = "fixed"
		}
		created, err := c.create(ctx, rec, amount, vestingEnd, mode)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// AllocateByTier allocates to one tier only: the fixed (token, tier) amount if
// configured, otherwise an equal split of the campaign budget among that
// tier's participants.
func (c *Calculator) AllocateByTier(ctx context.Context, cmp campaign.Campaign, tokenID int64, tier int, eligible []eligibility.Record) (Result, error) {
	filtered := make([]eligibility.Record, 0, len(eligible))
	for _, rec := range verifiedOnly(eligible) {
		if rec.Tier == tier {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) == 0 {
		return Result{}, nil
	}

	amount := cmp.TotalTokens / float64(len(filtered))
	mode := "equal"
	if tc, ok, err := c.cfg.TierContracts.Get(ctx, tokenID, tier); err != nil {
		return Result{}, fmt.Errorf("failed to look up tier contract: %w", err)
	} else if ok {
		amount = tc.Amount
		mode = "fixed"
	}

	vestingEnd, err := c.vestingEnd(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rec := range filtered {
		created, err := c.create(ctx, rec, amount, vestingEnd, mode)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// AllocateEqual splits the campaign budget equally across all eligible
// participants, ignoring tier weights and overrides.
func (c *Calculator) AllocateEqual(ctx context.Context, cmp campaign.Campaign, eligible []eligibility.Record) (Result, error) {
	eligible = verifiedOnly(eligible)
	if len(eligible) == 0 {
		return Result{}, nil
	}

	amount := cmp.TotalTokens / float64(len(eligible))
	vestingEnd, err := c.vestingEnd(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rec := range eligible {
		created, err := c.create(ctx, rec, amount, vestingEnd, "equal")
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

func (c *Calculator) create(ctx context.Context, rec eligibility.Record, amount float64, vestingEnd time.Time, mode string) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	created, err := c.cfg.Ledger.Allocate(ctx, ledger.Record{
		ParticipantID: rec.ParticipantID,
		Wallet:        rec.Wallet,
		Chain:         rec.Chain,
		Amount:        amount,
		VestingEnd:    vestingEnd,
	})
	if err != nil {
		return false, fmt.Errorf("failed to allocate for participant %s: %w", rec.ParticipantID, err)
	}
	if created {
		metrics.AllocationRecordsTotal.WithLabelValues(mode).Inc()
		c.log.Debug("allocation: record created",
			"participant", rec.ParticipantID, "chain", rec.Chain, "amount", amount, "mode", mode)
	}
	return created, nil
}

func (c *Calculator) vestingEnd(ctx context.Context) (time.Time, error) {
	days, err := c.cfg.Vesting.VestingPeriodDays(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read vesting period: %w", err)
	}
	if days <= 0 {
		return time.Time{}, nil
	}
	return c.cfg.Clock.Now().Add(time.Duration(days) * 24 * time.Hour), nil
}

// verifiedOnly drops unverified, taskless and tier-0 participants. Tier 0
// never receives a ledger record.
func verifiedOnly(eligible []eligibility.Record) []eligibility.Record {
	out := make([]eligibility.Record, 0, len(eligible))
	for _, rec := range eligible {
		if rec.Verified && rec.TasksCompleted && rec.Tier > 0 {
			out = append(out, rec)
		}
	}
	return out
}
