package eligibility

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/birdlabs/airdrop/pkg/chain"
	"github.com/birdlabs/airdrop/pkg/metrics"
)

const (
	// MinTier and MaxTier bound the reward tiers; every chain's step function
	// clamps into this range.
	MinTier = 1
	MaxTier = 3
)

// DefaultSteps maps each chain to the balance step that advances one tier, in
// whole units of the chain's eligibility metric.
func DefaultSteps() map[chain.Chain]float64 {
	return map[chain.Chain]float64{
		chain.ETH: 100,
		chain.BSC: 100,
		chain.SOL: 50,
		chain.XRP: 10,
	}
}

// ConfigSource provides the runtime eligibility thresholds.
type ConfigSource interface {
	MinTokenBalance(ctx context.Context) (float64, error)
}

type EvaluatorConfig struct {
	Logger  *slog.Logger
	Readers map[chain.Chain]chain.BalanceReader
	Steps   map[chain.Chain]float64
	Config  ConfigSource
}

func (cfg *EvaluatorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Readers) == 0 {
		return errors.New("at least one balance reader is required")
	}
	if cfg.Config == nil {
		return errors.New("config source is required")
	}
	if cfg.Steps == nil {
		cfg.Steps = DefaultSteps()
	}
	return nil
}

// Evaluator derives reward tiers from on-chain balances. It is side-effect
// free and safe for concurrent use; query failures degrade to tier 0 rather
// than propagating, so a flaky RPC endpoint only costs a participant this
// round.
type Evaluator struct {
	log *slog.Logger
	cfg EvaluatorConfig
}

func NewEvaluator(cfg EvaluatorConfig) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{log: cfg.Logger, cfg: cfg}, nil
}

// Evaluate returns the wallet's reward tier and observed balance. Tier 0 means
// not eligible. The tier is the chain's step function clamped to [1,3]; the
// configured minimum balance is a hard gate applied after the step function.
func (e *Evaluator) Evaluate(ctx context.Context, wallet string, c chain.Chain) (int, float64) {
	reader, ok := e.cfg.Readers[c]
	if !ok {
		e.log.Warn("eligibility: no balance reader for chain", "chain", c)
		metrics.EligibilityChecksTotal.WithLabelValues(string(c), "error").Inc()
		return 0, 0
	}

	balance, err := reader.Balance(ctx, wallet)
	if err != nil {
		e.log.Warn("eligibility: balance query failed", "chain", c, "wallet", wallet, "error", err)
		metrics.EligibilityChecksTotal.WithLabelValues(string(c), "error").Inc()
		return 0, 0
	}

	step := e.cfg.Steps[c]
	if step <= 0 {
		e.log.Warn("eligibility: no tier step configured for chain", "chain", c)
		metrics.EligibilityChecksTotal.WithLabelValues(string(c), "error").Inc()
		return 0, 0
	}
	tier := int(math.Floor(balance / step))
	if tier < MinTier {
		tier = MinTier
	}
	if tier > MaxTier {
		tier = MaxTier
	}

	minBalance, err := e.cfg.Config.MinTokenBalance(ctx)
	if err != nil {
		e.log.Warn("eligibility: failed to read min balance threshold", "error", err)
		metrics.EligibilityChecksTotal.WithLabelValues(string(c), "error").Inc()
		return 0, 0
	}
	if balance < minBalance {
		metrics.EligibilityChecksTotal.WithLabelValues(string(c), "ineligible").Inc()
		return 0, balance
	}

	metrics.EligibilityChecksTotal.WithLabelValues(string(c), "eligible").Inc()
	return tier, balance
}
