package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/birdlabs/airdrop/pkg/allocation"
	"github.com/birdlabs/airdrop/pkg/campaign"
	"github.com/birdlabs/airdrop/pkg/configstore"
	"github.com/birdlabs/airdrop/pkg/distribute"
	"github.com/birdlabs/airdrop/pkg/eligibility"
	"github.com/birdlabs/airdrop/pkg/ledger"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	Verifier      *eligibility.Verifier
	Eligibility   eligibility.Store
	Calculator    *allocation.Calculator
	Orchestrator  *distribute.Orchestrator
	Ledger        *ledger.Ledger
	Campaigns     campaign.Store
	TierContracts campaign.TierContractStore
	Config        *configstore.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Verifier == nil {
		return errors.New("verifier is required")
	}
	if cfg.Eligibility == nil {
		return errors.New("eligibility store is required")
	}
	if cfg.Calculator == nil {
		return errors.New("calculator is required")
	}
	if cfg.Orchestrator == nil {
		return errors.New("orchestrator is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Campaigns == nil {
		return errors.New("campaign store is required")
	}
	if cfg.TierContracts == nil {
		return errors.New("tier contract store is required")
	}
	if cfg.Config == nil {
		return errors.New("config store is required")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return nil
}
