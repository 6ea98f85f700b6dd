package campaign

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no matching campaign exists.
var ErrNotFound = errors.New("campaign: not found")

// Campaign is one airdrop campaign. The total token budget drives weighted
// allocation; deactivation is a soft delete.
type Campaign struct {
	ID          int64
	Name        string
	Start       time.Time
	End         time.Time
	TotalTokens float64
	Active      bool
}

// Store persists campaigns.
type Store interface {
	Create(ctx context.Context, c Campaign) (int64, error)
	// Get returns the campaign only if it is active; allocation never runs
	// against a deactivated campaign.
	Get(ctx context.Context, id int64) (Campaign, error)
	List(ctx context.Context) ([]Campaign, error)
	Deactivate(ctx context.Context, id int64) error
}

// TierContract fixes the payout and target contract for one (token, tier)
// pair, overriding weighted allocation when present.
type TierContract struct {
	TokenID         int64
	Tier            int
	Amount          float64
	ContractAddress string
}

// TierContractStore persists tier contract overrides.
type TierContractStore interface {
	Upsert(ctx context.Context, tc TierContract) error
	// Get returns the override for (tokenID, tier) and whether one exists.
	Get(ctx context.Context, tokenID int64, tier int) (TierContract, bool, error)
}
