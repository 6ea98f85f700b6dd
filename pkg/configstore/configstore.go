package configstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrNotFound is returned when a config key has no value.
var ErrNotFound = errors.New("configstore: key not found")

// Well-known config keys.
const (
	KeyMinTokenBalance   = "min_token_balance"
	KeyVestingPeriodDays = "vesting_period_days"
	KeyReferralBonus     = "referral_bonus"
	KeyTotalSupply       = "total_supply"
)

// Defaults applied when a key has never been set.
const (
	DefaultMinTokenBalance   = 100.0
	DefaultVestingPeriodDays = 0
	DefaultReferralBonus     = 15.0
	DefaultTotalSupply       = 1_000_000.0
)

// Store is a string key/value store for runtime business configuration.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Config wraps a Store with typed accessors for the engine's config keys.
// Unset keys resolve to package defaults.
type Config struct {
	store Store
}

func New(store Store) (*Config, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Config{store: store}, nil
}

func (c *Config) MinTokenBalance(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, KeyMinTokenBalance, DefaultMinTokenBalance)
}

func (c *Config) VestingPeriodDays(ctx context.Context) (int, error) {
	v, err := c.getFloat(ctx, KeyVestingPeriodDays, DefaultVestingPeriodDays)
	return int(v), err
}

func (c *Config) ReferralBonus(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, KeyReferralBonus, DefaultReferralBonus)
}

func (c *Config) TotalSupply(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, KeyTotalSupply, DefaultTotalSupply)
}

func (c *Config) Set(ctx context.Context, key, value string) error {
	return c.store.Set(ctx, key, value)
}

func (c *Config) getFloat(ctx context.Context, key string, fallback float64) (float64, error) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config key %s has non-numeric value %q: %w", key, raw, err)
	}
	return v, nil
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns a MemoryStore seeded with the given values.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
