package campaign

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu        sync.Mutex
	nextID    int64
	campaigns map[int64]Campaign
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, campaigns: make(map[int64]Campaign)}
}

func (s *MemoryStore) Create(ctx context.Context, c Campaign) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID
	s.nextID++
	s.campaigns[c.ID] = c
	return c.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || !c.Active {
		return Campaign{}, fmt.Errorf("%w: active campaign %d", ErrNotFound, id)
	}
	return c, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: campaign %d", ErrNotFound, id)
	}
	c.Active = false
	s.campaigns[id] = c
	return nil
}

// MemoryTierContractStore is a mutex-guarded in-memory TierContractStore.
type MemoryTierContractStore struct {
	mu        sync.Mutex
	contracts map[[2]int64]TierContract
}

func NewMemoryTierContractStore() *MemoryTierContractStore {
	return &MemoryTierContractStore{contracts: make(map[[2]int64]TierContract)}
}

func (s *MemoryTierContractStore) Upsert(ctx context.Context, tc TierContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[[2]int64{tc.TokenID, int64(tc.Tier)}] = tc
	return nil
}

func (s *MemoryTierContractStore) Get(ctx context.Context, tokenID int64, tier int) (TierContract, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.contracts[[2]int64{tokenID, int64(tier)}]
	return tc, ok, nil
}
