package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory Store used in tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ParticipantID]; ok {
		return false, nil
	}
	s.records[rec.ParticipantID] = rec
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, participantID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[participantID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, participantID)
	}
	return rec, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) CompareAndTransition(ctx context.Context, participantID string, from, to Status, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[participantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, participantID)
	}
	if rec.Status != from {
		return fmt.Errorf("%w: have %s, want %s", ErrConflict, rec.Status, from)
	}
	rec.Status = to
	if m.TxRef != nil {
		rec.TxRef = *m.TxRef
	}
	if m.FailReason != nil {
		rec.FailReason = *m.FailReason
	}
	s.records[participantID] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, participantID)
	return nil
}

// MemoryBalances is an in-memory Balances implementation.
type MemoryBalances struct {
	mu       sync.Mutex
	balances map[string]float64
}

func NewMemoryBalances() *MemoryBalances {
	return &MemoryBalances{balances: make(map[string]float64)}
}

func (b *MemoryBalances) Credit(ctx context.Context, participantID string, amount float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[participantID] += amount
	return nil
}

func (b *MemoryBalances) Balance(participantID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[participantID]
}
