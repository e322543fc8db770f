package quota

import (
	"context"
	"sync"
)

// Store is the durable usage ledger.
//
// Add must be atomic per key: when concurrent calls race for the last units,
// exactly enough succeed to reach the limit and the rest report ok=false
// without mutating the entry.
type Store interface {
	// Usage returns the amount consumed for key. Missing keys read as zero.
	Usage(ctx context.Context, key string) (int64, error)

	// Add increments key by amount if used+amount <= limit.
	// It returns the resulting usage (unchanged on refusal) and whether the
	// increment was applied.
	Add(ctx context.Context, key string, amount, limit int64) (used int64, ok bool, err error)

	// Reset clears the entry for key, starting a fresh period.
	Reset(ctx context.Context, key string) error
}

// MemoryStore keeps the ledger in process memory. Suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	usage map[string]int64
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[string]int64)}
}

// Usage implements Store.
func (s *MemoryStore) Usage(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[key], nil
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, key string, amount, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.usage[key]
	if used+amount > limit {
		return used, false, nil
	}
	used += amount
	s.usage[key] = used
	return used, true, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usage, key)
	return nil
}
