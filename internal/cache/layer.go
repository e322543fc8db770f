package cache

import (
	"context"
	"sync"
	"time"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Layer is a shared cache tier holding opaque bytes with bounded freshness.
//
// Implementations must be safe for concurrent use. Get reports ok=false for
// missing or expired entries.
type Layer interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryLayer is an in-process Layer. It stands in for the shared tier in
// tests and single-instance deployments.
type MemoryLayer struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryLayer creates an empty memory layer.
func NewMemoryLayer() *MemoryLayer {
	return &MemoryLayer{entries: make(map[string]memoryEntry)}
}

// Get implements Layer.
func (l *MemoryLayer) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !timeNow().Before(entry.expiresAt) {
		delete(l.entries, key)
		return nil, false, nil
	}
	return entry.data, true, nil
}

// Set implements Layer.
func (l *MemoryLayer) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = memoryEntry{data: data, expiresAt: timeNow().Add(ttl)}
	return nil
}

// Delete implements Layer.
func (l *MemoryLayer) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

// Len reports the number of stored entries. Used by tests.
func (l *MemoryLayer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
