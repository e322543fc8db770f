package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// CounterStore counts requests per identifier inside a fixed window.
//
// Implementations must make Incr atomic per identifier: the returned count
// reflects this call, and no two concurrent calls may observe the same count.
type CounterStore interface {
	// Incr adds one request to the identifier's current window and returns
	// the post-increment count together with the instant the window resets.
	Incr(ctx context.Context, identifier string, window time.Duration) (count int64, resetAt time.Time, err error)
}

const memoryStoreShards = 16

type windowCounter struct {
	count   int64
	resetAt time.Time
}

type counterShard struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// MemoryCounterStore keeps window counters in process memory.
//
// Counters are sharded to keep lock contention low under concurrent
// request handling. Expired windows are pruned lazily on access.
type MemoryCounterStore struct {
	shards [memoryStoreShards]*counterShard
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	s := &MemoryCounterStore{}
	for i := range s.shards {
		s.shards[i] = &counterShard{counters: make(map[string]*windowCounter)}
	}
	return s
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, identifier string, window time.Duration) (int64, time.Time, error) {
	now := timeNow()
	shard := s.shardFor(identifier)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	c, ok := shard.counters[identifier]
	if !ok || !now.Before(c.resetAt) {
		c = &windowCounter{resetAt: now.Truncate(window).Add(window)}
		shard.counters[identifier] = c
	}
	c.count++
	return c.count, c.resetAt, nil
}

// Len reports the number of live counters. Used by tests.
func (s *MemoryCounterStore) Len() int {
	n := 0
	now := timeNow()
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, c := range shard.counters {
			if now.Before(c.resetAt) {
				n++
			} else {
				delete(shard.counters, key)
			}
		}
		shard.mu.Unlock()
	}
	return n
}

func (s *MemoryCounterStore) shardFor(identifier string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return s.shards[h.Sum32()%memoryStoreShards]
}
