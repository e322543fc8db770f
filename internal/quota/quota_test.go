package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore always errors, to verify the manager surfaces ledger failures.
type brokenStore struct{}

func (brokenStore) Usage(context.Context, string) (int64, error) {
	return 0, errors.New("ledger unavailable")
}

func (brokenStore) Add(context.Context, string, int64, int64) (int64, bool, error) {
	return 0, false, errors.New("ledger unavailable")
}

func (brokenStore) Reset(context.Context, string) error {
	return errors.New("ledger unavailable")
}

func TestLimits_LimitFor(t *testing.T) {
	limits := Limits{
		Default:   100,
		Resources: map[string]int64{"search": 50},
		Overrides: map[string]int64{"org-big/search": 500},
	}

	assert.Equal(t, int64(500), limits.LimitFor("org-big", "search"))
	assert.Equal(t, int64(50), limits.LimitFor("org-small", "search"))
	assert.Equal(t, int64(100), limits.LimitFor("org-small", "export"))
}

func TestNewManager(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := NewManager(nil, Limits{Default: 10}, nil)
		assert.Error(t, err)
	})

	t.Run("requires limits", func(t *testing.T) {
		_, err := NewManager(NewMemoryStore(), Limits{}, nil)
		assert.Error(t, err)
	})
}

func TestManager_Check(t *testing.T) {
	t.Run("does not mutate the ledger", func(t *testing.T) {
		mgr, err := NewManager(NewMemoryStore(), Limits{Default: 10}, nil)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			snap, err := mgr.Check(context.Background(), "org-1", "search")
			require.NoError(t, err)
			assert.True(t, snap.Available)
			assert.Equal(t, int64(0), snap.Used)
			assert.Equal(t, int64(10), snap.Remaining)
		}
	})

	t.Run("reports exhaustion", func(t *testing.T) {
		mgr, err := NewManager(NewMemoryStore(), Limits{Default: 2}, nil)
		require.NoError(t, err)

		_, err = mgr.Consume(context.Background(), "org-1", "search", 2)
		require.NoError(t, err)

		snap, err := mgr.Check(context.Background(), "org-1", "search")
		require.NoError(t, err)
		assert.False(t, snap.Available)
		assert.Equal(t, int64(0), snap.Remaining)
	})

	t.Run("surfaces store errors", func(t *testing.T) {
		mgr, err := NewManager(brokenStore{}, Limits{Default: 10}, nil)
		require.NoError(t, err)

		_, err = mgr.Check(context.Background(), "org-1", "search")
		assert.Error(t, err)
	})
}

func TestManager_Consume(t *testing.T) {
	t.Run("consumes up to the limit", func(t *testing.T) {
		mgr, err := NewManager(NewMemoryStore(), Limits{Default: 3}, nil)
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			snap, err := mgr.Consume(context.Background(), "org-1", "search", 1)
			require.NoError(t, err)
			assert.Equal(t, int64(i), snap.Used)
		}

		snap, err := mgr.Consume(context.Background(), "org-1", "search", 1)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.Equal(t, int64(3), snap.Used, "refused consume must not mutate the ledger")
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		mgr, err := NewManager(NewMemoryStore(), Limits{Default: 10}, nil)
		require.NoError(t, err)

		_, err = mgr.Consume(context.Background(), "org-1", "search", 0)
		assert.Error(t, err)
		_, err = mgr.Consume(context.Background(), "org-1", "search", -5)
		assert.Error(t, err)
	})

	t.Run("organizations are isolated", func(t *testing.T) {
		mgr, err := NewManager(NewMemoryStore(), Limits{Default: 1}, nil)
		require.NoError(t, err)

		_, err = mgr.Consume(context.Background(), "org-1", "search", 1)
		require.NoError(t, err)
		_, err = mgr.Consume(context.Background(), "org-1", "search", 1)
		require.ErrorIs(t, err, ErrQuotaExceeded)

		snap, err := mgr.Consume(context.Background(), "org-2", "search", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Used)
	})

	t.Run("concurrent consumption never overshoots", func(t *testing.T) {
		const limit = 50
		const callers = 200

		mgr, err := NewManager(NewMemoryStore(), Limits{Default: limit}, nil)
		require.NoError(t, err)

		var granted atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := mgr.Consume(context.Background(), "org-1", "search", 1); err == nil {
					granted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int64(limit), granted.Load())

		snap, err := mgr.Check(context.Background(), "org-1", "search")
		require.NoError(t, err)
		assert.Equal(t, int64(limit), snap.Used)
	})

	t.Run("never fails open on store error", func(t *testing.T) {
		mgr, err := NewManager(brokenStore{}, Limits{Default: 10}, nil)
		require.NoError(t, err)

		_, err = mgr.Consume(context.Background(), "org-1", "search", 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrQuotaExceeded)
	})
}
