package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSink holds writes until released, to saturate the pool.
type blockingSink struct {
	release chan struct{}
	writes  atomic.Int64
}

func (s *blockingSink) Write(_ context.Context, _ Event) error {
	<-s.release
	s.writes.Add(1)
	return nil
}

// panickingSink panics on every write.
type panickingSink struct{}

func (panickingSink) Write(context.Context, Event) error {
	panic("sink exploded")
}

// erroringSink fails every write.
type erroringSink struct {
	writes atomic.Int64
}

func (s *erroringSink) Write(context.Context, Event) error {
	s.writes.Add(1)
	return errors.New("warehouse unreachable")
}

func TestTracker_Track(t *testing.T) {
	t.Run("assigns an ID and timestamp", func(t *testing.T) {
		sink := NewMemorySink()
		tracker, err := NewTracker(Config{}, sink, nil)
		require.NoError(t, err)
		defer tracker.Close()

		id, err := tracker.Track(context.Background(), Event{
			OrgID:  "org-1",
			UserID: "user-1",
			Query:  "how to rotate credentials",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		events := sink.Events()
		require.Len(t, events, 1)
		assert.Equal(t, id, events[0].ID)
		assert.Equal(t, "org-1", events[0].OrgID)
		assert.False(t, events[0].Timestamp.IsZero())
	})

	t.Run("preserves a caller-assigned ID", func(t *testing.T) {
		sink := NewMemorySink()
		tracker, err := NewTracker(Config{}, sink, nil)
		require.NoError(t, err)
		defer tracker.Close()

		id, err := tracker.Track(context.Background(), Event{ID: "fixed-id", OrgID: "org-1"})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", id)
	})

	t.Run("surfaces sink errors", func(t *testing.T) {
		tracker, err := NewTracker(Config{}, &erroringSink{}, nil)
		require.NoError(t, err)
		defer tracker.Close()

		_, err = tracker.Track(context.Background(), Event{OrgID: "org-1"})
		assert.Error(t, err)
	})
}

func TestTracker_TrackAsync(t *testing.T) {
	t.Run("delivers events in the background", func(t *testing.T) {
		sink := NewMemorySink()
		// Capacity above the event count so the nonblocking pool drops nothing.
		tracker, err := NewTracker(Config{Workers: 16}, sink, nil)
		require.NoError(t, err)

		for i := 0; i < 10; i++ {
			tracker.TrackAsync(Event{OrgID: "org-1", ResultCount: i})
		}
		tracker.Close()

		events := sink.Events()
		assert.Len(t, events, 10)
		for _, ev := range events {
			assert.NotEmpty(t, ev.ID)
		}
	})

	t.Run("never blocks when the pool is saturated", func(t *testing.T) {
		sink := &blockingSink{release: make(chan struct{})}
		tracker, err := NewTracker(Config{Workers: 2, WriteTimeout: time.Second}, sink, nil)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 50; i++ {
				tracker.TrackAsync(Event{OrgID: "org-1"})
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("TrackAsync blocked on a saturated pool")
		}

		close(sink.release)
		tracker.Close()
	})

	t.Run("sink errors do not propagate", func(t *testing.T) {
		sink := &erroringSink{}
		tracker, err := NewTracker(Config{Workers: 2}, sink, nil)
		require.NoError(t, err)

		tracker.TrackAsync(Event{OrgID: "org-1"})
		tracker.Close()

		assert.Equal(t, int64(1), sink.writes.Load())
	})

	t.Run("sink panics are recovered", func(t *testing.T) {
		tracker, err := NewTracker(Config{Workers: 2}, panickingSink{}, nil)
		require.NoError(t, err)

		require.NotPanics(t, func() {
			tracker.TrackAsync(Event{OrgID: "org-1"})
			tracker.Close()
		})
	})

	t.Run("concurrent producers", func(t *testing.T) {
		sink := NewMemorySink()
		tracker, err := NewTracker(Config{Workers: 8}, sink, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					tracker.TrackAsync(Event{OrgID: "org-1"})
				}
			}()
		}
		wg.Wait()
		tracker.Close()

		// Drops are allowed under saturation; duplicates are not.
		events := sink.Events()
		assert.LessOrEqual(t, len(events), 100)
		seen := make(map[string]bool, len(events))
		for _, ev := range events {
			assert.False(t, seen[ev.ID], "event %s delivered twice", ev.ID)
			seen[ev.ID] = true
		}
	})
}

func TestNATSSink(t *testing.T) {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sink, err := NewNATSSink(nc)
	require.NoError(t, err)

	t.Run("publishes to the per-organization subject", func(t *testing.T) {
		ch := make(chan *nats.Msg, 1)
		sub, err := nc.ChanSubscribe("searchgate.analytics.search.org-1", ch)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		err = sink.Write(context.Background(), Event{
			ID:          "ev-1",
			OrgID:       "org-1",
			UserID:      "user-1",
			Query:       "incident runbook",
			ResultCount: 3,
			CacheHit:    true,
			LatencyMS:   12,
		})
		require.NoError(t, err)

		select {
		case msg := <-ch:
			var ev Event
			require.NoError(t, json.Unmarshal(msg.Data, &ev))
			assert.Equal(t, "ev-1", ev.ID)
			assert.Equal(t, "org-1", ev.OrgID)
			assert.True(t, ev.CacheHit)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for analytics event")
		}
	})

	t.Run("sanitizes the org subject token", func(t *testing.T) {
		ch := make(chan *nats.Msg, 1)
		sub, err := nc.ChanSubscribe("searchgate.analytics.search.org_1_eu", ch)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		err = sink.Write(context.Background(), Event{ID: "ev-2", OrgID: "org:1/eu"})
		require.NoError(t, err)

		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for analytics event")
		}
	})
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "unknown", subjectToken(""))
	assert.Equal(t, "org-1", subjectToken("org-1"))
	assert.Equal(t, "a_b_c", subjectToken("a.b c"))
}
