package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// counterBucket is the JetStream KV bucket holding window counters.
	counterBucket = "searchgate_ratelimit"

	// casAttempts bounds the optimistic-concurrency retry loop.
	casAttempts = 8
)

// ErrTooMuchContention is returned when the CAS loop exhausts its attempts.
var ErrTooMuchContention = errors.New("counter store contention, giving up")

// natsWindow is the stored representation of one identifier's window.
type natsWindow struct {
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// NATSCounterStore shares window counters across instances through a
// JetStream key-value bucket.
//
// Atomicity comes from revision-checked updates: every increment re-reads
// the entry and writes with the observed revision, retrying on conflict.
type NATSCounterStore struct {
	kv nats.KeyValue
}

// NewNATSCounterStore binds to (or creates) the counter bucket.
//
// maxAge bounds how long an abandoned window entry survives; it should be
// comfortably larger than the largest configured window.
func NewNATSCounterStore(nc *nats.Conn, maxAge time.Duration) (*NATSCounterStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(counterBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: counterBucket,
			TTL:    maxAge,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("counter bucket %s: %w", counterBucket, err)
	}

	return &NATSCounterStore{kv: kv}, nil
}

// Incr implements CounterStore.
func (s *NATSCounterStore) Incr(ctx context.Context, identifier string, window time.Duration) (int64, time.Time, error) {
	key := sanitizeKey(identifier)

	for attempt := 0; attempt < casAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, time.Time{}, err
		}
		now := timeNow()

		entry, err := s.kv.Get(key)
		if errors.Is(err, nats.ErrKeyNotFound) {
			w := natsWindow{Count: 1, ResetAt: now.Truncate(window).Add(window)}
			data, merr := json.Marshal(w)
			if merr != nil {
				return 0, time.Time{}, merr
			}
			if _, cerr := s.kv.Create(key, data); cerr != nil {
				if errors.Is(cerr, nats.ErrKeyExists) {
					continue // lost the race, re-read
				}
				return 0, time.Time{}, fmt.Errorf("create counter: %w", cerr)
			}
			return w.Count, w.ResetAt, nil
		}
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("read counter: %w", err)
		}

		var w natsWindow
		if err := json.Unmarshal(entry.Value(), &w); err != nil {
			return 0, time.Time{}, fmt.Errorf("decode counter: %w", err)
		}

		if !now.Before(w.ResetAt) {
			// Window rolled over since the last write.
			w = natsWindow{Count: 1, ResetAt: now.Truncate(window).Add(window)}
		} else {
			w.Count++
		}

		data, err := json.Marshal(w)
		if err != nil {
			return 0, time.Time{}, err
		}
		if _, err := s.kv.Update(key, data, entry.Revision()); err != nil {
			continue // revision conflict, re-read
		}
		return w.Count, w.ResetAt, nil
	}

	return 0, time.Time{}, ErrTooMuchContention
}

// sanitizeKey maps arbitrary identifiers onto the NATS KV key alphabet.
func sanitizeKey(identifier string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, identifier)
}
