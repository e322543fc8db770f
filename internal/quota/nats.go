package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
)

const (
	// ledgerBucket is the JetStream KV bucket holding usage counters.
	ledgerBucket = "searchgate_quota"

	casAttempts = 8
)

// ErrTooMuchContention is returned when the CAS loop exhausts its attempts.
var ErrTooMuchContention = errors.New("ledger contention, giving up")

// NATSStore shares the usage ledger across instances through a JetStream
// key-value bucket. Entries are decimal counters; atomicity comes from
// revision-checked updates.
//
// Period resets are driven externally (a billing job calls Reset on the
// period boundary); the bucket itself has no TTL.
type NATSStore struct {
	kv nats.KeyValue
}

// NewNATSStore binds to (or creates) the ledger bucket.
func NewNATSStore(nc *nats.Conn) (*NATSStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(ledgerBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: ledgerBucket})
	}
	if err != nil {
		return nil, fmt.Errorf("ledger bucket %s: %w", ledgerBucket, err)
	}

	return &NATSStore{kv: kv}, nil
}

// Usage implements Store.
func (s *NATSStore) Usage(_ context.Context, key string) (int64, error) {
	entry, err := s.kv.Get(sanitizeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}
	return parseCounter(entry.Value())
}

// Add implements Store.
func (s *NATSStore) Add(ctx context.Context, key string, amount, limit int64) (int64, bool, error) {
	k := sanitizeKey(key)

	for attempt := 0; attempt < casAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		entry, err := s.kv.Get(k)
		if errors.Is(err, nats.ErrKeyNotFound) {
			if amount > limit {
				return 0, false, nil
			}
			if _, cerr := s.kv.Create(k, formatCounter(amount)); cerr != nil {
				if errors.Is(cerr, nats.ErrKeyExists) {
					continue // lost the race, re-read
				}
				return 0, false, fmt.Errorf("create ledger entry: %w", cerr)
			}
			return amount, true, nil
		}
		if err != nil {
			return 0, false, fmt.Errorf("read ledger: %w", err)
		}

		used, err := parseCounter(entry.Value())
		if err != nil {
			return 0, false, err
		}
		if used+amount > limit {
			return used, false, nil
		}
		if _, err := s.kv.Update(k, formatCounter(used+amount), entry.Revision()); err != nil {
			continue // revision conflict, re-read
		}
		return used + amount, true, nil
	}

	return 0, false, ErrTooMuchContention
}

// Reset implements Store.
func (s *NATSStore) Reset(_ context.Context, key string) error {
	err := s.kv.Delete(sanitizeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func formatCounter(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func parseCounter(data []byte) (int64, error) {
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt ledger entry %q: %w", data, err)
	}
	return v, nil
}

// sanitizeKey maps ledger keys onto the NATS KV key alphabet.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.' || r == '/':
			return r
		default:
			return '_'
		}
	}, key)
}
