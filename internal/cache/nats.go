package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// cacheBucket is the JetStream KV bucket backing the shared layer.
const cacheBucket = "searchgate_cache"

// natsEnvelope wraps a cached payload with its freshness bounds. The bucket
// TTL is only a coarse backstop; precise expiry is checked on read.
type natsEnvelope struct {
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
	Payload  json.RawMessage `json:"payload"`
}

// NATSLayer is a shared cache tier backed by a JetStream key-value bucket.
type NATSLayer struct {
	kv nats.KeyValue
}

// NewNATSLayer binds to (or creates) the cache bucket. maxAge should be at
// least as large as the largest TTL the cache will use.
func NewNATSLayer(nc *nats.Conn, maxAge time.Duration) (*NATSLayer, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	kv, err := js.KeyValue(cacheBucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: cacheBucket,
			TTL:    maxAge,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("cache bucket %s: %w", cacheBucket, err)
	}

	return &NATSLayer{kv: kv}, nil
}

// Get implements Layer.
func (l *NATSLayer) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, err := l.kv.Get(sanitizeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var env natsEnvelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if !timeNow().Before(env.StoredAt.Add(env.TTL)) {
		return nil, false, nil
	}
	return env.Payload, true, nil
}

// Set implements Layer.
func (l *NATSLayer) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	env := natsEnvelope{
		StoredAt: timeNow(),
		TTL:      ttl,
		Payload:  json.RawMessage(data),
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if _, err := l.kv.Put(sanitizeKey(key), encoded); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Delete implements Layer.
func (l *NATSLayer) Delete(_ context.Context, key string) error {
	err := l.kv.Delete(sanitizeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

// sanitizeKey maps cache keys onto the NATS KV key alphabet. Fingerprints
// are hex already; this guards ad-hoc keys used in tests and tooling.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
