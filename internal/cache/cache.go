// Package cache provides a generic get-or-compute cache with a fast
// in-process layer and a slower shared layer.
//
// The cache is an optimization, never a correctness dependency: any layer
// failure degrades to invoking the compute function directly. Errors from
// compute are returned to the caller and are never cached.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fernwehlabs/searchgate/internal/logging"
)

var cacheTracer = otel.Tracer("searchgate.cache")

// Layer names reported in Outcome and metrics.
const (
	LayerFast   = "fast"
	LayerShared = "shared"
	LayerNone   = "none"
)

// ComputeFunc produces the value for a key on a full miss.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Outcome describes how a Get was satisfied.
type Outcome struct {
	// Hit reports whether any cache layer satisfied the request.
	Hit bool

	// Layer is the layer that answered: "fast", "shared", or "none".
	Layer string
}

// Config holds cache tuning knobs.
type Config struct {
	// FastMaxEntries bounds the in-process layer.
	FastMaxEntries int `koanf:"fast_max_entries"`

	// TTL bounds entry freshness in both layers.
	TTL time.Duration `koanf:"ttl"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.FastMaxEntries == 0 {
		c.FastMaxEntries = 4096
	}
	if c.TTL == 0 {
		c.TTL = 5 * time.Minute
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.FastMaxEntries < 0 {
		return fmt.Errorf("fast_max_entries must be >= 0")
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be >= 0")
	}
	return nil
}

// MultiLayer is a two-tier get-or-compute cache.
//
// Lookup order: fast layer, shared layer (with fast backfill), compute.
// Concurrent misses for the identical key collapse into a single compute
// invocation; all waiters share its result.
type MultiLayer[T any] struct {
	fast   *expirable.LRU[string, T]
	shared Layer
	ttl    time.Duration
	group  singleflight.Group
	logger *logging.Logger
}

// NewMultiLayer creates a cache. shared may be nil for a purely in-process
// deployment.
func NewMultiLayer[T any](cfg Config, shared Layer, logger *logging.Logger) (*MultiLayer[T], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &MultiLayer[T]{
		fast:   expirable.NewLRU[string, T](cfg.FastMaxEntries, nil, cfg.TTL),
		shared: shared,
		ttl:    cfg.TTL,
		logger: logger.Named("cache"),
	}, nil
}

// Get returns the cached value for key or computes and stores it.
//
// Layer errors are absorbed: the caller sees either a value or the compute
// function's own error, never a cache failure. A value is stored only after
// compute fully succeeds, so partially-constructed entries are impossible.
func (c *MultiLayer[T]) Get(ctx context.Context, key string, compute ComputeFunc[T]) (T, Outcome, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get")
	defer span.End()

	if value, ok := c.fast.Get(key); ok {
		span.SetAttributes(attribute.String("cache.layer", LayerFast))
		requestsTotal.WithLabelValues(LayerFast).Inc()
		return value, Outcome{Hit: true, Layer: LayerFast}, nil
	}

	if value, ok := c.sharedGet(ctx, key); ok {
		c.fast.Add(key, value)
		span.SetAttributes(attribute.String("cache.layer", LayerShared))
		requestsTotal.WithLabelValues(LayerShared).Inc()
		return value, Outcome{Hit: true, Layer: LayerShared}, nil
	}

	span.SetAttributes(attribute.String("cache.layer", LayerNone))
	requestsTotal.WithLabelValues(LayerNone).Inc()

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, Outcome{Layer: LayerNone}, err
	}

	return result.(T), Outcome{Layer: LayerNone}, nil
}

// Invalidate drops key from both layers.
func (c *MultiLayer[T]) Invalidate(ctx context.Context, key string) {
	c.fast.Remove(key)
	if c.shared == nil {
		return
	}
	if err := c.shared.Delete(ctx, key); err != nil {
		layerFailures.WithLabelValues("delete").Inc()
		c.logger.Warn(ctx, "shared layer delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *MultiLayer[T]) sharedGet(ctx context.Context, key string) (T, bool) {
	var zero T
	if c.shared == nil {
		return zero, false
	}

	data, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		layerFailures.WithLabelValues("get").Inc()
		c.logger.Warn(ctx, "shared layer read failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		layerFailures.WithLabelValues("decode").Inc()
		c.logger.Warn(ctx, "shared layer entry corrupt, treating as miss",
			zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return value, true
}

// store writes a freshly computed value to both layers.
func (c *MultiLayer[T]) store(ctx context.Context, key string, value T) {
	c.fast.Add(key, value)

	if c.shared == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		layerFailures.WithLabelValues("encode").Inc()
		c.logger.Warn(ctx, "encoding cache entry failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.shared.Set(ctx, key, data, c.ttl); err != nil {
		layerFailures.WithLabelValues("set").Inc()
		c.logger.Warn(ctx, "shared layer write failed", zap.String("key", key), zap.Error(err))
	}
}
