package vectorstore

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/fernwehlabs/searchgate/internal/search"
)

// Engine adapts a Store to the pipeline's search.Engine contract.
//
// A token-bucket limiter smooths the call rate into the embedding backend,
// which is the scarce resource behind every query. This is load shaping for
// a shared dependency, distinct from the per-caller admission control the
// pipeline already performed.
type Engine struct {
	store   Store
	limiter *rate.Limiter
}

// EngineConfig holds engine tuning knobs.
type EngineConfig struct {
	// EmbedRate is the sustained embedding calls per second.
	EmbedRate float64 `koanf:"embed_rate"`

	// EmbedBurst is the short-term burst allowance.
	EmbedBurst int `koanf:"embed_burst"`
}

// ApplyDefaults sets default values for unset fields.
func (c *EngineConfig) ApplyDefaults() {
	if c.EmbedRate == 0 {
		c.EmbedRate = 50
	}
	if c.EmbedBurst == 0 {
		c.EmbedBurst = 100
	}
}

// NewEngine creates an engine over the given store.
func NewEngine(cfg EngineConfig, store Store) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg.ApplyDefaults()

	return &Engine{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.EmbedRate), cfg.EmbedBurst),
	}, nil
}

// Search implements search.Engine.
func (e *Engine) Search(ctx context.Context, orgID string, req search.Request) ([]search.Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	matches, err := e.store.Search(ctx, orgID, req.Query, req.Limit, float32(req.Threshold), req.Filters)
	if err != nil {
		return nil, err
	}

	results := make([]search.Result, len(matches))
	for i, m := range matches {
		results[i] = search.Result{
			ID:       m.ID,
			Content:  m.Content,
			Score:    m.Score,
			Metadata: m.Metadata,
		}
	}
	return results, nil
}
