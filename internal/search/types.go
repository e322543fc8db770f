// Package search contains the admission and caching pipeline that stands
// between an inbound semantic-search request and the expensive similarity
// query that answers it.
package search

import (
	"github.com/fernwehlabs/searchgate/internal/quota"
	"github.com/fernwehlabs/searchgate/internal/ratelimit"
)

// Request is one inbound search call, after transport decoding and before
// validation. Filters are exact-match metadata constraints.
type Request struct {
	Query     string            `json:"query"`
	Limit     int               `json:"limit"`
	Threshold float64           `json:"threshold"`
	Filters   map[string]string `json:"filters"`
}

// Result is a single ranked document. The pipeline treats it as opaque:
// it is produced by the engine, cached, and returned, never inspected.
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response is the assembled answer for one request.
type Response struct {
	Results   []Result          `json:"results"`
	CacheHit  bool              `json:"cache_hit"`
	LatencyMS int64             `json:"latency_ms"`
	Quota     quota.Snapshot    `json:"quota"`
	RateLimit ratelimit.Decision `json:"-"`
}
