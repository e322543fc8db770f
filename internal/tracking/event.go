// Package tracking records search analytics on a best-effort basis.
//
// Recording must never block, fail, or delay the request that produced the
// event; losing an event is acceptable, affecting a response is not.
package tracking

import "time"

// Event is one search interaction, write-once.
type Event struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	CacheHit    bool      `json:"cache_hit"`
	LatencyMS   int64     `json:"latency_ms"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
