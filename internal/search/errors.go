package search

import (
	"fmt"
	"time"

	"github.com/fernwehlabs/searchgate/internal/quota"
	"github.com/fernwehlabs/searchgate/internal/ratelimit"
)

// RateLimitError is the 429 outcome. It carries everything a client needs
// to implement backoff without guessing.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.Decision.RetryAfter.Round(time.Second))
}

// QuotaExceededError is the 402 outcome, distinct from rate limiting: the
// window will not help, the organization is out of metered capacity.
type QuotaExceededError struct {
	Snapshot quota.Snapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d used", e.Snapshot.Used, e.Snapshot.Limit)
}

// ComputeError is the 500 outcome: the engine or a collaborator store
// failed unexpectedly. Nothing is cached; quota already consumed is not
// rolled back (at-least-once billing, reconciled externally).
type ComputeError struct {
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("search computation failed: %v", e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
