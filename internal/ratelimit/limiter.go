// Package ratelimit provides fixed-window admission control keyed by an
// arbitrary identifier (user, organization).
//
// The limiter only renders a decision; callers decide whether to reject.
// Counter state lives behind the CounterStore interface so a single process
// can use the in-memory store while a fleet shares a NATS JetStream bucket.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/logging"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Decision is the outcome of a single admission check.
type Decision struct {
	// Allowed reports whether the request fits in the current window.
	Allowed bool

	// Limit is the configured ceiling for the window.
	Limit int

	// Remaining is how many requests are left in the current window.
	Remaining int

	// RetryAfter is the time until the window rolls over. Zero when allowed.
	RetryAfter time.Duration

	// ResetAt is the instant the current window ends.
	ResetAt time.Time
}

// MostRestrictive returns the decision a caller should surface when several
// identifiers were checked: any denial wins, otherwise the fewest remaining.
func MostRestrictive(decisions ...Decision) Decision {
	if len(decisions) == 0 {
		return Decision{Allowed: true}
	}
	most := decisions[0]
	for _, d := range decisions[1:] {
		if !d.Allowed && most.Allowed {
			most = d
			continue
		}
		if d.Allowed == most.Allowed && d.Remaining < most.Remaining {
			most = d
		}
	}
	return most
}

// Limiter renders fixed-window admission decisions.
type Limiter struct {
	store  CounterStore
	logger *logging.Logger
}

// NewLimiter creates a limiter over the given counter store.
func NewLimiter(store CounterStore, logger *logging.Logger) *Limiter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Limiter{store: store, logger: logger.Named("ratelimit")}
}

// Check atomically counts the request against the identifier's current
// window and reports whether it fits under limit.
//
// Counting and comparison happen in one store operation, so two concurrent
// checks can never both claim the last slot.
//
// A store failure fails open: admission control degrades before it takes
// search down. The failure is logged and counted in metrics.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) Decision {
	now := timeNow()

	count, resetAt, err := l.store.Incr(ctx, identifier, window)
	if err != nil {
		storeFailures.Inc()
		l.logger.Warn(ctx, "counter store unavailable, admitting request",
			zap.String("identifier", identifier),
			zap.Error(err))
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - 1,
			ResetAt:   now.Add(window),
		}
	}

	d := Decision{
		Limit:   limit,
		ResetAt: resetAt,
	}
	if count <= int64(limit) {
		d.Allowed = true
		d.Remaining = limit - int(count)
	} else {
		d.Remaining = 0
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}

	if d.Allowed {
		checksTotal.WithLabelValues("allowed").Inc()
	} else {
		checksTotal.WithLabelValues("denied").Inc()
	}
	return d
}
