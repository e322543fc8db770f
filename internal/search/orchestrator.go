package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fernwehlabs/searchgate/internal/cache"
	"github.com/fernwehlabs/searchgate/internal/identity"
	"github.com/fernwehlabs/searchgate/internal/logging"
	"github.com/fernwehlabs/searchgate/internal/quota"
	"github.com/fernwehlabs/searchgate/internal/ratelimit"
	"github.com/fernwehlabs/searchgate/internal/tracking"
)

var searchTracer = otel.Tracer("searchgate.search")

// Config holds pipeline tuning knobs.
type Config struct {
	// UserLimit / UserWindow bound requests per user.
	UserLimit  int           `koanf:"user_limit"`
	UserWindow time.Duration `koanf:"user_window"`

	// OrgLimit / OrgWindow bound requests per organization.
	OrgLimit  int           `koanf:"org_limit"`
	OrgWindow time.Duration `koanf:"org_window"`

	// ComputeTimeout bounds one engine invocation.
	ComputeTimeout time.Duration `koanf:"compute_timeout"`

	// Resource is the quota resource name search consumes.
	Resource string `koanf:"resource"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.UserLimit == 0 {
		c.UserLimit = 100
	}
	if c.UserWindow == 0 {
		c.UserWindow = time.Minute
	}
	if c.OrgLimit == 0 {
		c.OrgLimit = 1000
	}
	if c.OrgWindow == 0 {
		c.OrgWindow = time.Minute
	}
	if c.ComputeTimeout == 0 {
		c.ComputeTimeout = 10 * time.Second
	}
	if c.Resource == "" {
		c.Resource = "search"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.UserLimit < 1 || c.OrgLimit < 1 {
		return fmt.Errorf("rate limits must be >= 1")
	}
	if c.UserWindow <= 0 || c.OrgWindow <= 0 {
		return fmt.Errorf("rate limit windows must be > 0")
	}
	if c.ComputeTimeout <= 0 {
		return fmt.Errorf("compute_timeout must be > 0")
	}
	return nil
}

// Orchestrator sequences one search request through admission, caching,
// accounting, and tracking. It owns no cross-request state; it only calls
// through the component contracts, in a fixed order that is itself a
// correctness property (quota is never consumed before admission, the
// engine is never reached past a rejection).
type Orchestrator struct {
	config  Config
	limiter *ratelimit.Limiter
	quotas  *quota.Manager
	cache   *cache.MultiLayer[[]Result]
	tracker *tracking.Tracker
	engine  Engine
	logger  *logging.Logger
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(
	cfg Config,
	limiter *ratelimit.Limiter,
	quotas *quota.Manager,
	resultCache *cache.MultiLayer[[]Result],
	tracker *tracking.Tracker,
	engine Engine,
	logger *logging.Logger,
) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if limiter == nil || quotas == nil || resultCache == nil || tracker == nil || engine == nil {
		return nil, fmt.Errorf("all pipeline components are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Orchestrator{
		config:  cfg,
		limiter: limiter,
		quotas:  quotas,
		cache:   resultCache,
		tracker: tracker,
		engine:  engine,
		logger:  logger.Named("search"),
	}, nil
}

// Search runs the pipeline for one request.
//
// Stage order: identity -> validation -> rate limiting (user and org) ->
// quota check -> cache lookup / compute -> quota consume -> tracking.
// Rejections short-circuit: a rate-limited request never touches quota or
// cache; a quota-exhausted request never reaches the engine.
//
// Billing policy: quota is consumed on every successful answer, cache hit
// or miss. A hit is a delivered search result; the cache lowers our cost,
// not the caller's bill.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	ctx, span := searchTracer.Start(ctx, "search.Search")
	defer span.End()

	id, err := identity.FromContext(ctx)
	if err != nil {
		requestsTotal.WithLabelValues("unauthorized").Inc()
		return nil, identity.ErrUnauthenticated
	}
	span.SetAttributes(attribute.String("org.id", id.OrgID))

	req.Normalize()
	if err := req.Validate(); err != nil {
		requestsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	userDecision := o.limiter.Check(ctx, "user."+id.UserID, o.config.UserLimit, o.config.UserWindow)
	orgDecision := o.limiter.Check(ctx, "org."+id.OrgID, o.config.OrgLimit, o.config.OrgWindow)
	decision := ratelimit.MostRestrictive(userDecision, orgDecision)
	if !decision.Allowed {
		requestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, &RateLimitError{Decision: decision}
	}

	snap, err := o.quotas.Check(ctx, id.OrgID, o.config.Resource)
	if err != nil {
		return nil, o.fail(ctx, span, start, id, req, err)
	}
	if !snap.Available {
		requestsTotal.WithLabelValues("quota_exceeded").Inc()
		return nil, &QuotaExceededError{Snapshot: snap}
	}

	key := Fingerprint(id.OrgID, req)
	results, outcome, err := o.cache.Get(ctx, key, func(ctx context.Context) ([]Result, error) {
		cctx, cancel := context.WithTimeout(ctx, o.config.ComputeTimeout)
		defer cancel()
		return o.engine.Search(cctx, id.OrgID, req)
	})
	if err != nil {
		return nil, o.fail(ctx, span, start, id, req, err)
	}

	snap, err = o.quotas.Consume(ctx, id.OrgID, o.config.Resource, 1)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			// Lost the race against a concurrent request that passed the
			// same check. Checking reserves nothing; this is the clear
			// quota-exceeded outcome, not a rate limit.
			requestsTotal.WithLabelValues("quota_exceeded").Inc()
			return nil, &QuotaExceededError{Snapshot: snap}
		}
		return nil, o.fail(ctx, span, start, id, req, err)
	}

	latency := time.Since(start)
	o.tracker.TrackAsync(tracking.Event{
		OrgID:       id.OrgID,
		UserID:      id.UserID,
		Query:       req.Query,
		ResultCount: len(results),
		CacheHit:    outcome.Hit,
		LatencyMS:   latency.Milliseconds(),
	})

	requestsTotal.WithLabelValues("ok").Inc()
	latencySeconds.Observe(latency.Seconds())
	span.SetAttributes(
		attribute.Bool("cache.hit", outcome.Hit),
		attribute.Int("results.count", len(results)),
	)

	if results == nil {
		results = []Result{}
	}
	return &Response{
		Results:   results,
		CacheHit:  outcome.Hit,
		LatencyMS: latency.Milliseconds(),
		Quota:     snap,
		RateLimit: decision,
	}, nil
}

// fail wraps an unexpected engine or collaborator failure, records it, and
// fires best-effort tracking of the failed attempt.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, start time.Time, id *identity.Identity, req Request, err error) error {
	requestsTotal.WithLabelValues("error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "pipeline failure")
	o.logger.Error(ctx, "search pipeline failure",
		zap.String("org_id", id.OrgID),
		zap.Error(err))

	o.tracker.TrackAsync(tracking.Event{
		OrgID:       id.OrgID,
		UserID:      id.UserID,
		Query:       req.Query,
		ResultCount: 0,
		CacheHit:    false,
		LatencyMS:   time.Since(start).Milliseconds(),
		Error:       err.Error(),
	})

	return &ComputeError{Err: err}
}
