package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts pipeline outcomes.
	// Labels: outcome (ok, invalid, unauthorized, rate_limited,
	// quota_exceeded, error)
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests by pipeline outcome",
		},
		[]string{"outcome"},
	)

	// latencySeconds tracks end-to-end pipeline latency for successful
	// requests, hits and misses alike.
	latencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "searchgate",
			Subsystem: "search",
			Name:      "latency_seconds",
			Help:      "End-to-end search pipeline latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
