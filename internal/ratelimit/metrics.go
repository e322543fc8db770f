package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal counts admission decisions.
	// Labels: result (allowed, denied)
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of admission checks by decision",
		},
		[]string{"result"},
	)

	// storeFailures counts counter-store errors that caused fail-open admits.
	storeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "ratelimit",
			Name:      "store_failures_total",
			Help:      "Total number of counter store failures (request admitted fail-open)",
		},
	)
)
