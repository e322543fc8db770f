package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts lookups by the layer that answered.
	// Labels: layer (fast, shared, none)
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Total number of cache lookups by answering layer",
		},
		[]string{"layer"},
	)

	// layerFailures counts absorbed shared-layer errors.
	// Labels: op (get, set, delete, encode, decode)
	layerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "cache",
			Name:      "layer_failures_total",
			Help:      "Total number of shared layer failures absorbed by fallback",
		},
		[]string{"op"},
	)
)
