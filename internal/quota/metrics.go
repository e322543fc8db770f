package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// consumeTotal counts consumption attempts.
	// Labels: result (ok, exceeded)
	consumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "quota",
			Name:      "consume_total",
			Help:      "Total number of quota consumption attempts",
		},
		[]string{"result"},
	)
)
