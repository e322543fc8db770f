package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts analytics events by outcome.
	// Labels: result (ok, error, dropped)
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "searchgate",
			Subsystem: "tracking",
			Name:      "events_total",
			Help:      "Total number of analytics events by write outcome",
		},
		[]string{"result"},
	)
)
