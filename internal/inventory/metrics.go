package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stateTransitions counts image state changes by source and target state
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "images",
		Name:      "state_transitions_total",
		Help:      "Total image state transitions by previous and new state",
	}, []string{"from", "to"})

	// upgradeComputations counts upgrade computations by result
	upgradeComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory",
		Subsystem: "upgrades",
		Name:      "computations_total",
		Help:      "Total available-upgrade computations by result",
	}, []string{"result"})

	// upgradesFound tracks the number of upgrades offered per installed image
	upgradesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "inventory",
		Subsystem: "upgrades",
		Name:      "available",
		Help:      "Number of available upgrades per installed image",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// statisticsDuration tracks the latency of statistics aggregations
	statisticsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inventory",
		Subsystem: "statistics",
		Name:      "duration_seconds",
		Help:      "Deployment statistics aggregation duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"scope"})
)
