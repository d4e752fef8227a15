package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState exposes the current state (0=closed, 1=open, 2=half-open).
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// breakerTrips counts transitions into the open state.
	breakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_circuit_breaker_trips_total",
		Help: "Total number of times the circuit breaker opened",
	})

	// breakerRejections counts requests failed fast without a network attempt.
	breakerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_circuit_breaker_rejections_total",
		Help: "Total number of requests rejected while the circuit was open",
	})
)
