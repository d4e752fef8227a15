// Package metrics provides the centralized Prometheus metrics registry for
// the gateway client. All metrics are defined in their respective packages
// (transport, cache, breaker, gateway) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the gateway client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Upstream Metrics (pkg/transport):
//   - gateway_upstream_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - gateway_upstream_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - gateway_upstream_errors_total{class} (Counter): Errors by class (timeout, connection, server, client)
//   - gateway_upstream_retries_total{error_class} (Counter): Retry attempts by error class
//   - gateway_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - gateway_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - gateway_cache_hits_total{tier} (Counter): Cache hits by tier (fast, default, stale)
//   - gateway_cache_misses_total (Counter): Lookups that missed every tier
//   - gateway_cache_written_bytes_total (Counter): Bytes written to the cache
//   - gateway_cache_errors_total{operation} (Counter): Cache operation errors
//
// Circuit Breaker Metrics (pkg/breaker):
//   - gateway_circuit_breaker_state (Gauge): Current state (0=closed, 1=open, 2=half-open)
//   - gateway_circuit_breaker_trips_total (Counter): Transitions into the open state
//   - gateway_circuit_breaker_rejections_total (Counter): Requests rejected while open
//
// Fetch Metrics (pkg/gateway):
//   - gateway_fetches_total{source} (Counter): Fetches by response source (api, cache, stale_cache, error)
//   - gateway_background_refreshes_total{result} (Counter): Background refreshes by result (ok, rejected, error)
//   - gateway_background_refreshes_dropped_total (Counter): Refreshes dropped because the queue was full
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gateway_cache_hits_total[5m])) /
//   (sum(rate(gateway_cache_hits_total[5m])) + sum(rate(gateway_cache_misses_total[5m])))
//
//   # Circuit Breaker Open
//   gateway_circuit_breaker_state == 1
//
//   # Stale Serve Rate
//   rate(gateway_fetches_total{source="stale_cache"}[5m]) / rate(gateway_fetches_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(gateway_upstream_request_duration_seconds_bucket[5m]))
//
//   # Retry Pressure
//   rate(gateway_upstream_retries_total[5m])
