package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchesTotal counts Fetch results by source (api, cache, stale_cache, error).
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_fetches_total",
		Help: "Total Fetch calls by response source",
	}, []string{"source"})

	// refreshesTotal counts background refresh outcomes.
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_background_refreshes_total",
		Help: "Total background refresh attempts by result (ok, rejected, error)",
	}, []string{"result"})

	// refreshDropped counts refreshes dropped because the queue was full.
	refreshDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_background_refreshes_dropped_total",
		Help: "Total background refreshes dropped due to a full queue",
	})
)
