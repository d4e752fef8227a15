package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kortekstream/gateway-client/pkg/cache"
)

// refreshTimeout bounds one background refresh, covering the transport's
// full attempt budget plus backoff.
const refreshTimeout = 60 * time.Second

// refreshJob identifies a stale entry to repopulate.
type refreshJob struct {
	endpoint string
	params   map[string]string
	key      cache.Key
	ttl      time.Duration
}

// refresher repopulates stale cache entries on a bounded worker pool.
// Scheduling never blocks the caller; when the queue is full the job is
// dropped, since the stale copy was already served and a later request will
// try again. Refresh failures are logged and swallowed, never surfaced.
type refresher struct {
	client *Client
	jobs   chan refreshJob
	wg     sync.WaitGroup
}

func newRefresher(client *Client, workers, queueSize int) *refresher {
	r := &refresher{
		client: client,
		jobs:   make(chan refreshJob, queueSize),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// schedule enqueues a refresh without blocking. Returns false if the job
// was dropped because the queue is full.
func (r *refresher) schedule(job refreshJob) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		refreshDropped.Inc()
		r.client.logger.Warn().
			Str("endpoint", job.endpoint).
			Msg("Refresh queue full, dropping background refresh")
		return false
	}
}

func (r *refresher) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.refresh(job)
	}
}

// refresh re-fetches one entry from upstream. It goes through the transport
// (so failures still count against the breaker) but not through the fail-fast
// gate: a refresh is best-effort and detached from any caller.
func (r *refresher) refresh(job refreshJob) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	raw, err := r.client.upstream.Request(ctx, job.endpoint, job.params)
	if err != nil {
		refreshesTotal.WithLabelValues("error").Inc()
		r.client.logger.Warn().
			Err(err).
			Str("endpoint", job.endpoint).
			Msg("Background refresh failed")
		return
	}

	data, hasError := decodeEnvelope(raw.Body)
	if raw.StatusCode != http.StatusOK || hasError {
		refreshesTotal.WithLabelValues("rejected").Inc()
		return
	}

	if err := r.client.store.Set(ctx, job.key, data, job.ttl); err != nil {
		refreshesTotal.WithLabelValues("error").Inc()
		r.client.logger.Warn().
			Err(err).
			Str("endpoint", job.endpoint).
			Msg("Background refresh cache write failed")
		return
	}

	refreshesTotal.WithLabelValues("ok").Inc()
	r.client.logger.Debug().
		Str("endpoint", job.endpoint).
		Msg("Background refresh completed")
}

// close drains pending jobs and waits for the workers to stop.
func (r *refresher) close() {
	close(r.jobs)
	r.wg.Wait()
}
