// Package gateway provides the resilient client fronting the upstream API.
// It orchestrates cache lookup, circuit-breaker-guarded requests, stale
// fallback, and background refresh behind a contract that never surfaces a
// network or parsing error to the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kortekstream/gateway-client/pkg/breaker"
	"github.com/kortekstream/gateway-client/pkg/cache"
	"github.com/kortekstream/gateway-client/pkg/transport"
)

// Upstream is the transport dependency. *transport.Client implements it;
// tests substitute fakes.
type Upstream interface {
	Request(ctx context.Context, endpoint string, params map[string]string) (*transport.RawResponse, error)
	Probe(ctx context.Context, endpoint string) (*transport.RawResponse, error)
}

// Config holds the gateway client configuration.
type Config struct {
	// Upstream base URL, e.g. "http://apigateway.humanmade.my.id:8080".
	BaseURL string

	// Redis client backing the default cache tier and stale shadows.
	Redis *redis.Client

	// UserAgent sent with upstream requests.
	UserAgent string

	// Transport
	RequestTimeout time.Duration // per-attempt base timeout
	MaxRetries     int
	BackoffFactor  float64

	// Circuit breaker
	FailureThreshold int
	OpenTimeout      time.Duration

	// Caching
	FastTTLCeiling  time.Duration
	StaleTTL        time.Duration
	DefaultCacheTTL time.Duration

	// HealthEndpoint is probed by HealthCheck.
	HealthEndpoint string

	// Background refresher pool
	RefreshWorkers   int
	RefreshQueueSize int

	// Upstream overrides the built transport; FastStore and DefaultStore
	// override the built cache tiers. Mainly for testing.
	Upstream     Upstream
	FastStore    cache.Store
	DefaultStore cache.Store
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redisClient *redis.Client, baseURL string) Config {
	return Config{
		BaseURL:          baseURL,
		Redis:            redisClient,
		UserAgent:        "KortekStream/1.0",
		RequestTimeout:   15 * time.Second,
		MaxRetries:       3,
		BackoffFactor:    1.5,
		FailureThreshold: 10,
		OpenTimeout:      300 * time.Second,
		FastTTLCeiling:   60 * time.Second,
		StaleTTL:         24 * time.Hour,
		DefaultCacheTTL:  300 * time.Second,
		HealthEndpoint:   EndpointCategories,
		RefreshWorkers:   4,
		RefreshQueueSize: 64,
	}
}

// FetchOptions tune a single Fetch call.
type FetchOptions struct {
	// Params are the query parameters of the upstream request.
	Params map[string]string

	// CacheTTL is the nominal lifetime of a cached success. Zero selects
	// the configured default.
	CacheTTL time.Duration

	// ForceRefresh bypasses the cache lookup (the result is still cached).
	ForceRefresh bool
}

// Stats is a read-only snapshot of the client's counters.
type Stats struct {
	TotalRequests          int64   `json:"total_requests"`
	CacheHits              int64   `json:"cache_hits"`
	CacheMisses            int64   `json:"cache_misses"`
	APIErrors              int64   `json:"api_errors"`
	AvgResponseTimeMs      float64 `json:"avg_response_time_ms"`
	CircuitBreakerState    string  `json:"circuit_breaker_state"`
	CircuitBreakerFailures int     `json:"circuit_breaker_failures"`
}

// HealthInfo is the result of a health probe.
type HealthInfo struct {
	Healthy             bool    `json:"healthy"`
	ResponseTimeMs      float64 `json:"response_time_ms"`
	StatusCode          int     `json:"status_code,omitempty"`
	CircuitBreakerState string  `json:"circuit_breaker_state"`
	Error               string  `json:"error,omitempty"`
}

// Client is the API gateway client. It owns the circuit breaker, the cache
// tiers, the stats counters, and the background refresher; construct one
// instance per upstream and share it.
type Client struct {
	upstream  Upstream
	store     *cache.Tiered
	breaker   *breaker.Breaker
	refresher *refresher
	config    Config
	logger    zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.Upstream == nil && cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.DefaultStore == nil && cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.DefaultCacheTTL <= 0 {
		cfg.DefaultCacheTTL = 300 * time.Second
	}
	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = EndpointCategories
	}
	if cfg.RefreshWorkers <= 0 {
		cfg.RefreshWorkers = 4
	}
	if cfg.RefreshQueueSize <= 0 {
		cfg.RefreshQueueSize = 64
	}

	logger := log.With().Str("component", "gateway-client").Logger()

	cb := breaker.New(breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
	}, logger)

	upstream := cfg.Upstream
	if upstream == nil {
		tcfg := transport.DefaultConfig(cfg.BaseURL)
		if cfg.UserAgent != "" {
			tcfg.UserAgent = cfg.UserAgent
		}
		if cfg.RequestTimeout > 0 {
			tcfg.BaseTimeout = cfg.RequestTimeout
		}
		if cfg.MaxRetries > 0 {
			tcfg.MaxRetries = cfg.MaxRetries
		}
		if cfg.BackoffFactor > 0 {
			tcfg.BackoffFactor = cfg.BackoffFactor
		}
		tc, err := transport.New(tcfg, cb, logger)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		upstream = tc
	}

	fast := cfg.FastStore
	if fast == nil {
		fast = cache.NewMemory(time.Minute)
	}
	def := cfg.DefaultStore
	if def == nil {
		def = cache.NewRedis(cfg.Redis)
	}
	store := cache.NewTiered(fast, def, cache.TieredConfig{
		FastTTLCeiling: cfg.FastTTLCeiling,
		StaleTTL:       cfg.StaleTTL,
	})

	c := &Client{
		upstream: upstream,
		store:    store,
		breaker:  cb,
		config:   cfg,
		logger:   logger,
	}
	c.refresher = newRefresher(c, cfg.RefreshWorkers, cfg.RefreshQueueSize)

	return c, nil
}

// Fetch performs a cached GET against the upstream. It never returns an
// error: failures degrade to the stale shadow when one exists, and to a
// synthesized 503 response otherwise.
func (c *Client) Fetch(ctx context.Context, endpoint string, opts FetchOptions) *Response {
	start := time.Now()

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = c.config.DefaultCacheTTL
	}
	key := cache.Key{Endpoint: endpoint, Params: opts.Params}

	if !opts.ForceRefresh {
		if data, stale, err := c.store.Get(ctx, key); err == nil {
			c.mu.Lock()
			c.stats.CacheHits++
			c.mu.Unlock()

			source := SourceCache
			if stale {
				// Serve the stale copy now, repopulate in the background.
				source = SourceStaleCache
				c.refresher.schedule(refreshJob{
					endpoint: endpoint,
					params:   opts.Params,
					key:      key,
					ttl:      ttl,
				})
			}
			return c.finish(&Response{
				Data:       data,
				StatusCode: http.StatusOK,
				Cached:     true,
				Stale:      stale,
				Source:     source,
			}, start)
		}
	}

	c.mu.Lock()
	c.stats.CacheMisses++
	c.mu.Unlock()

	raw, err := c.callUpstream(ctx, endpoint, opts.Params)
	if err != nil {
		c.mu.Lock()
		c.stats.APIErrors++
		c.mu.Unlock()

		c.logger.Error().
			Err(err).
			Str("endpoint", endpoint).
			Msg("Upstream request failed")

		if data, staleErr := c.store.GetStale(ctx, key); staleErr == nil {
			c.logger.Info().
				Str("endpoint", endpoint).
				Msg("Serving stale cache fallback")
			return c.finish(&Response{
				Data:       data,
				StatusCode: http.StatusOK,
				Cached:     true,
				Stale:      true,
				Source:     SourceStaleCache,
			}, start)
		}

		return c.finish(&Response{
			Data:       errorPayload(err.Error(), "Service temporarily unavailable", ""),
			StatusCode: http.StatusServiceUnavailable,
			Source:     SourceError,
		}, start)
	}

	data, hasError := decodeEnvelope(raw.Body)

	if raw.StatusCode == http.StatusOK && !hasError {
		if err := c.store.Set(ctx, key, data, ttl); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		}
	}

	return c.finish(&Response{
		Data:       data,
		StatusCode: raw.StatusCode,
		Source:     SourceAPI,
	}, start)
}

// callUpstream applies the circuit breaker's fail-fast gate and forwards a
// terminal 4xx outcome to resolve a pending half-open probe.
func (c *Client) callUpstream(ctx context.Context, endpoint string, params map[string]string) (*transport.RawResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by circuit breaker")
		return nil, err
	}

	raw, err := c.upstream.Request(ctx, endpoint, params)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.Class == transport.ErrorClassClient {
			// The upstream answered; a caller mistake must not wedge a probe.
			c.breaker.ResolveProbe()
		}
		return nil, err
	}
	return raw, nil
}

// finish stamps timing metadata and updates the running statistics with a
// numerically stable incremental mean.
func (c *Client) finish(resp *Response, start time.Time) *Response {
	resp.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	resp.Timestamp = time.Now()

	c.mu.Lock()
	c.stats.TotalRequests++
	n := float64(c.stats.TotalRequests)
	c.stats.AvgResponseTimeMs = (c.stats.AvgResponseTimeMs*(n-1) + resp.ResponseTimeMs) / n
	c.mu.Unlock()

	fetchesTotal.WithLabelValues(string(resp.Source)).Inc()
	return resp
}

// Stats returns a snapshot of the client counters, including the current
// circuit breaker state.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	snapshot := c.stats
	c.mu.Unlock()

	cb := c.breaker.Snapshot()
	snapshot.CircuitBreakerState = cb.State
	snapshot.CircuitBreakerFailures = cb.Failures
	return snapshot
}

// HealthCheck issues one short-timeout probe bypassing cache and retries.
func (c *Client) HealthCheck(ctx context.Context) HealthInfo {
	start := time.Now()
	cb := c.breaker.Snapshot()

	raw, err := c.upstream.Probe(ctx, c.config.HealthEndpoint)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		return HealthInfo{
			Healthy:             false,
			ResponseTimeMs:      elapsed,
			CircuitBreakerState: cb.State,
			Error:               err.Error(),
		}
	}

	return HealthInfo{
		Healthy:             raw.StatusCode == http.StatusOK,
		ResponseTimeMs:      elapsed,
		StatusCode:          raw.StatusCode,
		CircuitBreakerState: cb.State,
	}
}

// ResetCircuitBreaker unconditionally clears the breaker state and returns
// the resulting snapshot. Administrative escape hatch.
func (c *Client) ResetCircuitBreaker() breaker.Snapshot {
	return c.breaker.Reset()
}

// Delete removes a cached entry from every tier, including its stale shadow.
func (c *Client) Delete(ctx context.Context, endpoint string, params map[string]string) error {
	return c.store.Delete(ctx, cache.Key{Endpoint: endpoint, Params: params})
}

// Close drains the background refresher. The client must not be used after
// Close returns.
func (c *Client) Close() {
	c.refresher.close()
}
