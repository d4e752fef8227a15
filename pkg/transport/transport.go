// Package transport provides the pooled, retrying HTTP client that talks to
// the upstream API. It owns attempt budgets, per-attempt timeouts, and
// exponential backoff; every retryable attempt failure is reported to the
// circuit breaker, terminal 4xx errors are not.
package transport

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Reporter receives the outcome of upstream attempts. The circuit breaker
// implements it; a nil Reporter disables reporting.
type Reporter interface {
	RecordSuccess()
	RecordFailure()
}

// Config holds transport configuration.
type Config struct {
	// BaseURL of the upstream API, e.g. "http://apigateway.example.com:8080".
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// BaseTimeout is the first attempt's timeout; each later attempt gets
	// 5s more headroom.
	BaseTimeout time.Duration

	// MaxRetries is the total attempt budget (including the first attempt).
	MaxRetries int

	// BackoffFactor scales the exponential delay between attempts:
	// delay = BackoffFactor * 2^attempt seconds.
	BackoffFactor float64

	// ProbeTimeout bounds single-shot health probes.
	ProbeTimeout time.Duration

	// MaxIdleConnsPerHost bounds the idle connection pool. Requests beyond
	// the pool open new connections instead of blocking.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns the standard transport parameters.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:             baseURL,
		UserAgent:           "KortekStream/1.0",
		BaseTimeout:         15 * time.Second,
		MaxRetries:          3,
		BackoffFactor:       1.5,
		ProbeTimeout:        5 * time.Second,
		MaxIdleConnsPerHost: 50,
	}
}

// RawResponse is an upstream response after all transport concerns
// (retries, timeouts) are resolved.
type RawResponse struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Duration   time.Duration
}

// Client is the retrying HTTP transport.
type Client struct {
	httpClient *http.Client
	config     Config
	reporter   Reporter
	logger     zerolog.Logger

	// sleep is replaceable in tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a transport client. reporter may be nil.
func New(cfg Config, reporter Reporter, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 50
	}

	// MaxConnsPerHost stays unset: when the idle pool is exhausted, extra
	// requests open fresh connections rather than queueing behind the pool.
	pooled := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConnsPerHost * 2,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: pooled},
		config:     cfg,
		reporter:   reporter,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// Request performs a GET against the upstream with bounded retries and
// exponential backoff. Timeouts and connection failures always retry; HTTP
// errors retry only for 429/500/502/503/504. Each retryable attempt failure
// is reported to the Reporter, and an eventual success reports success.
// A terminal 4xx returns immediately with nothing reported.
func (c *Client) Request(ctx context.Context, endpoint string, params map[string]string) (*RawResponse, error) {
	reqURL := c.buildURL(endpoint, params)

	var lastErr *Error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		// Each attempt gets more headroom than the last.
		timeout := c.config.BaseTimeout + time.Duration(attempt)*5*time.Second

		raw, reqErr := c.attempt(ctx, reqURL, timeout, endpoint)
		if reqErr == nil {
			if c.reporter != nil {
				c.reporter.RecordSuccess()
			}
			if attempt > 0 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return raw, nil
		}

		upstreamErrorsTotal.WithLabelValues(string(reqErr.Class)).Inc()

		if !reqErr.Retryable() {
			if reqErr.Class == ErrorClassClient {
				// Caller error, not an outage signal.
				return nil, reqErr
			}
			if c.reporter != nil {
				c.reporter.RecordFailure()
			}
			return nil, reqErr
		}

		if c.reporter != nil {
			c.reporter.RecordFailure()
		}
		lastErr = reqErr

		if attempt == c.config.MaxRetries-1 {
			break
		}

		delay := backoffDelay(attempt, c.config.BackoffFactor)
		upstreamRetriesTotal.WithLabelValues(string(reqErr.Class)).Inc()
		upstreamRetryBackoff.WithLabelValues(string(reqErr.Class)).Observe(delay.Seconds())

		c.logger.Warn().
			Str("endpoint", endpoint).
			Str("error_class", string(reqErr.Class)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("context cancelled during retry backoff: %w", err)
		}
	}

	upstreamRetryExhausted.WithLabelValues(string(lastErr.Class)).Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("max_attempts", c.config.MaxRetries).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.config.MaxRetries, lastErr)
}

// Probe performs a single short-timeout GET with no retries and no breaker
// reporting, for health checks.
func (c *Client) Probe(ctx context.Context, endpoint string) (*RawResponse, error) {
	reqURL := c.buildURL(endpoint, nil)

	raw, err := c.attempt(ctx, reqURL, c.config.ProbeTimeout, endpoint)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// attempt executes one HTTP GET with the given timeout.
func (c *Client) attempt(ctx context.Context, reqURL string, timeout time.Duration, endpoint string) (*RawResponse, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Error{Class: ErrorClassConnection, URL: reqURL, Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Class: classifyNetErr(err), URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Class: classifyNetErr(err), URL: reqURL, Err: err}
	}

	duration := time.Since(start)
	upstreamRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	upstreamRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			URL:        reqURL,
		}
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
		Duration:   duration,
	}, nil
}

// buildURL joins the base URL, endpoint path, and encoded query parameters.
func (c *Client) buildURL(endpoint string, params map[string]string) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	path := "/" + strings.TrimLeft(endpoint, "/")
	if len(params) == 0 {
		return base + path
	}

	values := url.Values{}
	for name, value := range params {
		values.Set(name, value)
	}
	return base + path + "?" + values.Encode()
}

// backoffDelay computes the exponential delay before the next attempt:
// BackoffFactor * 2^attempt seconds.
func backoffDelay(attempt int, factor float64) time.Duration {
	return time.Duration(factor * math.Pow(2, float64(attempt)) * float64(time.Second))
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
