package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kortekstream/gateway-client/internal/testutil"
	"github.com/kortekstream/gateway-client/pkg/cache"
)

// newTestGateway wires a client to a mock upstream with in-memory cache
// tiers. Retries are reduced to one attempt so each Fetch maps to exactly
// one upstream request.
func newTestGateway(t *testing.T, mock *testutil.MockUpstream) (*Client, cache.Store, cache.Store) {
	t.Helper()

	fast := cache.NewMemory(time.Minute)
	def := cache.NewMemory(time.Minute)

	cfg := DefaultConfig(nil, mock.URL())
	cfg.MaxRetries = 1
	cfg.RequestTimeout = 2 * time.Second
	cfg.FastStore = fast
	cfg.DefaultStore = def

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(client.Close)

	return client, fast, def
}

func TestFetch_APIThenCache(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`[{"title": "one"}]`, 0.9))

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()
	opts := FetchOptions{Params: map[string]string{"category": "anime"}, CacheTTL: time.Minute}

	first := client.Fetch(ctx, EndpointHome, opts)
	if first.Source != SourceAPI || first.Cached {
		t.Errorf("first fetch: source=%s cached=%v, want api/false", first.Source, first.Cached)
	}
	if first.StatusCode != 200 {
		t.Errorf("first fetch status = %d", first.StatusCode)
	}

	second := client.Fetch(ctx, EndpointHome, opts)
	if second.Source != SourceCache || !second.Cached || second.Stale {
		t.Errorf("second fetch: source=%s cached=%v stale=%v, want cache/true/false",
			second.Source, second.Cached, second.Stale)
	}
	if string(first.Data) != string(second.Data) {
		t.Error("cached data differs from original")
	}
	if mock.RequestCount() != 1 {
		t.Errorf("upstream called %d times, want 1", mock.RequestCount())
	}

	stats := client.Stats()
	if stats.TotalRequests != 2 || stats.CacheHits != 1 || stats.CacheMisses != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.AvgResponseTimeMs < 0 {
		t.Errorf("avg response time: %f", stats.AvgResponseTimeMs)
	}
}

func TestFetch_RecoversWithinRetryBudget(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetFailures(EndpointHome, 503, 2, testutil.NewEnvelopeResponse(`["ok"]`, 1.0))

	fast := cache.NewMemory(time.Minute)
	def := cache.NewMemory(time.Minute)

	cfg := DefaultConfig(nil, mock.URL())
	cfg.MaxRetries = 3
	cfg.BackoffFactor = 0.001 // keep the test fast
	cfg.FastStore = fast
	cfg.DefaultStore = def

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	resp := client.Fetch(context.Background(), EndpointHome, FetchOptions{CacheTTL: time.Minute})
	if resp.Source != SourceAPI || resp.StatusCode != 200 {
		t.Errorf("recovered fetch: source=%s status=%d", resp.Source, resp.StatusCode)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("upstream called %d times, want 3", mock.RequestCount())
	}

	// Two failed attempts were reported, then the success wiped them.
	stats := client.Stats()
	if stats.CircuitBreakerFailures != 0 || stats.CircuitBreakerState != "CLOSED" {
		t.Errorf("breaker after recovery: %+v", stats)
	}
}

func TestFetch_ForceRefreshBypassesCache(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`[]`, 1.0))

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()

	client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})
	resp := client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute, ForceRefresh: true})

	if resp.Source != SourceAPI {
		t.Errorf("forceRefresh served from %s", resp.Source)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("upstream called %d times, want 2", mock.RequestCount())
	}
}

func TestFetch_MalformedJSONNotCached(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewMalformedResponse())

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()

	resp := client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})
	if resp.Source != SourceAPI || resp.StatusCode != 200 {
		t.Errorf("source=%s status=%d", resp.Source, resp.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
		Raw   string `json:"raw"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("data not structured: %v", err)
	}
	if body.Error != "Invalid JSON response" {
		t.Errorf("error field = %q", body.Error)
	}
	if !strings.Contains(body.Raw, "gateway timeout") {
		t.Errorf("raw excerpt missing: %q", body.Raw)
	}

	// The malformed body must not be cached as a success.
	client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})
	if mock.RequestCount() != 2 {
		t.Errorf("malformed response was cached: %d upstream calls", mock.RequestCount())
	}
}

func TestFetch_ErrorEnvelopeNotCached(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewErrorEnvelopeResponse("backend degraded"))

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()

	client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})
	client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})

	if mock.RequestCount() != 2 {
		t.Errorf("error envelope was cached: %d upstream calls", mock.RequestCount())
	}
}

func TestFetch_StaleFallbackOnUpstreamFailure(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`["cached"]`, 0.9))

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()
	opts := FetchOptions{CacheTTL: time.Minute}

	if resp := client.Fetch(ctx, EndpointHome, opts); resp.Source != SourceAPI {
		t.Fatalf("seed fetch failed: %+v", resp)
	}

	// Upstream goes down; forceRefresh skips the fresh copies and the
	// upstream call fails, so the stale shadow is the fallback.
	mock.SetResponse(EndpointHome, testutil.NewServerErrorResponse())

	resp := client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute, ForceRefresh: true})
	if resp.Source != SourceStaleCache || !resp.Stale || !resp.Cached {
		t.Errorf("fallback: source=%s stale=%v cached=%v", resp.Source, resp.Stale, resp.Cached)
	}
	if !strings.Contains(string(resp.Data), "cached") {
		t.Errorf("fallback data = %s", resp.Data)
	}

	stats := client.Stats()
	if stats.APIErrors != 1 {
		t.Errorf("apiErrors = %d", stats.APIErrors)
	}
}

func TestFetch_ErrorResponseWhenNothingCached(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewServerErrorResponse())

	client, _, _ := newTestGateway(t, mock)

	resp := client.Fetch(context.Background(), EndpointHome, FetchOptions{})
	if resp.Source != SourceError {
		t.Errorf("source = %s, want error", resp.Source)
	}
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if resp.Cached {
		t.Error("error response marked cached")
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("error payload not structured: %v", err)
	}
	if body.Error == "" || body.Message != "Service temporarily unavailable" {
		t.Errorf("error payload: %+v", body)
	}
}

func TestFetch_CircuitOpensAndFailsFast(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewServerErrorResponse())

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()

	// Threshold is 10 and each Fetch makes exactly one attempt.
	for i := 0; i < 10; i++ {
		client.Fetch(ctx, EndpointHome, FetchOptions{})
	}

	stats := client.Stats()
	if stats.CircuitBreakerState != "OPEN" {
		t.Fatalf("breaker state = %s after 10 failures", stats.CircuitBreakerState)
	}
	if mock.RequestCount() != 10 {
		t.Fatalf("upstream called %d times, want 10", mock.RequestCount())
	}

	// The next call must fail fast without an 11th network attempt.
	resp := client.Fetch(ctx, EndpointHome, FetchOptions{})
	if resp.Source != SourceError {
		t.Errorf("fail-fast source = %s", resp.Source)
	}
	if mock.RequestCount() != 10 {
		t.Errorf("open circuit still hit upstream: %d calls", mock.RequestCount())
	}
}

func TestFetch_NotFoundDoesNotTripBreaker(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointDetail, testutil.NewNotFoundResponse())

	client, _, _ := newTestGateway(t, mock)

	resp := client.Fetch(context.Background(), EndpointDetail, FetchOptions{})
	if resp.Source != SourceError {
		t.Errorf("source = %s", resp.Source)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("404 retried: %d upstream calls", mock.RequestCount())
	}

	stats := client.Stats()
	if stats.CircuitBreakerFailures != 0 {
		t.Errorf("4xx recorded as breaker failure: %d", stats.CircuitBreakerFailures)
	}
}

func TestFetch_StaleHitSchedulesBackgroundRefresh(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`["v1"]`, 0.9))

	client, fast, def := newTestGateway(t, mock)
	ctx := context.Background()
	opts := FetchOptions{Params: map[string]string{"category": "anime"}, CacheTTL: time.Minute}

	if resp := client.Fetch(ctx, EndpointHome, opts); resp.Source != SourceAPI {
		t.Fatalf("seed fetch failed: %+v", resp)
	}

	// Simulate TTL expiry of the fresh copies, leaving only the shadow.
	key := cache.Key{Endpoint: EndpointHome, Params: opts.Params}
	fast.Delete(ctx, key.String())
	def.Delete(ctx, key.String())

	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`["v2"]`, 0.9))
	mock.Reset()

	resp := client.Fetch(ctx, EndpointHome, opts)
	if resp.Source != SourceStaleCache || !resp.Stale {
		t.Fatalf("stale hit: source=%s stale=%v", resp.Source, resp.Stale)
	}
	if !strings.Contains(string(resp.Data), "v1") {
		t.Errorf("stale data = %s", resp.Data)
	}

	// The refresh is fire-and-forget; wait for the fresh copy to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := def.Get(ctx, key.String()); err == nil {
			if !strings.Contains(string(data), "v2") {
				t.Errorf("refreshed data = %s", data)
			}
			if mock.RequestCount() != 1 {
				t.Errorf("refresh made %d upstream calls", mock.RequestCount())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background refresh never repopulated the cache")
}

func TestHealthCheck(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	client, _, _ := newTestGateway(t, mock)

	info := client.HealthCheck(context.Background())
	if !info.Healthy || info.StatusCode != 200 {
		t.Errorf("health: %+v", info)
	}
	if info.CircuitBreakerState != "CLOSED" {
		t.Errorf("breaker state = %s", info.CircuitBreakerState)
	}

	mock.SetResponse(EndpointCategories, testutil.NewServerErrorResponse())
	info = client.HealthCheck(context.Background())
	if info.Healthy {
		t.Error("unhealthy upstream reported healthy")
	}
	if info.Error == "" {
		t.Error("unhealthy probe carries no error text")
	}
}

func TestResetCircuitBreaker(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewServerErrorResponse())

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		client.Fetch(ctx, EndpointHome, FetchOptions{})
	}
	if client.Stats().CircuitBreakerState != "OPEN" {
		t.Fatal("breaker did not open")
	}

	snap := client.ResetCircuitBreaker()
	if snap.State != "CLOSED" || snap.Failures != 0 {
		t.Errorf("reset snapshot: %+v", snap)
	}

	// Traffic flows to the upstream again.
	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`[]`, 1.0))
	mock.Reset()
	client.Fetch(ctx, EndpointHome, FetchOptions{})
	if mock.RequestCount() != 1 {
		t.Errorf("upstream not reachable after reset: %d calls", mock.RequestCount())
	}
}

func TestDelete_RemovesAllCopies(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse(EndpointHome, testutil.NewEnvelopeResponse(`[]`, 1.0))

	client, _, _ := newTestGateway(t, mock)
	ctx := context.Background()

	client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})
	if err := client.Delete(ctx, EndpointHome, nil); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	client.Fetch(ctx, EndpointHome, FetchOptions{CacheTTL: time.Minute})
	if mock.RequestCount() != 2 {
		t.Errorf("deleted entry still served from cache: %d upstream calls", mock.RequestCount())
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted empty config")
	}
	if _, err := New(Config{BaseURL: "http://upstream"}); err == nil {
		t.Error("New accepted config without redis or store override")
	}
}
