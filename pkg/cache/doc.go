// Package cache provides the layered cache used by the gateway client.
//
// Entries live in up to three places:
//
//   - a fast in-memory tier for short-lived hot data (TTL <= the ceiling)
//   - a default Redis tier holding every entry for its nominal TTL
//   - a long-lived ":stale" shadow copy in the default tier, read only as a
//     last-resort fallback when the upstream is unavailable
//
// # Basic Usage
//
//	fast := cache.NewMemory(60 * time.Second)
//	def := cache.NewRedis(redisClient)
//	tiered := cache.NewTiered(fast, def, cache.DefaultTieredConfig())
//
//	key := cache.Key{
//		Endpoint: "/api/v1/home",
//		Params:   map[string]string{"category": "anime"},
//	}
//
//	data, stale, err := tiered.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from upstream
//	}
//
// # Key Determinism
//
// Key.String hashes the normalized endpoint plus sorted query parameters, so
// identical (endpoint, params) pairs map to the same key regardless of
// parameter insertion order.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - gateway_cache_hits_total{tier} - hits by tier (fast, default, stale)
//   - gateway_cache_misses_total - full misses
//   - gateway_cache_errors_total{operation} - backend operation errors
package cache
