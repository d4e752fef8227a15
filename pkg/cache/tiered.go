package cache

import (
	"context"
	"fmt"
	"time"
)

// TieredConfig holds the tier placement policy.
type TieredConfig struct {
	// FastTTLCeiling is the largest TTL admitted to the fast tier. Entries
	// with longer TTLs go to the default tier only, which bounds the fast
	// tier's memory footprint to hot short-lived data.
	FastTTLCeiling time.Duration

	// StaleTTL is the fixed lifetime of the ":stale" shadow copy, written
	// alongside every entry regardless of its nominal TTL.
	StaleTTL time.Duration
}

// DefaultTieredConfig returns the standard placement policy.
func DefaultTieredConfig() TieredConfig {
	return TieredConfig{
		FastTTLCeiling: 60 * time.Second,
		StaleTTL:       24 * time.Hour,
	}
}

// Tiered layers a fast tier over a default tier and maintains a stale
// shadow copy per key for failure fallback.
type Tiered struct {
	fast   Store
	def    Store
	config TieredConfig
}

// NewTiered creates a tiered cache from two injected stores.
func NewTiered(fast, def Store, cfg TieredConfig) *Tiered {
	if fast == nil || def == nil {
		panic("tiered cache requires both stores")
	}
	if cfg.FastTTLCeiling <= 0 {
		cfg.FastTTLCeiling = 60 * time.Second
	}
	if cfg.StaleTTL <= 0 {
		cfg.StaleTTL = 24 * time.Hour
	}
	return &Tiered{fast: fast, def: def, config: cfg}
}

// Get looks up key through the fast tier, then the default tier, then the
// stale shadow. The second return value reports whether the hit came from
// the shadow; the shadow never counts as a hit for the fresh path.
func (t *Tiered) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	primary := key.String()

	if data, err := t.fast.Get(ctx, primary); err == nil {
		cacheHits.WithLabelValues("fast").Inc()
		return data, false, nil
	} else if err != ErrCacheMiss {
		cacheErrors.WithLabelValues("get").Inc()
	}

	if data, err := t.def.Get(ctx, primary); err == nil {
		cacheHits.WithLabelValues("default").Inc()
		return data, false, nil
	} else if err != ErrCacheMiss {
		cacheErrors.WithLabelValues("get").Inc()
	}

	if data, err := t.def.Get(ctx, key.StaleKey()); err == nil {
		cacheHits.WithLabelValues("stale").Inc()
		return data, true, nil
	} else if err != ErrCacheMiss {
		cacheErrors.WithLabelValues("get").Inc()
	}

	cacheMisses.Inc()
	return nil, false, ErrCacheMiss
}

// GetStale returns only the stale shadow copy, used as the last-resort
// fallback when the upstream is unavailable.
func (t *Tiered) GetStale(ctx context.Context, key Key) ([]byte, error) {
	data, err := t.def.Get(ctx, key.StaleKey())
	if err != nil {
		if err != ErrCacheMiss {
			cacheErrors.WithLabelValues("get").Inc()
		}
		return nil, err
	}
	cacheHits.WithLabelValues("stale").Inc()
	return data, nil
}

// Set writes value to the default tier for ttl, to the fast tier when ttl
// is within the ceiling, and always refreshes the stale shadow.
func (t *Tiered) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	primary := key.String()

	if ttl <= t.config.FastTTLCeiling {
		if err := t.fast.Set(ctx, primary, value, ttl); err != nil {
			cacheErrors.WithLabelValues("set").Inc()
			return fmt.Errorf("fast tier set: %w", err)
		}
	}

	if err := t.def.Set(ctx, primary, value, ttl); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("default tier set: %w", err)
	}

	if err := t.def.Set(ctx, key.StaleKey(), value, t.config.StaleTTL); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("stale shadow set: %w", err)
	}

	cacheSize.Add(float64(len(value)))
	return nil
}

// Delete removes key from the fast tier, the default tier, and the stale
// shadow. Deletion must be total so a later failure cannot resurrect data
// the caller asked to remove.
func (t *Tiered) Delete(ctx context.Context, key Key) error {
	primary := key.String()

	var firstErr error
	if err := t.fast.Delete(ctx, primary); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		firstErr = err
	}
	if err := t.def.Delete(ctx, primary); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := t.def.Delete(ctx, key.StaleKey()); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
