package pagination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct {
	mu      sync.Mutex
	fetched map[int]int
	failOn  map[int]error
	delay   time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		fetched: make(map[int]int),
		failOn:  make(map[int]error),
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, category string, page int) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched[page]++
	if err, ok := f.failOn[page]; ok {
		return err
	}
	return nil
}

func (f *fakeFetcher) count(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[page]
}

func TestWarmRange_FetchesEveryPageOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	warmer := NewWarmer(fetcher, Config{MaxConcurrency: 3})

	result := warmer.WarmRange(context.Background(), "anime", 10)

	if result.Warmed != 10 {
		t.Errorf("warmed = %d, want 10", result.Warmed)
	}
	if len(result.Failed) != 0 {
		t.Errorf("failed pages: %v", result.Failed)
	}
	for page := 1; page <= 10; page++ {
		if fetcher.count(page) != 1 {
			t.Errorf("page %d fetched %d times", page, fetcher.count(page))
		}
	}
}

func TestWarmRange_CollectsFailuresWithoutAborting(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failOn[3] = errors.New("upstream exploded")
	fetcher.failOn[7] = errors.New("timeout")

	warmer := NewWarmer(fetcher, Config{MaxConcurrency: 2})
	result := warmer.WarmRange(context.Background(), "anime", 8)

	if result.Warmed != 6 {
		t.Errorf("warmed = %d, want 6", result.Warmed)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("failed = %v, want 2 entries", result.Failed)
	}
	// Failures are sorted by page number.
	if result.Failed[0].Page != 3 || result.Failed[1].Page != 7 {
		t.Errorf("failed pages: %d, %d", result.Failed[0].Page, result.Failed[1].Page)
	}
}

func TestWarmRange_ZeroPages(t *testing.T) {
	warmer := NewWarmer(newFakeFetcher(), DefaultConfig())

	result := warmer.WarmRange(context.Background(), "anime", 0)
	if result.Warmed != 0 || len(result.Failed) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestWarmRange_CancelledContext(t *testing.T) {
	fetcher := newFakeFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	warmer := NewWarmer(fetcher, Config{MaxConcurrency: 2})
	result := warmer.WarmRange(ctx, "anime", 5)

	if result.Warmed != 0 {
		t.Errorf("warmed %d pages with cancelled context", result.Warmed)
	}
	if len(result.Failed) != 5 {
		t.Errorf("failed = %d, want 5", len(result.Failed))
	}
}

func TestNewWarmer_Defaults(t *testing.T) {
	warmer := NewWarmer(newFakeFetcher(), Config{})

	if warmer.config.MaxConcurrency != 4 {
		t.Errorf("concurrency = %d", warmer.config.MaxConcurrency)
	}
	if warmer.config.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", warmer.config.Timeout)
	}
}
