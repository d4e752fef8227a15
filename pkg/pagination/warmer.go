package pagination

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds warmer configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int

	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns safe defaults. Four workers keeps a warming run
// gentle on an upstream that is assumed to be fragile.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// PageFetcher fetches a single listing page for a category. The gateway
// client is adapted to this interface by the cache warmer command.
type PageFetcher interface {
	FetchPage(ctx context.Context, category string, page int) error
}

// PageError records a page that could not be warmed.
type PageError struct {
	Page int
	Err  error
}

// Result summarizes one warming run.
type Result struct {
	Category string
	Warmed   int
	Failed   []PageError
	Duration time.Duration
}

// Warmer fetches page ranges in parallel through a PageFetcher.
type Warmer struct {
	fetcher PageFetcher
	config  Config
}

// NewWarmer creates a warmer. Zero config fields fall back to defaults.
func NewWarmer(fetcher PageFetcher, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
	}
}

// WarmRange fetches pages 1..pages for a category using the worker pool.
// Failed pages are collected in the result, never propagated as an error;
// the caller decides whether partial warming is acceptable.
func (w *Warmer) WarmRange(ctx context.Context, category string, pages int) Result {
	start := time.Now()
	result := Result{Category: category}

	if pages <= 0 {
		result.Duration = time.Since(start)
		return result
	}

	log.Info().
		Str("category", category).
		Int("pages", pages).
		Int("workers", w.config.MaxConcurrency).
		Msg("Starting page warm")

	pageQueue := make(chan int, pages)
	for page := 1; page <= pages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < w.config.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pageQueue {
				select {
				case <-ctx.Done():
					mu.Lock()
					result.Failed = append(result.Failed, PageError{Page: page, Err: ctx.Err()})
					mu.Unlock()
					continue
				default:
				}

				pageCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
				err := w.fetcher.FetchPage(pageCtx, category, page)
				cancel()

				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, PageError{Page: page, Err: err})
				} else {
					result.Warmed++
				}
				mu.Unlock()

				if err != nil {
					log.Warn().
						Err(err).
						Str("category", category).
						Int("page", page).
						Msg("Page warm failed")
				}
			}
		}()
	}
	wg.Wait()

	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].Page < result.Failed[j].Page
	})
	result.Duration = time.Since(start)

	log.Info().
		Str("category", category).
		Int("warmed", result.Warmed).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("Page warm complete")

	return result
}
