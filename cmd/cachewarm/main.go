// Command cachewarm pre-populates the gateway cache so the first user
// requests after a deploy are served hot. It warms the category listing,
// then the home feed, release schedule, and a range of latest-release pages
// for each category.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kortekstream/gateway-client/pkg/gateway"
	"github.com/kortekstream/gateway-client/pkg/logging"
	"github.com/kortekstream/gateway-client/pkg/pagination"
)

func main() {
	categories := flag.String("categories", "anime", "comma-separated categories to warm")
	pages := flag.Int("pages", 3, "latest-release pages to warm per category")
	force := flag.Bool("force", false, "refresh entries that are already cached")
	delay := flag.Duration("delay", 500*time.Millisecond, "pause between endpoint groups")
	flag.Parse()

	_ = godotenv.Load()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: true,
		Output: os.Stderr,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_URL", "localhost:6379"),
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	cfg := gateway.DefaultConfig(redisClient, getEnv("UPSTREAM_URL", "http://apigateway.humanmade.my.id:8080"))
	cfg.UserAgent = getEnv("USER_AGENT", "KortekStream-Warmer/1.0")

	client, err := gateway.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gateway client")
	}
	defer client.Close()

	warmer := pagination.NewWarmer(&latestPageFetcher{client: client, force: *force}, pagination.DefaultConfig())

	var warmed, failed int
	for _, category := range strings.Split(*categories, ",") {
		category = strings.TrimSpace(category)
		if category == "" {
			continue
		}

		log.Info().Str("category", category).Msg("Warming category")

		for _, fetch := range []func() *gateway.Response{
			func() *gateway.Response { return fetchForced(ctx, client, gateway.EndpointHome, category, *force) },
			func() *gateway.Response { return fetchForced(ctx, client, gateway.EndpointSchedule, category, *force) },
		} {
			if resp := fetch(); resp.Source == gateway.SourceError {
				failed++
			} else {
				warmed++
			}
			time.Sleep(*delay)
		}

		result := warmer.WarmRange(ctx, category, *pages)
		warmed += result.Warmed
		failed += len(result.Failed)
		time.Sleep(*delay)
	}

	// Category names last; they were probed on startup anyway and expire slowly.
	if resp := client.Fetch(ctx, gateway.EndpointCategories, gateway.FetchOptions{
		CacheTTL:     gateway.TTLCategories,
		ForceRefresh: *force,
	}); resp.Source == gateway.SourceError {
		failed++
	} else {
		warmed++
	}

	fmt.Printf("Cache warm complete: %d warmed, %d failed\n", warmed, failed)
	if failed > 0 {
		stats := client.Stats()
		fmt.Printf("Circuit breaker: %s (%d failures)\n", stats.CircuitBreakerState, stats.CircuitBreakerFailures)
		os.Exit(1)
	}
}

func fetchForced(ctx context.Context, client *gateway.Client, endpoint, category string, force bool) *gateway.Response {
	return client.Fetch(ctx, endpoint, gateway.FetchOptions{
		Params:       map[string]string{"category": category},
		CacheTTL:     gateway.TTLForEndpoint(endpoint),
		ForceRefresh: force,
	})
}

// latestPageFetcher adapts the gateway client to the pagination warmer.
type latestPageFetcher struct {
	client *gateway.Client
	force  bool
}

func (f *latestPageFetcher) FetchPage(ctx context.Context, category string, page int) error {
	resp := f.client.Fetch(ctx, gateway.EndpointLatest, gateway.FetchOptions{
		Params: map[string]string{
			"category": category,
			"page":     fmt.Sprintf("%d", page),
		},
		CacheTTL:     gateway.TTLLatest,
		ForceRefresh: f.force,
	})
	if resp.Source == gateway.SourceError {
		return fmt.Errorf("page %d: upstream unavailable (status %d)", page, resp.StatusCode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
