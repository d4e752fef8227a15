// Command gateway-proxy exposes the gateway client as an HTTP service.
// It forwards /api/ paths to the upstream through the resilient client and
// serves health, readiness, statistics, and Prometheus metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kortekstream/gateway-client/pkg/gateway"
	"github.com/kortekstream/gateway-client/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	port := getEnv("PORT", "8080")
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	upstreamURL := getEnv("UPSTREAM_URL", "http://apigateway.humanmade.my.id:8080")

	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}
	log.Info().Str("addr", redisURL).Msg("Connected to Redis")

	cfg := gateway.DefaultConfig(redisClient, upstreamURL)
	cfg.UserAgent = getEnv("USER_AGENT", "KortekStream-Proxy/1.0")
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.FailureThreshold = getEnvInt("CB_FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.OpenTimeout = getEnvDuration("CB_OPEN_TIMEOUT", cfg.OpenTimeout)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.StaleTTL = getEnvDuration("STALE_TTL", cfg.StaleTTL)

	client, err := gateway.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gateway client")
	}
	defer client.Close()

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      newMux(client, redisClient),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("upstream", upstreamURL).
			Msg("Starting gateway proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}

func newMux(client *gateway.Client, redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", apiHandler(client))
	mux.HandleFunc("/health", healthHandler(client))
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.HandleFunc("/stats", statsHandler(client))
	mux.HandleFunc("/admin/circuit-breaker/reset", resetHandler(client))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// apiHandler forwards a GET to the upstream through the gateway client.
// Query parameters become upstream parameters; refresh=1 bypasses the cache.
func apiHandler(client *gateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		endpoint := r.URL.Path
		params := make(map[string]string)
		forceRefresh := false
		for name, values := range r.URL.Query() {
			if name == "refresh" {
				forceRefresh = values[0] == "1" || values[0] == "true"
				continue
			}
			params[name] = values[0]
		}
		if len(params) == 0 {
			params = nil
		}

		resp := client.Fetch(r.Context(), endpoint, gateway.FetchOptions{
			Params:       params,
			CacheTTL:     gateway.TTLForEndpoint(endpoint),
			ForceRefresh: forceRefresh,
		})

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Cache", cacheHeader(resp))
		w.Header().Set("X-Source", string(resp.Source))
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Data); err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to write response")
		}
	}
}

func cacheHeader(resp *gateway.Response) string {
	switch {
	case resp.Stale:
		return "STALE"
	case resp.Cached:
		return "HIT"
	default:
		return "MISS"
	}
}

func healthHandler(client *gateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		info := client.HealthCheck(ctx)
		status := http.StatusOK
		if !info.Healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, info)
	}
}

// readyHandler reports whether the process can serve traffic at all. The
// upstream being down is not a readiness failure; stale cache still works.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func statsHandler(client *gateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, client.Stats())
	}
}

func resetHandler(client *gateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snapshot := client.ResetCircuitBreaker()
		log.Info().Msg("Circuit breaker reset via admin endpoint")
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
	}
	return defaultValue
}
