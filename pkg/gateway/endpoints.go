package gateway

import (
	"context"
	"strconv"
	"time"
)

// Logical upstream endpoints.
const (
	EndpointCategories = "/api/categories/names"
	EndpointHome       = "/api/v1/home"
	EndpointLatest     = "/api/v1/anime-terbaru"
	EndpointSchedule   = "/api/v1/jadwal-rilis"
	EndpointDetail     = "/api/v1/episode-detail"
)

// Default cache TTLs per endpoint class. Category names change rarely;
// latest-release listings churn constantly.
const (
	TTLCategories = 15 * time.Minute
	TTLHome       = 5 * time.Minute
	TTLLatest     = time.Minute
	TTLSchedule   = 5 * time.Minute
	TTLDetail     = 10 * time.Minute
)

// TTLForEndpoint maps an endpoint to its class default TTL.
func TTLForEndpoint(endpoint string) time.Duration {
	switch endpoint {
	case EndpointCategories:
		return TTLCategories
	case EndpointHome:
		return TTLHome
	case EndpointLatest:
		return TTLLatest
	case EndpointSchedule:
		return TTLSchedule
	case EndpointDetail:
		return TTLDetail
	default:
		return 300 * time.Second
	}
}

// Categories fetches the category name listing.
func (c *Client) Categories(ctx context.Context) *Response {
	return c.Fetch(ctx, EndpointCategories, FetchOptions{CacheTTL: TTLCategories})
}

// Home fetches the home feed for a category.
func (c *Client) Home(ctx context.Context, category string) *Response {
	return c.Fetch(ctx, EndpointHome, FetchOptions{
		Params:   map[string]string{"category": category},
		CacheTTL: TTLHome,
	})
}

// Latest fetches one page of the latest-release listing for a category.
func (c *Client) Latest(ctx context.Context, category string, page int) *Response {
	return c.Fetch(ctx, EndpointLatest, FetchOptions{
		Params: map[string]string{
			"category": category,
			"page":     strconv.Itoa(page),
		},
		CacheTTL: TTLLatest,
	})
}

// Schedule fetches the release schedule for a category.
func (c *Client) Schedule(ctx context.Context, category string) *Response {
	return c.Fetch(ctx, EndpointSchedule, FetchOptions{
		Params:   map[string]string{"category": category},
		CacheTTL: TTLSchedule,
	})
}

// EpisodeDetail fetches the detail document for one episode URL.
func (c *Client) EpisodeDetail(ctx context.Context, episodeURL, category string) *Response {
	return c.Fetch(ctx, EndpointDetail, FetchOptions{
		Params: map[string]string{
			"episode_url": episodeURL,
			"category":    category,
		},
		CacheTTL: TTLDetail,
	})
}
