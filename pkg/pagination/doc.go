// Package pagination provides parallel warming of paginated listing endpoints.
//
// The upstream does not advertise a total page count, so warming targets an
// explicit page range per category. A worker pool fetches the pages in
// parallel and reports per-page outcomes; a failed page never aborts the
// whole run.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	warmer := pagination.NewWarmer(fetcher, config)
//	result := warmer.WarmRange(ctx, "anime", 5)
//
// The warmer:
//   - Distributes pages 1..N across the worker pool
//   - Applies a per-page timeout
//   - Collects successes and failures separately
//   - Returns partial results when pages fail
package pagination
