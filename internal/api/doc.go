// Package api hosts the operator HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for health checks. readyz reports 503 until the
//     worker pool has started.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for a JSON snapshot of the run counters.
package api
