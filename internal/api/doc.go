// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs/{workflow} to start a sync, on-this-day, index or notify
//     instance. Add ?wait=true to block until the instance finishes.
package api
