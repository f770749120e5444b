// Package api hosts the HTTP server, middleware, and REST handlers for target
// management. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST, GET /v1/targets and GET, DELETE /v1/targets/{id} for targets.
//   - GET /v1/targets/{id}/changes for detected changes.
package api
