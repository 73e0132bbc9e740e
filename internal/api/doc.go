// Package api hosts the status server that runs beside a crawl. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /stats for a JSON snapshot of the current run.
//   - GET /metrics for Prometheus scraping.
package api
