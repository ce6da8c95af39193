// Package api hosts the HTTP server, middleware, and handlers for the lead
// capture form. Routes:
//   - GET / heartbeat for uptime monitors.
//   - GET /test read-only database diagnostic; always 200.
//   - POST /lead validates a submission and records it.
//   - GET /metrics for Prometheus scraping, when enabled.
package api
