// Package metrics exposes relay state over HTTP.
//
// Endpoints:
//   - /health: 200 while the stream is subscribed (or intentionally
//     stopped), 503 otherwise, with a JSON status body
//   - /metrics: Prometheus metrics read from the controller, router,
//     pipeline and poller at scrape time
package metrics
