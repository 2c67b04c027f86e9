// Package metric provides Prometheus metrics for the agent.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: the Registry, its counters and the HTTP handler
//   - collector.go: a scrape-time collector over the credential store
//
// Metrics include:
//
//   - Requests by command and outcome
//   - Relay connection state, reconnects and frame counts
//   - Managed accounts and active sessions
//
// Metrics are exposed at /metrics on the admin listener.
//
// @design DS-0402
package metric
