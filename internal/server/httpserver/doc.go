// Package httpserver provides the agent's local admin HTTP server.
//
// Endpoints:
//
//   - GET  /health: liveness
//   - GET  /ready: relay session ready and credential store readable
//   - GET  /metrics: Prometheus exposition
//   - GET  /v1/accounts: accounts with their session summaries
//   - POST /v1/accounts/{account}/sessions/{id}/revoke
//   - POST /v1/sessions/prune
//
// The server binds to loopback by default and can be further restricted
// with an IP allowlist. It never exposes key material.
//
// @design DS-0301
package httpserver
