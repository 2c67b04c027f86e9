// Package service provides the protocol/session engine of the PKSA agent.
//
// Services contain the business logic and orchestrate operations on domain
// models. They define interfaces for their dependencies (credential store,
// key store, crypto adapter, ledger client) so every collaborator can be
// replaced in tests.
//
// This package contains:
//
//   - Dispatcher: envelope validation and command routing
//   - SessionResolver: trial-decryption and token session lookup with replay guard
//   - Policy: approve/reject decisions by tier, session continuity and flags
//   - Prover: proof-of-key values for registration and replies
//   - RateLimiterRegistry: per-account request budgets
//
// The Dispatcher is driven by a single consumer goroutine; it is not meant to
// process two frames of the same relay stream concurrently.
//
// @design DS-0103
package service
