// Package domain defines the core domain models for the PKSA agent.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Account: a managed handle and its key tiers
//   - AuthSession: a time-boxed, symmetric-key-backed app session
//   - Envelope: the relay wire message and the decrypted inner payloads
//   - Handshake: per-connection relay state (protocol, relay key, liveness)
//   - Errors: coded failures grouped by how they are surfaced to the relay
//
// @design DS-0101
package domain
