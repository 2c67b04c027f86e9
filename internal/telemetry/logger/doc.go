// Package logger provides structured logging for the agent.
//
// It wraps the standard library log/slog to provide structured JSON
// logging with automatic redaction of key material.
//
// Features:
//   - JSON structured logging (default)
//   - Redaction of session keys, WIF keys, proofs of key and tokens
//   - Optional hiding of session-encrypted payloads
//   - Context-aware logging with request and correlation ids
//   - Log level configuration
//
// @design DS-0502
package logger
