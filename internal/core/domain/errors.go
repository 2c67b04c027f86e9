// Package domain defines the core domain models for the PKSA agent.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a protocol or business error with a structured code.
//
// Codes are grouped by failure class so callers can decide whether a failure
// is surfaced to the relay, answered encrypted, or dropped silently.
//
// @design DS-0104
type DomainError struct {
	Code    string // Error code (e.g., "PKSA-E1001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support, matching on code only.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Envelope Errors (E1xx)
// Always answered with an unauthenticated "error" reply.
// ============================================================================

var (
	// ErrEnvelopeMalformed indicates the frame is not a JSON object or a field has the wrong type.
	ErrEnvelopeMalformed = NewDomainError("PKSA-E1001", "malformed envelope")

	// ErrMissingCommand indicates the cmd field is missing or not a string.
	ErrMissingCommand = NewDomainError("PKSA-E1002", "missing or invalid cmd")

	// ErrMissingField indicates a field required by the command is absent.
	ErrMissingField = NewDomainError("PKSA-E1003", "missing required field")

	// ErrRequestExpired indicates now >= expire on an app request.
	ErrRequestExpired = NewDomainError("PKSA-E1004", "request expired")

	// ErrUnsupportedCommand indicates an unknown cmd.
	ErrUnsupportedCommand = NewDomainError("PKSA-E1005", "unsupported command")

	// ErrInvalidAccountName indicates the account handle failed validation.
	ErrInvalidAccountName = NewDomainError("PKSA-E1006", "invalid account name")
)

// ============================================================================
// Authentication Errors (A2xx)
// Dropped silently: replying would turn the agent into a decryption oracle.
// ============================================================================

var (
	// ErrAccountNotFound indicates the account is not managed by this agent.
	ErrAccountNotFound = NewDomainError("PKSA-A2001", "account not managed")

	// ErrNoSession indicates no unexpired session key decrypts the payload.
	ErrNoSession = NewDomainError("PKSA-A2002", "no matching session")

	// ErrTokenUnknown indicates the bearer token is unknown or expired.
	ErrTokenUnknown = NewDomainError("PKSA-A2003", "unknown session token")
)

// ============================================================================
// Replay Errors (R3xx)
// ============================================================================

var (
	// ErrReplay indicates the request nonce did not advance the session watermark.
	ErrReplay = NewDomainError("PKSA-R3001", "invalid (nonce)")
)

// ============================================================================
// Authorization Errors (P4xx)
// ============================================================================

var (
	// ErrDenied indicates the policy declined the request.
	ErrDenied = NewDomainError("PKSA-P4001", "request denied")

	// ErrRateLimited indicates the account exceeded its request budget.
	ErrRateLimited = NewDomainError("PKSA-P4002", "too many requests")
)

// ============================================================================
// Operation Errors (O5xx)
// Answered with an encrypted *_err reply.
// ============================================================================

var (
	// ErrInvalidPayload indicates the decrypted inner payload is malformed.
	ErrInvalidPayload = NewDomainError("PKSA-O5001", "invalid request payload")

	// ErrInvalidKeyType indicates key_type is not one of memo, posting, active.
	ErrInvalidKeyType = NewDomainError("PKSA-O5002", "invalid key_type")

	// ErrSignOnlyDisabled indicates broadcast=false was requested.
	ErrSignOnlyDisabled = NewDomainError("PKSA-O5003", "transaction signing only is not enabled")

	// ErrBroadcastFailed indicates the ledger client rejected the operations.
	ErrBroadcastFailed = NewDomainError("PKSA-O5004", "broadcast failed")

	// ErrCryptoFailure indicates a seal, open, sign, or memo operation failed.
	ErrCryptoFailure = NewDomainError("PKSA-O5005", "crypto operation failed")

	// ErrKeyUnavailable indicates no private key is held for the account.
	ErrKeyUnavailable = NewDomainError("PKSA-O5006", "no private key available")

	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = NewDomainError("PKSA-O5000", "internal error")
)

// ============================================================================
// Connection Errors (C6xx)
// ============================================================================

var (
	// ErrProtocolIncompatible indicates the relay speaks a newer protocol.
	ErrProtocolIncompatible = NewDomainError("PKSA-C6001", "unsupported relay protocol")

	// ErrNotConnected indicates no transport is currently open.
	ErrNotConnected = NewDomainError("PKSA-C6002", "relay not connected")

	// ErrHeartbeatTimeout indicates no pong arrived in time.
	ErrHeartbeatTimeout = NewDomainError("PKSA-C6003", "relay heartbeat timeout")

	// ErrRelayKeyUnknown indicates key_ack has not been received yet.
	ErrRelayKeyUnknown = NewDomainError("PKSA-C6004", "relay public key unknown")
)

// ============================================================================
// Storage Errors (S7xx)
// ============================================================================

var (
	// ErrStorage indicates the credential store failed to read or write.
	ErrStorage = NewDomainError("PKSA-S7001", "storage error")

	// ErrRecordCorrupted indicates a persisted record could not be decoded.
	ErrRecordCorrupted = NewDomainError("PKSA-S7002", "corrupted account record")
)
