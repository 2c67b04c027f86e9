// Package chain provides the ledger broadcaster used by sign_req.
//
// Building and serializing blockchain transactions is outside this agent.
// A ledger client plugs in behind service.Broadcaster; until one is wired,
// Unconfigured answers every broadcast with ErrNotConfigured, which the
// dispatcher reports to the app as sign_err.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no ledger client is available.
var ErrNotConfigured = errors.New("chain: no ledger client configured")

// Unconfigured is a Broadcaster that never broadcasts.
type Unconfigured struct {
	// API is the configured ledger endpoint, reported in errors.
	API string
}

// New returns the broadcaster for the configured ledger endpoint.
func New(api string) *Unconfigured {
	return &Unconfigured{API: api}
}

// Broadcast always fails with ErrNotConfigured.
func (u *Unconfigured) Broadcast(_ context.Context, _ json.RawMessage, _ string) (string, error) {
	if u.API == "" {
		return "", ErrNotConfigured
	}
	return "", fmt.Errorf("%w (chain.api %s)", ErrNotConfigured, u.API)
}
