package service

import (
	"github.com/yndnr/pksa-go/internal/core/domain"
)

// Prover produces proof-of-key values: "#"+value memo-encoded with the
// account's lowest-tier key for the relay's public key. The relay can decode
// it and so attest that a reply came from the key holder.
type Prover struct {
	keys   KeyStore
	crypto Crypto
}

// NewProver creates a Prover.
func NewProver(keys KeyStore, crypto Crypto) *Prover {
	return &Prover{keys: keys, crypto: crypto}
}

// Prove returns the proof for value. It never returns an empty proof with a
// nil error.
func (p *Prover) Prove(account, relayKey, value string) (string, error) {
	if relayKey == "" {
		return "", domain.ErrRelayKeyUnknown
	}
	_, wif, ok := LowestKey(p.keys, account)
	if !ok {
		return "", domain.ErrKeyUnavailable.WithDetails(account)
	}
	return p.crypto.EncodeMemo(wif, relayKey, "#"+value)
}
