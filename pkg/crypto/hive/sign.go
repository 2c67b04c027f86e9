package hive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrInvalidSignature indicates a signature could not be decoded or recovered.
var ErrInvalidSignature = errors.New("hive: invalid signature")

// SignBuffer signs sha256(message) and returns the 65-byte compact
// signature (recovery byte, r, s) as hex.
func SignBuffer(message []byte, key *PrivateKey) string {
	digest := sha256.Sum256(message)
	return hex.EncodeToString(ecdsa.SignCompact(key.key, digest[:], true))
}

// RecoverBuffer returns the public key that produced sigHex over message.
func RecoverBuffer(message []byte, sigHex string) (*PublicKey, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return nil, ErrInvalidSignature
	}
	digest := sha256.Sum256(message)
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return &PublicKey{key: pub}, nil
}
