package hive

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the Hive key format
)

// AddressPrefix is the public key prefix used on Hive mainnet.
const AddressPrefix = "STM"

const wifVersion = 0x80

// Key errors.
var (
	ErrInvalidWIF       = errors.New("hive: invalid WIF private key")
	ErrInvalidPublicKey = errors.New("hive: invalid public key")
)

// PrivateKey is a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey is a compressed secp256k1 public key.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// ParseWIF decodes a WIF private key and verifies its checksum.
func ParseWIF(wif string) (*PrivateKey, error) {
	raw, err := base58.Decode(wif)
	if err != nil || len(raw) != 37 || raw[0] != wifVersion {
		return nil, ErrInvalidWIF
	}
	payload, checksum := raw[:33], raw[33:]
	if !bytes.Equal(doubleSHA256(payload)[:4], checksum) {
		return nil, ErrInvalidWIF
	}
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(payload[1:])}, nil
}

// PrivateKeyFromSeed derives a key as sha256(seed), the way hive-js
// PrivateKey.fromSeed does. Login-derived keys use seed = name+role+password.
func PrivateKeyFromSeed(seed string) *PrivateKey {
	sum := sha256.Sum256([]byte(seed))
	return &PrivateKey{key: secp256k1.PrivKeyFromBytes(sum[:])}
}

// WIF encodes the key in wallet import format.
func (k *PrivateKey) WIF() string {
	payload := append([]byte{wifVersion}, k.key.Serialize()...)
	return base58.Encode(append(payload, doubleSHA256(payload)[:4]...))
}

// PublicKey returns the matching public key.
func (k *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: k.key.PubKey()}
}

// ParsePublicKey decodes an STM-prefixed public key string.
func ParsePublicKey(s string) (*PublicKey, error) {
	if !strings.HasPrefix(s, AddressPrefix) {
		return nil, ErrInvalidPublicKey
	}
	raw, err := base58.Decode(s[len(AddressPrefix):])
	if err != nil || len(raw) != 37 {
		return nil, ErrInvalidPublicKey
	}
	compressed, checksum := raw[:33], raw[33:]
	if !bytes.Equal(ripemd160Sum(compressed)[:4], checksum) {
		return nil, ErrInvalidPublicKey
	}
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return &PublicKey{key: pub}, nil
}

// Bytes returns the 33-byte compressed encoding.
func (p *PublicKey) Bytes() []byte {
	return p.key.SerializeCompressed()
}

// String returns the STM-prefixed encoding.
func (p *PublicKey) String() string {
	compressed := p.Bytes()
	return AddressPrefix + base58.Encode(append(compressed, ripemd160Sum(compressed)[:4]...))
}

// Equal reports whether two public keys are the same point.
func (p *PublicKey) Equal(other *PublicKey) bool {
	return other != nil && p.key.IsEqual(other.key)
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

func ripemd160Sum(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}
