package service

import (
	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/pkg/crypto/hive"
)

// HiveCrypto implements Crypto with the Hive formats from pkg/crypto/hive.
type HiveCrypto struct{}

// NewHiveCrypto creates the Hive crypto adapter.
func NewHiveCrypto() *HiveCrypto {
	return &HiveCrypto{}
}

// Seal encrypts plaintext with a session key.
func (HiveCrypto) Seal(plaintext []byte, passphrase string) (string, error) {
	out, err := hive.Seal(plaintext, passphrase)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithDetails("seal").WithCause(err)
	}
	return out, nil
}

// Open decrypts a sealed payload. Failure is expected during trial decryption.
func (HiveCrypto) Open(ciphertext, passphrase string) ([]byte, error) {
	return hive.Open(ciphertext, passphrase)
}

// SignBuffer signs message and returns the signature and signer public key.
func (HiveCrypto) SignBuffer(message []byte, wif string) (string, string, error) {
	key, err := hive.ParseWIF(wif)
	if err != nil {
		return "", "", domain.ErrCryptoFailure.WithDetails("sign").WithCause(err)
	}
	return hive.SignBuffer(message, key), key.PublicKey().String(), nil
}

// EncodeMemo encrypts memo for toPubKey.
func (HiveCrypto) EncodeMemo(wif, toPubKey, memo string) (string, error) {
	key, err := hive.ParseWIF(wif)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithDetails("memo").WithCause(err)
	}
	to, err := hive.ParsePublicKey(toPubKey)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithDetails("memo").WithCause(err)
	}
	out, err := hive.EncodeMemo(key, to, memo)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithDetails("memo").WithCause(err)
	}
	return out, nil
}

// DecodeMemo decrypts a memo addressed from or to wif's public key.
func (HiveCrypto) DecodeMemo(wif, memo string) (string, error) {
	key, err := hive.ParseWIF(wif)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithDetails("memo").WithCause(err)
	}
	out, err := hive.DecodeMemo(key, memo)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithDetails("memo").WithCause(err)
	}
	return out, nil
}

// PublicKey returns the STM public key for wif.
func (HiveCrypto) PublicKey(wif string) (string, error) {
	key, err := hive.ParseWIF(wif)
	if err != nil {
		return "", domain.ErrCryptoFailure.WithCause(err)
	}
	return key.PublicKey().String(), nil
}
