package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/pksa-go/pkg/crypto/adaptive"
)

// Sealing errors.
var (
	ErrPassphraseTooWeak = errors.New("storage: encryption key too weak (minimum 8 characters)")
	ErrWrongKey          = errors.New("storage: encryption key does not match the stored data")
	ErrDecryptionFailed  = errors.New("storage: decryption failed - wrong key or corrupted data")
)

const (
	// MinPassphraseLength is the minimum length of storage.encryption_key.
	MinPassphraseLength = 8

	// SaltLength is the length of the per-store random salt.
	SaltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32

	recordKeyInfo = "pksa/account-records/v1"
	checkPlain    = "pksa-credential-store"
)

// Record header bytes. A plain record is a JSON object and starts with '{'.
const (
	headerAESGCM   byte = 0x01
	headerChaCha20 byte = 0x02
)

var (
	metaSaltKey  = []byte("meta/salt")
	metaCheckKey = []byte("meta/check")
)

// RecordSealer encrypts account records at rest.
//
// The record key is derived with Argon2id from storage.encryption_key and a
// random salt kept in the store, then narrowed with HKDF. Each record is
// bound to its storage key through the AEAD additional data, so records
// cannot be swapped between accounts.
//
// @design DS-0106
type RecordSealer struct {
	key    []byte
	cipher adaptive.Cipher
}

// NewRecordSealer derives the record key for kv, creating the salt on first
// use. A key that does not open the store's check record fails with
// ErrWrongKey.
func NewRecordSealer(ctx context.Context, kv KVEngine, passphrase string) (*RecordSealer, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooWeak
	}

	salt, fresh, err := loadOrCreateSalt(ctx, kv)
	if err != nil {
		return nil, err
	}

	master := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	key, err := deriveSubkey(master, salt, recordKeyInfo, 32)
	zeroKey(master)
	if err != nil {
		return nil, err
	}

	c, err := adaptive.New(key)
	if err != nil {
		return nil, fmt.Errorf("storage: create cipher: %w", err)
	}
	s := &RecordSealer{key: key, cipher: c}

	if fresh {
		check, err := s.Seal(metaCheckKey, []byte(checkPlain))
		if err != nil {
			return nil, err
		}
		if err := kv.Set(ctx, metaCheckKey, check); err != nil {
			return nil, fmt.Errorf("storage: write check record: %w", err)
		}
		return s, nil
	}

	check, err := kv.Get(ctx, metaCheckKey)
	if err != nil {
		return nil, fmt.Errorf("storage: read check record: %w", err)
	}
	plain, err := s.Open(metaCheckKey, check)
	if err != nil || string(plain) != checkPlain {
		return nil, ErrWrongKey
	}
	return s, nil
}

// Seal encrypts plaintext bound to storageKey.
func (s *RecordSealer) Seal(storageKey, plaintext []byte) ([]byte, error) {
	ct, err := s.cipher.Encrypt(plaintext, storageKey)
	if err != nil {
		return nil, fmt.Errorf("storage: seal: %w", err)
	}
	out := make([]byte, 0, 1+len(ct))
	out = append(out, headerFor(s.cipher.Type()))
	return append(out, ct...), nil
}

// Open decrypts a sealed record. The header selects the cipher, so a store
// written on one architecture opens on another.
func (s *RecordSealer) Open(storageKey, sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrDecryptionFailed
	}
	c := s.cipher
	if want := typeFor(sealed[0]); want != c.Type() {
		var err error
		if c, err = adaptive.NewWithType(s.key, want); err != nil {
			return nil, err
		}
	}
	plain, err := c.Decrypt(sealed[1:], storageKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// IsSealed reports whether a stored value carries a sealing header.
func IsSealed(value []byte) bool {
	return len(value) > 0 && (value[0] == headerAESGCM || value[0] == headerChaCha20)
}

func headerFor(t adaptive.CipherType) byte {
	if t == adaptive.CipherChaCha20 {
		return headerChaCha20
	}
	return headerAESGCM
}

func typeFor(h byte) adaptive.CipherType {
	if h == headerChaCha20 {
		return adaptive.CipherChaCha20
	}
	return adaptive.CipherAESGCM
}

func loadOrCreateSalt(ctx context.Context, kv KVEngine) (salt []byte, fresh bool, err error) {
	salt, err = kv.Get(ctx, metaSaltKey)
	switch {
	case err == nil:
		if len(salt) != SaltLength {
			return nil, false, fmt.Errorf("storage: invalid salt length %d", len(salt))
		}
		return salt, false, nil
	case !errors.Is(err, ErrKeyNotFound):
		return nil, false, fmt.Errorf("storage: read salt: %w", err)
	}

	salt = make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, false, fmt.Errorf("storage: generate salt: %w", err)
	}
	if err := kv.Set(ctx, metaSaltKey, salt); err != nil {
		return nil, false, fmt.Errorf("storage: write salt: %w", err)
	}
	return salt, true, nil
}

func deriveSubkey(master, salt []byte, info string, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, master, salt, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("storage: derive subkey: %w", err)
	}
	return key, nil
}

func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
