package hive

import (
	"errors"

	openssl "github.com/Luzifer/go-openssl/v4"
)

// ErrOpenFailed indicates a ciphertext could not be opened with a passphrase.
// It does not distinguish a wrong key from corrupted input.
var ErrOpenFailed = errors.New("hive: cannot open ciphertext")

var ossl = openssl.New()

// Seal encrypts plaintext with a passphrase in the CryptoJS.AES format.
func Seal(plaintext []byte, passphrase string) (string, error) {
	out, err := ossl.EncryptBytes(passphrase, plaintext, openssl.BytesToKeyMD5)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Open decrypts a CryptoJS.AES ciphertext.
func Open(ciphertext, passphrase string) ([]byte, error) {
	if ciphertext == "" || passphrase == "" {
		return nil, ErrOpenFailed
	}
	out, err := ossl.DecryptBytes(passphrase, []byte(ciphertext), openssl.BytesToKeyMD5)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return out, nil
}
