package token

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

const (
	// Prefix marks every session token.
	Prefix = "pkat_"

	// DefaultLength is the default number of random bytes.
	DefaultLength = 32
)

// Generate returns a new prefixed session token.
func Generate() (string, error) {
	body, err := GenerateWithLength(DefaultLength)
	if err != nil {
		return "", err
	}
	return Prefix + body, nil
}

// GenerateWithLength returns length random bytes, Base64 RawURL encoded,
// without the token prefix.
func GenerateWithLength(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HasPrefix reports whether s looks like a session token.
func HasPrefix(s string) bool {
	return strings.HasPrefix(s, Prefix)
}
