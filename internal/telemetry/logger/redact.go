package logger

import (
	"log/slog"
	"strings"
	"sync/atomic"
)

// Value prefixes that are partially masked wherever they appear.
var sensitiveValuePrefixes = []string{
	"pkat_", // session token issued in token addressing mode
}

// Attribute keys whose values are always redacted. Matching is exact so
// that keys such as key_type or public_key stay readable.
var sensitiveKeys = map[string]struct{}{
	"key":             {},
	"wif":             {},
	"auth_key":        {},
	"token":           {},
	"secret":          {},
	"auth_req_secret": {},
	"passphrase":      {},
	"password":        {},
	"encryption_key":  {},
	"pok":             {},
}

// Attribute keys that carry session-encrypted payloads. They are redacted
// only when hide_encrypted_data is on.
var encryptedDataKeys = map[string]struct{}{
	"data":  {},
	"error": {},
}

// sealedPrefix is the base64 of "Salted__", the header of every
// passphrase-sealed payload.
const sealedPrefix = "U2FsdGVkX1"

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

var hideEncryptedData atomic.Bool

// SetHideEncryptedData toggles redaction of session-encrypted payloads.
func SetHideEncryptedData(hide bool) {
	hideEncryptedData.Store(hide)
}

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		strVal := a.Value.String()
		if strVal == "" {
			return a
		}
		for _, prefix := range sensitiveValuePrefixes {
			if strings.HasPrefix(strVal, prefix) {
				return slog.String(a.Key, maskValue(strVal, prefix))
			}
		}
		if IsSensitiveKey(a.Key) || looksLikeWIF(strVal) {
			return slog.String(a.Key, redactedValue)
		}
		if hideEncryptedData.Load() && isEncryptedData(a.Key, strVal) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}
	return a
}

func isEncryptedData(key, value string) bool {
	if _, ok := encryptedDataKeys[strings.ToLower(key)]; ok && strings.HasPrefix(value, sealedPrefix) {
		return true
	}
	return false
}

// looksLikeWIF matches an uncompressed mainnet WIF: 51 base58 characters
// starting with '5'.
func looksLikeWIF(value string) bool {
	if len(value) != 51 || value[0] != '5' {
		return false
	}
	for i := 0; i < len(value); i++ {
		if !strings.ContainsRune(base58Alphabet, rune(value[i])) {
			return false
		}
	}
	return true
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// maskValue partially masks a sensitive value, keeping prefix and hints.
// Format: prefix + first 3 chars + "..." + last 3 chars
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) > 6 {
		return prefix + body[:3] + "..." + body[len(body)-3:]
	}
	return prefix + "***"
}

// RedactString manually redacts a string value.
// Use this when you need to redact a value before logging.
func RedactString(value string) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return maskValue(value, prefix)
		}
	}
	if looksLikeWIF(value) {
		return redactedValue
	}
	return value
}

// IsSensitiveKey checks if a key name always carries secret content.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// IsSensitiveValue checks if a value appears to be a secret by its shape.
func IsSensitiveValue(value string) bool {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return looksLikeWIF(value)
}
