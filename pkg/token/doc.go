// Package token generates and verifies session bearer tokens.
//
// Token Format:
//
//   - Prefix: pkat_ (5 characters)
//   - Body: 43 characters of Base64 RawURL encoded random bytes
//   - Total: 48 characters
//
// Only the SHA-256 hash of a token is persisted. The prefix lets the log
// redactor recognize a token in any field.
//
// @design DS-0104
package token
