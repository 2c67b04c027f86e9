package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuthSessionIDPrefix is the prefix for session IDs.
const AuthSessionIDPrefix = "auth-"

// AuthSession is an app's consent to act for one account, backed by a
// symmetric session key known to the app and the agent only.
//
// JSON names follow the auth records of HiveAuth PKSA storage files;
// timestamps are Unix milliseconds rather than ISO strings.
//
// @design DS-0102
type AuthSession struct {
	// ID is a local identifier. It is never sent over the relay.
	ID string `json:"id"`

	// Key is the symmetric session key (passphrase for seal/open).
	Key string `json:"key"`

	// App is the requesting application's name.
	App string `json:"app"`

	// Expire is the absolute expiry (Unix milliseconds).
	Expire int64 `json:"expire"`

	// CreatedAt, ExpiresAt and LastUsed are bookkeeping timestamps (Unix milliseconds).
	CreatedAt int64 `json:"ts_create"`
	ExpiresAt int64 `json:"ts_expire"`
	LastUsed  int64 `json:"ts_lastused,omitempty"`

	// Nonce is the replay watermark: the highest nonce accepted so far.
	Nonce int64 `json:"nonce,omitempty"`

	// TokenHash is the hex SHA-256 of the bearer token, set only when
	// sessions are addressed by token.
	TokenHash string `json:"token_hash,omitempty"`
}

// NewAuthSession creates a session valid for ttl from now.
func NewAuthSession(key, app string, now time.Time, ttl time.Duration) (*AuthSession, error) {
	id, err := GenerateAuthSessionID(now)
	if err != nil {
		return nil, err
	}
	expire := now.Add(ttl).UnixMilli()
	return &AuthSession{
		ID:        id,
		Key:       key,
		App:       app,
		Expire:    expire,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: expire,
	}, nil
}

// GenerateAuthSessionID generates a new session ID using ULID.
func GenerateAuthSessionID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", ErrInternal.WithCause(err)
	}
	return AuthSessionIDPrefix + strings.ToLower(id.String()), nil
}

// ValidAt reports whether the session is still valid at t (expire > t).
func (s *AuthSession) ValidAt(t time.Time) bool {
	return s.Expire > t.UnixMilli()
}

// Touch records a use of the session.
func (s *AuthSession) Touch(now time.Time) {
	s.LastUsed = now.UnixMilli()
}

// AcceptNonce advances the replay watermark. It fails with ErrReplay unless
// nonce is strictly greater than the current watermark.
func (s *AuthSession) AcceptNonce(nonce int64) error {
	if nonce <= s.Nonce {
		return ErrReplay
	}
	s.Nonce = nonce
	return nil
}

// Clone creates a copy of the session.
func (s *AuthSession) Clone() *AuthSession {
	clone := *s
	return &clone
}

// ExpireTime returns Expire as time.Time.
func (s *AuthSession) ExpireTime() time.Time {
	return time.UnixMilli(s.Expire)
}

// LastUsedTime returns LastUsed as time.Time; zero if never used.
func (s *AuthSession) LastUsedTime() time.Time {
	if s.LastUsed == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastUsed)
}
