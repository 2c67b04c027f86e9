package domain

import (
	"strings"
	"time"
)

// Account name constraints (Hive handle rules).
const (
	MinAccountNameLength = 3
	MaxAccountNameLength = 16
)

// Tier is the privilege rank of a key. Higher values carry more authority.
type Tier int

const (
	TierMemo Tier = iota
	TierPosting
	TierActive
)

var tierNames = [...]string{"memo", "posting", "active"}

// Tiers returns all key tiers in ascending privilege order.
func Tiers() []Tier {
	return []Tier{TierMemo, TierPosting, TierActive}
}

// String returns the wire name of the tier.
func (t Tier) String() string {
	if t < TierMemo || t > TierActive {
		return "unknown"
	}
	return tierNames[t]
}

// ParseTier parses a key_type value.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if s == name {
			return Tier(i), nil
		}
	}
	return 0, ErrInvalidKeyType.WithDetails(s)
}

// Account is a handle managed by this agent together with its app sessions.
//
// Private keys are never part of an Account; they live in the key store and
// are addressed by (account name, tier).
//
// @design DS-0101
type Account struct {
	Name     string         `json:"name"`
	Sessions []*AuthSession `json:"auths"`
}

// NewAccount creates an Account after validating its name.
func NewAccount(name string) (*Account, error) {
	if err := ValidateAccountName(name); err != nil {
		return nil, err
	}
	return &Account{Name: name, Sessions: []*AuthSession{}}, nil
}

// ValidateAccountName checks a handle. Names are never normalized: a name with
// surrounding spaces or upper case letters is rejected rather than fixed.
func ValidateAccountName(name string) error {
	switch {
	case name == "":
		return ErrInvalidAccountName.WithDetails("empty")
	case name != strings.TrimSpace(name):
		return ErrInvalidAccountName.WithDetails("spaces")
	case name != strings.ToLower(name):
		return ErrInvalidAccountName.WithDetails("case")
	case len(name) < MinAccountNameLength || len(name) > MaxAccountNameLength:
		return ErrInvalidAccountName.WithDetails("length")
	}

	for _, segment := range strings.Split(name, ".") {
		if len(segment) < MinAccountNameLength {
			return ErrInvalidAccountName.WithDetails("segment too short")
		}
		if segment[0] < 'a' || segment[0] > 'z' {
			return ErrInvalidAccountName.WithDetails("segment must start with a letter")
		}
		last := segment[len(segment)-1]
		if last == '-' {
			return ErrInvalidAccountName.WithDetails("segment must end with a letter or digit")
		}
		if strings.Contains(segment, "--") {
			return ErrInvalidAccountName.WithDetails("consecutive dashes")
		}
		for _, c := range segment {
			if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' {
				return ErrInvalidAccountName.WithDetails("invalid character")
			}
		}
	}
	return nil
}

// ActiveSessions returns the sessions still valid at now, in stored order.
func (a *Account) ActiveSessions(now time.Time) []*AuthSession {
	out := make([]*AuthSession, 0, len(a.Sessions))
	for _, s := range a.Sessions {
		if s.ValidAt(now) {
			out = append(out, s)
		}
	}
	return out
}

// SessionByKey returns the unexpired session using key, or nil.
func (a *Account) SessionByKey(key string, now time.Time) *AuthSession {
	for _, s := range a.Sessions {
		if s.Key == key && s.ValidAt(now) {
			return s
		}
	}
	return nil
}

// SessionByID returns the session with the given id regardless of expiry.
func (a *Account) SessionByID(id string) *AuthSession {
	for _, s := range a.Sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Upsert replaces the session with the same ID or appends it.
func (a *Account) Upsert(session *AuthSession) {
	for i, s := range a.Sessions {
		if s.ID == session.ID {
			a.Sessions[i] = session
			return
		}
	}
	a.Sessions = append(a.Sessions, session)
}

// PruneExpired removes sessions whose expiry is not after now and returns
// how many were dropped.
func (a *Account) PruneExpired(now time.Time) int {
	kept := a.Sessions[:0]
	for _, s := range a.Sessions {
		if s.ValidAt(now) {
			kept = append(kept, s)
		}
	}
	removed := len(a.Sessions) - len(kept)
	for i := len(kept); i < len(a.Sessions); i++ {
		a.Sessions[i] = nil
	}
	a.Sessions = kept
	return removed
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	clone := &Account{Name: a.Name, Sessions: make([]*AuthSession, len(a.Sessions))}
	for i, s := range a.Sessions {
		clone.Sessions[i] = s.Clone()
	}
	return clone
}
