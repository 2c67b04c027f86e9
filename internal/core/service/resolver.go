package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/pkg/token"
)

// Addressing selects how app requests name their session.
type Addressing string

const (
	// AddressingTrial identifies the session by which key decrypts the payload.
	AddressingTrial Addressing = "trial"

	// AddressingToken identifies the session by a bearer token issued in auth_ack.
	AddressingToken Addressing = "token"
)

// Resolution is an authenticated app request.
type Resolution struct {
	Session   *domain.AuthSession
	Plaintext []byte
}

// SessionResolver finds the session behind an app request.
//
// @design DS-0107
type SessionResolver interface {
	// Addressing reports the scheme this resolver implements.
	Addressing() Addressing

	// Identify finds an unexpired session for an auth request. It performs no
	// replay check and does not mutate the store.
	Identify(acc *domain.Account, env *domain.Envelope, now time.Time) *domain.AuthSession

	// Resolve authenticates a sign or challenge request, enforces the nonce
	// watermark and persists the advanced watermark before returning.
	// It returns ErrNoSession / ErrTokenUnknown when nothing matches and
	// ErrReplay when the nonce does not advance.
	Resolve(ctx context.Context, env *domain.Envelope, now time.Time) (*Resolution, error)
}

// NewSessionResolver returns the resolver for the configured scheme.
func NewSessionResolver(mode Addressing, store CredentialStore, crypto Crypto) (SessionResolver, error) {
	switch mode {
	case AddressingTrial, "":
		return &TrialResolver{store: store, crypto: crypto}, nil
	case AddressingToken:
		return &TokenResolver{store: store, crypto: crypto}, nil
	default:
		return nil, fmt.Errorf("unknown session addressing %q", mode)
	}
}

// openPayload decrypts data with key and accepts it only if it is a
// non-empty JSON object. Any failure just disqualifies the key.
func openPayload(crypto Crypto, data, key string) ([]byte, map[string]json.RawMessage, bool) {
	plain, err := crypto.Open(data, key)
	if err != nil || len(plain) == 0 {
		return nil, nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(plain, &fields); err != nil || len(fields) == 0 {
		return nil, nil, false
	}
	return plain, fields, true
}

// ============================================================================
// TrialResolver
// ============================================================================

// TrialResolver tries every unexpired session key of the target account in
// stored order and stops at the first one that yields a structured payload.
// Only the target account's sessions are candidates.
type TrialResolver struct {
	store  CredentialStore
	crypto Crypto
}

// Addressing implements SessionResolver.
func (r *TrialResolver) Addressing() Addressing { return AddressingTrial }

// Identify implements SessionResolver.
func (r *TrialResolver) Identify(acc *domain.Account, env *domain.Envelope, now time.Time) *domain.AuthSession {
	for _, s := range acc.ActiveSessions(now) {
		if _, _, ok := openPayload(r.crypto, env.Data, s.Key); ok {
			return s
		}
	}
	return nil
}

// Resolve implements SessionResolver.
func (r *TrialResolver) Resolve(ctx context.Context, env *domain.Envelope, now time.Time) (*Resolution, error) {
	var res *Resolution
	_, err := r.store.Update(ctx, env.Account, func(acc *domain.Account) error {
		for _, s := range acc.ActiveSessions(now) {
			plain, fields, ok := openPayload(r.crypto, env.Data, s.Key)
			if !ok {
				continue
			}
			// A decrypting key with a stale nonce is a replay, not a miss:
			// the loop must not fall through to other candidates.
			if err := s.AcceptNonce(domain.ExtractNonce(fields)); err != nil {
				return err
			}
			s.Touch(now)
			res = &Resolution{Session: s.Clone(), Plaintext: plain}
			return nil
		}
		return domain.ErrNoSession
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ============================================================================
// TokenResolver
// ============================================================================

// TokenResolver looks sessions up by the bearer token carried in the
// envelope and decrypts data with that session's key only.
type TokenResolver struct {
	store  CredentialStore
	crypto Crypto
}

// Addressing implements SessionResolver.
func (r *TokenResolver) Addressing() Addressing { return AddressingToken }

func sessionByToken(acc *domain.Account, tok string, now time.Time) *domain.AuthSession {
	if tok == "" {
		return nil
	}
	for _, s := range acc.ActiveSessions(now) {
		if s.TokenHash != "" && token.Verify(tok, s.TokenHash) {
			return s
		}
	}
	return nil
}

// Identify implements SessionResolver. The token must also open the payload.
func (r *TokenResolver) Identify(acc *domain.Account, env *domain.Envelope, now time.Time) *domain.AuthSession {
	s := sessionByToken(acc, env.Token, now)
	if s == nil {
		return nil
	}
	if _, _, ok := openPayload(r.crypto, env.Data, s.Key); !ok {
		return nil
	}
	return s
}

// Resolve implements SessionResolver.
func (r *TokenResolver) Resolve(ctx context.Context, env *domain.Envelope, now time.Time) (*Resolution, error) {
	if env.Token == "" {
		return nil, domain.ErrTokenUnknown
	}
	var res *Resolution
	_, err := r.store.Update(ctx, env.Account, func(acc *domain.Account) error {
		s := sessionByToken(acc, env.Token, now)
		if s == nil {
			return domain.ErrTokenUnknown
		}
		plain, fields, ok := openPayload(r.crypto, env.Data, s.Key)
		if !ok {
			return domain.ErrNoSession
		}
		if err := s.AcceptNonce(domain.ExtractNonce(fields)); err != nil {
			return err
		}
		s.Touch(now)
		res = &Resolution{Session: s.Clone(), Plaintext: plain}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
