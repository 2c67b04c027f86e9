package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

var accountPrefix = []byte("account/")

func accountKey(name string) []byte {
	return append(append([]byte(nil), accountPrefix...), name...)
}

// CredentialStore persists one record per account holding all of its auth
// sessions. Every write rewrites the whole record after pruning expired
// sessions. Read-modify-write cycles are serialized, so a nonce watermark
// is never lost to a concurrent update.
//
// @design DS-0106
type CredentialStore struct {
	kv     KVEngine
	sealer *RecordSealer
	now    func() time.Time
	log    logger.Logger

	mu sync.Mutex
}

// Option configures a CredentialStore.
type Option func(*CredentialStore)

// WithSealer enables at-rest encryption of account records.
func WithSealer(s *RecordSealer) Option {
	return func(c *CredentialStore) { c.sealer = s }
}

// WithClock overrides the clock used for pruning.
func WithClock(now func() time.Time) Option {
	return func(c *CredentialStore) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *CredentialStore) { c.log = l }
}

// NewCredentialStore creates a CredentialStore over kv.
func NewCredentialStore(kv KVEngine, opts ...Option) *CredentialStore {
	c := &CredentialStore{kv: kv, now: time.Now, log: logger.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindAccount loads an account record.
func (c *CredentialStore) FindAccount(ctx context.Context, name string) (*domain.Account, error) {
	return c.load(ctx, name)
}

// ActiveSessionsFor returns the sessions of name that are unexpired at at.
func (c *CredentialStore) ActiveSessionsFor(ctx context.Context, name string, at time.Time) ([]*domain.AuthSession, error) {
	acc, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return acc.ActiveSessions(at), nil
}

// Update applies fn to a freshly read account and persists the result.
// Nothing is written when fn fails.
func (c *CredentialStore) Update(ctx context.Context, name string, fn func(*domain.Account) error) (*domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := fn(acc); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// UpsertSession stores session under name, replacing a session with the
// same id.
func (c *CredentialStore) UpsertSession(ctx context.Context, name string, session *domain.AuthSession) error {
	_, err := c.Update(ctx, name, func(acc *domain.Account) error {
		acc.Upsert(session.Clone())
		return nil
	})
	return err
}

// RevokeSession removes one session. It reports whether the session existed.
func (c *CredentialStore) RevokeSession(ctx context.Context, name, id string) (bool, error) {
	found := false
	_, err := c.Update(ctx, name, func(acc *domain.Account) error {
		kept := acc.Sessions[:0]
		for _, s := range acc.Sessions {
			if s.ID == id {
				found = true
				continue
			}
			kept = append(kept, s)
		}
		acc.Sessions = kept
		return nil
	})
	return found, err
}

// Persist writes acc as is, pruning expired sessions first.
func (c *CredentialStore) Persist(ctx context.Context, acc *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persist(ctx, acc.Clone())
}

// EnsureAccount creates an empty record for name unless one exists.
func (c *CredentialStore) EnsureAccount(ctx context.Context, name string) (*domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, err := c.load(ctx, name)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	acc, err = domain.NewAccount(name)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, acc); err != nil {
		return nil, err
	}
	c.log.Info("account record created", "account", name)
	return acc, nil
}

// ListAccounts returns every account ordered by name.
func (c *CredentialStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	var (
		out     []*domain.Account
		iterErr error
	)
	err := c.kv.Scan(ctx, accountPrefix, func(key, value []byte) bool {
		acc, err := c.decode(key, value)
		if err != nil {
			iterErr = err
			return false
		}
		out = append(out, acc)
		return true
	})
	if err != nil {
		return nil, domain.ErrStorage.WithCause(err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PruneExpired drops expired sessions from every account and returns how
// many were removed. Records without expired sessions are not rewritten.
func (c *CredentialStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, snapshot := range accounts {
		if len(snapshot.ActiveSessions(now)) == len(snapshot.Sessions) {
			continue
		}
		removed := 0
		_, err := c.Update(ctx, snapshot.Name, func(acc *domain.Account) error {
			removed = acc.PruneExpired(now)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += removed
	}
	if total > 0 {
		c.log.Info("expired sessions pruned", "count", total)
	}
	return total, nil
}

// Stats returns statistics of the underlying engine.
func (c *CredentialStore) Stats(ctx context.Context) (*KVStats, error) {
	return c.kv.Stats(ctx)
}

// Close closes the underlying engine.
func (c *CredentialStore) Close() error {
	return c.kv.Close()
}

func (c *CredentialStore) load(ctx context.Context, name string) (*domain.Account, error) {
	key := accountKey(name)
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrAccountNotFound.WithDetails(name)
		}
		return nil, domain.ErrStorage.WithCause(err)
	}
	return c.decode(key, raw)
}

func (c *CredentialStore) decode(key, raw []byte) (*domain.Account, error) {
	if IsSealed(raw) {
		if c.sealer == nil {
			return nil, domain.ErrRecordCorrupted.WithDetails("record is encrypted and no storage key is configured")
		}
		plain, err := c.sealer.Open(key, raw)
		if err != nil {
			return nil, domain.ErrRecordCorrupted.WithCause(err)
		}
		raw = plain
	}

	var acc domain.Account
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&acc); err != nil {
		return nil, domain.ErrRecordCorrupted.WithCause(err)
	}
	if !bytes.Equal(accountKey(acc.Name), key) {
		return nil, domain.ErrRecordCorrupted.WithDetails("account name does not match key")
	}
	return &acc, nil
}

func (c *CredentialStore) persist(ctx context.Context, acc *domain.Account) error {
	acc.PruneExpired(c.now())

	raw, err := json.Marshal(acc)
	if err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	key := accountKey(acc.Name)
	if c.sealer != nil {
		if raw, err = c.sealer.Seal(key, raw); err != nil {
			return domain.ErrStorage.WithCause(err)
		}
	}
	if err := c.kv.Set(ctx, key, raw); err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	return nil
}
