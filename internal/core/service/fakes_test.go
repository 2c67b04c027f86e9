package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/pkg/crypto/hive"
)

// mockStore is an in-memory CredentialStore that serializes records the way
// a durable store does, so callers never share pointers with it.
type mockStore struct {
	mu      sync.Mutex
	records map[string][]byte
	now     func() time.Time
	writes  int
	failErr error
}

func newMockStore(now func() time.Time, accounts ...*domain.Account) *mockStore {
	s := &mockStore{records: make(map[string][]byte), now: now}
	for _, acc := range accounts {
		b, _ := json.Marshal(acc)
		s.records[acc.Name] = b
	}
	return s
}

func (m *mockStore) load(name string) (*domain.Account, error) {
	b, ok := m.records[name]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	var acc domain.Account
	if err := json.Unmarshal(b, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (m *mockStore) FindAccount(_ context.Context, name string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(name)
}

func (m *mockStore) ActiveSessionsFor(_ context.Context, name string, at time.Time) ([]*domain.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.load(name)
	if err != nil {
		return nil, err
	}
	return acc.ActiveSessions(at), nil
}

func (m *mockStore) Update(_ context.Context, name string, fn func(*domain.Account) error) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.load(name)
	if err != nil {
		return nil, err
	}
	if err := fn(acc); err != nil {
		return nil, err
	}
	if m.failErr != nil {
		return nil, m.failErr
	}
	acc.PruneExpired(m.now())
	b, _ := json.Marshal(acc)
	m.records[name] = b
	m.writes++
	return acc, nil
}

func (m *mockStore) ListAccounts(_ context.Context) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Account
	for name := range m.records {
		acc, _ := m.load(name)
		out = append(out, acc)
	}
	return out, nil
}

func (m *mockStore) account(t *testing.T, name string) *domain.Account {
	t.Helper()
	acc, err := m.FindAccount(context.Background(), name)
	if err != nil {
		t.Fatalf("FindAccount(%s) error = %v", name, err)
	}
	return acc
}

// mockKeys is a KeyStore backed by seed-derived keys.
type mockKeys map[string]map[domain.Tier]*hive.PrivateKey

func (k mockKeys) add(account string, tiers ...domain.Tier) mockKeys {
	if k[account] == nil {
		k[account] = make(map[domain.Tier]*hive.PrivateKey)
	}
	for _, tier := range tiers {
		k[account][tier] = hive.PrivateKeyFromSeed(account + tier.String())
	}
	return k
}

func (k mockKeys) PrivateKey(account string, tier domain.Tier) (string, bool) {
	key, ok := k[account][tier]
	if !ok {
		return "", false
	}
	return key.WIF(), true
}

func (k mockKeys) Accounts() []string {
	out := make([]string, 0, len(k))
	for name := range k {
		out = append(out, name)
	}
	return out
}

// mockLink records everything sent to the relay.
type mockLink struct {
	mu   sync.Mutex
	sent []*domain.Envelope
	hs   *domain.Handshake
	err  error
}

func newMockLink(relayKey string) *mockLink {
	hs := domain.NewHandshake(time.Now())
	if relayKey != "" {
		hs.SetRelayKey(relayKey)
	}
	return &mockLink{hs: hs}
}

func (l *mockLink) Send(_ context.Context, env *domain.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.sent = append(l.sent, env)
	return nil
}

func (l *mockLink) Handshake() *domain.Handshake { return l.hs }

func (l *mockLink) messages() []*domain.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*domain.Envelope(nil), l.sent...)
}

// mockChain records broadcasts.
type mockChain struct {
	calls int
	wif   string
	txID  string
	err   error
}

func (c *mockChain) Broadcast(_ context.Context, _ json.RawMessage, wif string) (string, error) {
	c.calls++
	c.wif = wif
	if c.err != nil {
		return "", c.err
	}
	return c.txID, nil
}

var errBroadcast = errors.New("node unreachable")

func mustSeal(t *testing.T, v any, key string) string {
	t.Helper()
	var plain []byte
	if s, ok := v.(string); ok {
		plain = []byte(s)
	} else {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		plain = b
	}
	out, err := hive.Seal(plain, key)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	return out
}

func mustOpen(t *testing.T, data, key string) string {
	t.Helper()
	out, err := hive.Open(data, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return string(out)
}

func accountWithSessions(t *testing.T, name string, sessions ...*domain.AuthSession) *domain.Account {
	t.Helper()
	acc, err := domain.NewAccount(name)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sessions {
		acc.Upsert(s)
	}
	return acc
}

func sessionWithKey(t *testing.T, key string, now time.Time, ttl time.Duration) *domain.AuthSession {
	t.Helper()
	s, err := domain.NewAuthSession(key, "test-app", now, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
