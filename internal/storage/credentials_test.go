package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/storage/memory"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func newMemoryStore(t *testing.T, opts ...Option) (*CredentialStore, KVEngine) {
	t.Helper()
	kv := &memoryKV{Engine: memory.New()}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewCredentialStore(kv, opts...), kv
}

func newSession(t *testing.T, key string, created time.Time, ttl time.Duration) *domain.AuthSession {
	t.Helper()
	s, err := domain.NewAuthSession(key, "test-app", created, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCredentialStore_EnsureAndFind(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	if _, err := store.FindAccount(ctx, "alice"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("FindAccount(missing) error = %v, want ErrAccountNotFound", err)
	}

	if _, err := store.EnsureAccount(ctx, "alice"); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	if err := store.UpsertSession(ctx, "alice", newSession(t, "k1", testNow, time.Hour)); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	// A second EnsureAccount must not reset the record.
	acc, err := store.EnsureAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(acc.Sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(acc.Sessions))
	}

	if _, err := store.EnsureAccount(ctx, "Not Valid"); !errors.Is(err, domain.ErrInvalidAccountName) {
		t.Errorf("EnsureAccount(invalid) error = %v, want ErrInvalidAccountName", err)
	}
}

func TestCredentialStore_PersistPrunesCopy(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	acc, err := domain.NewAccount("alice")
	if err != nil {
		t.Fatal(err)
	}
	acc.Upsert(newSession(t, "live", testNow, time.Hour))
	acc.Upsert(newSession(t, "stale", testNow.Add(-2*time.Hour), time.Hour))

	if err := store.Persist(ctx, acc); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(acc.Sessions) != 2 {
		t.Errorf("caller's account modified: %d sessions", len(acc.Sessions))
	}

	stored, err := store.FindAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Sessions) != 1 || stored.Sessions[0].Key != "live" {
		t.Errorf("stored sessions = %+v, want only the live one", stored.Sessions)
	}
}

func TestCredentialStore_UpdatePrunesAndIsAtomic(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	_, _ = store.EnsureAccount(ctx, "alice")
	_ = store.UpsertSession(ctx, "alice", newSession(t, "live", testNow, time.Hour))
	_ = store.UpsertSession(ctx, "alice", newSession(t, "stale", testNow.Add(-2*time.Hour), time.Hour))

	acc, _ := store.FindAccount(ctx, "alice")
	if len(acc.Sessions) != 1 || acc.Sessions[0].Key != "live" {
		t.Fatalf("persist should prune expired sessions, got %+v", acc.Sessions)
	}

	boom := errors.New("boom")
	_, err := store.Update(ctx, "alice", func(a *domain.Account) error {
		a.Sessions[0].Nonce = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want boom", err)
	}
	acc, _ = store.FindAccount(ctx, "alice")
	if acc.Sessions[0].Nonce != 0 {
		t.Error("a failed update must not be written")
	}

	if _, err := store.Update(ctx, "bob", func(*domain.Account) error { return nil }); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrAccountNotFound", err)
	}
}

func TestCredentialStore_ActiveSessionsFor(t *testing.T) {
	store, kv := newMemoryStore(t)
	ctx := context.Background()

	// Written by hand so the expired session survives in the record.
	acc, _ := domain.NewAccount("alice")
	acc.Upsert(newSession(t, "live", testNow, time.Hour))
	acc.Upsert(newSession(t, "old", testNow.Add(-2*time.Hour), time.Hour))
	raw, _ := json.Marshal(acc)
	_ = kv.Set(ctx, accountKey("alice"), raw)

	sessions, err := store.ActiveSessionsFor(ctx, "alice", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Key != "live" {
		t.Errorf("ActiveSessionsFor = %+v", sessions)
	}

	n, err := store.PruneExpired(ctx, testNow)
	if err != nil || n != 1 {
		t.Errorf("PruneExpired = %d, %v, want 1", n, err)
	}
	if n, _ := store.PruneExpired(ctx, testNow); n != 0 {
		t.Errorf("second PruneExpired = %d, want 0", n)
	}
}

func TestCredentialStore_RevokeAndList(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	for _, name := range []string{"carol", "alice"} {
		_, _ = store.EnsureAccount(ctx, name)
	}
	s := newSession(t, "k", testNow, time.Hour)
	_ = store.UpsertSession(ctx, "alice", s)

	ok, err := store.RevokeSession(ctx, "alice", s.ID)
	if err != nil || !ok {
		t.Fatalf("RevokeSession = %v, %v", ok, err)
	}
	if ok, _ := store.RevokeSession(ctx, "alice", s.ID); ok {
		t.Error("revoking twice should report false")
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].Name != "alice" || accounts[1].Name != "carol" {
		t.Errorf("ListAccounts = %v", accounts)
	}
}

func TestCredentialStore_CorruptedRecord(t *testing.T) {
	store, kv := newMemoryStore(t)
	ctx := context.Background()

	_ = kv.Set(ctx, accountKey("alice"), []byte("{not json"))
	if _, err := store.FindAccount(ctx, "alice"); !errors.Is(err, domain.ErrRecordCorrupted) {
		t.Errorf("FindAccount error = %v, want ErrRecordCorrupted", err)
	}

	_ = kv.Set(ctx, accountKey("bob"), []byte(`{"name":"alice","auths":[]}`))
	if _, err := store.FindAccount(ctx, "bob"); !errors.Is(err, domain.ErrRecordCorrupted) {
		t.Errorf("mismatched name error = %v, want ErrRecordCorrupted", err)
	}
}

func TestCredentialStore_SealedRecords(t *testing.T) {
	ctx := context.Background()
	kv := &memoryKV{Engine: memory.New()}

	sealer, err := NewRecordSealer(ctx, kv, "correct horse battery")
	if err != nil {
		t.Fatalf("NewRecordSealer: %v", err)
	}
	store := NewCredentialStore(kv, WithSealer(sealer), WithClock(func() time.Time { return testNow }))
	_, _ = store.EnsureAccount(ctx, "alice")
	_ = store.UpsertSession(ctx, "alice", newSession(t, "secret-session-key", testNow, time.Hour))

	raw, _ := kv.Get(ctx, accountKey("alice"))
	if !IsSealed(raw) || bytes.Contains(raw, []byte("secret-session-key")) {
		t.Fatal("record should be sealed at rest")
	}

	// Same key, fresh sealer: the check record must open.
	again, err := NewRecordSealer(ctx, kv, "correct horse battery")
	if err != nil {
		t.Fatalf("reopen with the same key: %v", err)
	}
	acc, err := NewCredentialStore(kv, WithSealer(again)).FindAccount(ctx, "alice")
	if err != nil || acc.Sessions[0].Key != "secret-session-key" {
		t.Fatalf("FindAccount = %+v, %v", acc, err)
	}

	if _, err := NewRecordSealer(ctx, kv, "wrong passphrase"); !errors.Is(err, ErrWrongKey) {
		t.Errorf("wrong key error = %v, want ErrWrongKey", err)
	}

	if _, err := NewCredentialStore(kv).FindAccount(ctx, "alice"); !errors.Is(err, domain.ErrRecordCorrupted) {
		t.Errorf("sealed record without sealer error = %v, want ErrRecordCorrupted", err)
	}

	// A record moved under another account's key fails authentication.
	_ = kv.Set(ctx, accountKey("bob"), raw)
	if _, err := store.FindAccount(ctx, "bob"); !errors.Is(err, domain.ErrRecordCorrupted) {
		t.Errorf("swapped record error = %v, want ErrRecordCorrupted", err)
	}
}

func TestNewRecordSealer_WeakKey(t *testing.T) {
	kv := &memoryKV{Engine: memory.New()}
	if _, err := NewRecordSealer(context.Background(), kv, "short"); !errors.Is(err, ErrPassphraseTooWeak) {
		t.Errorf("error = %v, want ErrPassphraseTooWeak", err)
	}
}

func TestOpen_Engines(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Engine: EngineMemory})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, err := store.EnsureAccount(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	stats, _ := store.Stats(ctx)
	if stats.TotalKeys != 1 {
		t.Errorf("TotalKeys = %d, want 1", stats.TotalKeys)
	}
	_ = store.Close()

	if _, err := Open(ctx, Config{Engine: "pebble"}); err == nil {
		t.Error("unknown engine should fail")
	}
	if _, err := Open(ctx, Config{Engine: EngineBadger}); err == nil {
		t.Error("badger without data_dir should fail")
	}

	dir := t.TempDir()
	store, err = Open(ctx, Config{DataDir: dir, EncryptionKey: "at-rest-passphrase", Badger: BadgerConfig{GCInterval: "1h", GCThreshold: 0.5}})
	if err != nil {
		t.Fatalf("Open(badger): %v", err)
	}
	_, _ = store.EnsureAccount(ctx, "alice")
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = Open(ctx, Config{DataDir: dir, EncryptionKey: "at-rest-passphrase"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if _, err := store.FindAccount(ctx, "alice"); err != nil {
		t.Errorf("FindAccount after reopen: %v", err)
	}
}
