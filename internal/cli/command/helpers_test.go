package command

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/server/httpserver/handler"
	"github.com/yndnr/pksa-go/internal/storage"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
	"github.com/yndnr/pksa-go/pkg/crypto/hive"
)

func nopLogger(t *testing.T) logger.Logger {
	t.Helper()
	l, err := logger.New(logger.Config{Level: "error", Output: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// writeKeyFile writes a key file holding alice (posting, memo) and bob (memo).
func writeKeyFile(t *testing.T, dir string) string {
	t.Helper()
	body := "accounts:\n" +
		"  - name: alice\n" +
		"    posting: " + hive.PrivateKeyFromSeed("alice-posting").WIF() + "\n" +
		"    memo: " + hive.PrivateKeyFromSeed("alice-memo").WIF() + "\n" +
		"  - name: bob\n" +
		"    memo: " + hive.PrivateKeyFromSeed("bob-memo").WIF() + "\n"
	path := filepath.Join(dir, "keys.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeConfig writes an agent config using the memory engine and an
// unreachable relay.
func writeConfig(t *testing.T, dir, adminAddr string) string {
	t.Helper()
	body := "relay:\n" +
		"  address: ws://127.0.0.1:1\n" +
		"  reconnect_delay: 50ms\n" +
		"storage:\n" +
		"  engine: memory\n" +
		"  encryption_key: correct-horse-battery\n" +
		"security:\n" +
		"  auth_req_secret: shared-app-secret\n" +
		"keys:\n" +
		"  file: " + writeKeyFile(t, dir) + "\n" +
		"admin:\n" +
		"  address: \"" + adminAddr + "\"\n" +
		"log:\n" +
		"  level: error\n"
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// runApp runs the CLI with args and captures its output.
func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"pksa-agent"}, args...))
	return out.String(), errOut.String(), err
}

// adminServer serves the real admin handler over a memory store holding
// alice with one live and one expired session.
func adminServer(t *testing.T) (*httptest.Server, *storage.CredentialStore) {
	t.Helper()
	ctx := context.Background()
	past := time.Now().Add(-72 * time.Hour)

	store, err := storage.Open(ctx, storage.Config{Engine: storage.EngineMemory, Logger: nopLogger(t)},
		storage.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	live, _ := domain.NewAuthSession("k-live", "peakd", time.Now(), time.Hour)
	old, _ := domain.NewAuthSession("k-old", "ecency", past, time.Hour)
	if _, err := store.EnsureAccount(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*domain.AuthSession{live, old} {
		if err := store.UpsertSession(ctx, "alice", s); err != nil {
			t.Fatal(err)
		}
	}

	h := handler.New(handler.Deps{
		Store:      store,
		RelayState: func() string { return "ready" },
		Logger:     nopLogger(t),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, store
}
