package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
)

// CredentialStore is the durable owner of accounts and their sessions.
//
// Update reads the account fresh, applies fn, prunes expired sessions and
// rewrites the whole record. When fn returns an error nothing is written.
//
// @design DS-0106
type CredentialStore interface {
	FindAccount(ctx context.Context, name string) (*domain.Account, error)
	ActiveSessionsFor(ctx context.Context, name string, at time.Time) ([]*domain.AuthSession, error)
	Update(ctx context.Context, name string, fn func(*domain.Account) error) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
}

// KeyStore provides private keys by (account, tier). It is read-only.
type KeyStore interface {
	// PrivateKey returns the WIF key for the tier, if held.
	PrivateKey(account string, tier domain.Tier) (string, bool)

	// Accounts returns the names of all accounts with at least one key.
	Accounts() []string
}

// Crypto is the crypto adapter. Keys are passed as WIF strings and public
// keys as STM strings so callers never handle raw key material types.
type Crypto interface {
	Seal(plaintext []byte, passphrase string) (string, error)
	Open(ciphertext, passphrase string) ([]byte, error)
	SignBuffer(message []byte, wif string) (signature string, pubKey string, err error)
	EncodeMemo(wif, toPubKey, memo string) (string, error)
	DecodeMemo(wif, memo string) (string, error)
	PublicKey(wif string) (string, error)
}

// Broadcaster submits operations to the ledger and returns the transaction id.
type Broadcaster interface {
	Broadcast(ctx context.Context, ops json.RawMessage, wif string) (string, error)
}

// Link is the Dispatcher's view of the relay connection.
type Link interface {
	Send(ctx context.Context, env *domain.Envelope) error
	Handshake() *domain.Handshake
}

// Observer receives request outcomes, typically for metrics.
type Observer interface {
	ObserveRequest(cmd, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string) {}

// LowestKey returns the lowest-tier key held for account.
func LowestKey(keys KeyStore, account string) (domain.Tier, string, bool) {
	for _, tier := range domain.Tiers() {
		if wif, ok := keys.PrivateKey(account, tier); ok {
			return tier, wif, true
		}
	}
	return 0, "", false
}
