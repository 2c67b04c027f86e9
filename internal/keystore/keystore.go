// Package keystore loads the agent's private keys.
//
// Keys are read once at startup from a YAML or JSON file:
//
//	accounts:
//	  - name: alice
//	    posting: 5K...
//	    memo: 5J...
//
// and are only ever handed out by (account, tier). The file is never
// written back.
package keystore

import (
	"fmt"
	"sort"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/infra/confloader"
	"github.com/yndnr/pksa-go/pkg/crypto/hive"
)

// Entry is one account in the key file. Empty tiers are not held.
type Entry struct {
	Name    string `koanf:"name"`
	Memo    string `koanf:"memo"`
	Posting string `koanf:"posting"`
	Active  string `koanf:"active"`
}

type keyFile struct {
	Accounts []Entry `koanf:"accounts"`
}

// Store holds parsed private keys. It is immutable after construction and
// safe for concurrent use.
type Store struct {
	keys  map[string]map[domain.Tier]*hive.PrivateKey
	names []string
}

// Load reads and parses the key file at path.
func Load(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("keystore: keys.file is required")
	}
	loader := confloader.NewLoader()
	if err := loader.LoadFile(path); err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	var f keyFile
	if err := loader.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("keystore: decode %s: %w", path, err)
	}
	return New(f.Accounts)
}

// New builds a Store from entries. Every non-empty key must be a valid WIF
// and account names must be unique.
func New(entries []Entry) (*Store, error) {
	s := &Store{keys: make(map[string]map[domain.Tier]*hive.PrivateKey)}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("keystore: account #%d has no name", i+1)
		}
		if _, dup := s.keys[e.Name]; dup {
			return nil, fmt.Errorf("keystore: duplicate account %q", e.Name)
		}

		tiers := make(map[domain.Tier]*hive.PrivateKey)
		for tier, wif := range map[domain.Tier]string{
			domain.TierMemo:    e.Memo,
			domain.TierPosting: e.Posting,
			domain.TierActive:  e.Active,
		} {
			if wif == "" {
				continue
			}
			key, err := hive.ParseWIF(wif)
			if err != nil {
				return nil, fmt.Errorf("keystore: account %q %s key: %w", e.Name, tier, err)
			}
			tiers[tier] = key
		}
		if len(tiers) == 0 {
			return nil, fmt.Errorf("keystore: account %q holds no keys", e.Name)
		}

		s.keys[e.Name] = tiers
		s.names = append(s.names, e.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// PrivateKey returns the WIF key held for (account, tier).
func (s *Store) PrivateKey(account string, tier domain.Tier) (string, bool) {
	key, ok := s.keys[account][tier]
	if !ok {
		return "", false
	}
	return key.WIF(), true
}

// Accounts returns the account names in sorted order.
func (s *Store) Accounts() []string {
	return append([]string(nil), s.names...)
}

// PublicKeys returns the public key of every tier held for account.
func (s *Store) PublicKeys(account string) map[domain.Tier]string {
	out := make(map[domain.Tier]string, len(s.keys[account]))
	for tier, key := range s.keys[account] {
		out[tier] = key.PublicKey().String()
	}
	return out
}
