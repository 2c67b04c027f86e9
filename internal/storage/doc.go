// Package storage persists accounts and their auth sessions.
//
// One record per account lives under "account/<name>" in an embedded
// key-value engine:
//
//   - badger: durable, the default; writes are synced so an advanced nonce
//     watermark survives a crash
//   - memory: volatile, for tests and throwaway agents
//
// With storage.encryption_key set, records are sealed with a key derived
// by Argon2id and HKDF and bound to their storage key. A wrong key is
// detected at open time through a check record.
//
// @design DS-0106
package storage
