// Package adaptive wraps the two AEADs used to seal account records.
//
// AES-256-GCM is chosen where the CPU accelerates AES, ChaCha20-Poly1305
// elsewhere. Both take a 32-byte key and prepend a random nonce to the
// ciphertext, so the stored form is nonce || sealed || tag.
//
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(record, storageKey)
//	record, err := c.Decrypt(sealed, storageKey)
package adaptive
