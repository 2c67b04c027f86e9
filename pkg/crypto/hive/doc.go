// Package hive implements the Hive/HiveAuth crypto formats the relay
// ecosystem expects.
//
// Formats:
//
//   - Seal/Open: CryptoJS-compatible passphrase AES (OpenSSL "Salted__",
//     EVP_BytesToKey with MD5, AES-256-CBC, base64)
//   - SignBuffer: secp256k1 compact recoverable signature over sha256(msg), hex
//   - EncodeMemo/DecodeMemo: Graphene encrypted memos ("#" + base58)
//   - Keys: WIF private keys and STM-prefixed public keys
//
// Byte layouts are a compatibility contract with hive-js and the HAS relay;
// none of them is a free design choice.
package hive
