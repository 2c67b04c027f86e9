package hive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
)

// Memo errors.
var (
	ErrMemoMalformed = errors.New("hive: malformed memo")
	ErrMemoChecksum  = errors.New("hive: memo checksum mismatch")
)

const memoHeaderLen = 33 + 33 + 8 + 4

// EncodeMemo encrypts memo from key to the holder of to. Memos that do not
// start with "#" are returned unchanged, as hive-js does.
func EncodeMemo(key *PrivateKey, to *PublicKey, memo string) (string, error) {
	if !strings.HasPrefix(memo, "#") {
		return memo, nil
	}
	body := memo[1:]

	var nonceBuf [8]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return "", err
	}
	nonce := binary.LittleEndian.Uint64(nonceBuf[:])

	encKey := memoKey(key, to, nonce)
	plain := binary.AppendUvarint(nil, uint64(len(body)))
	plain = append(plain, body...)
	encrypted, err := cbcEncrypt(encKey[:32], encKey[32:48], plain)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, memoHeaderLen+binary.MaxVarintLen32+len(encrypted))
	buf = append(buf, key.PublicKey().Bytes()...)
	buf = append(buf, to.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, nonce)
	buf = binary.LittleEndian.AppendUint32(buf, memoCheck(encKey))
	buf = binary.AppendUvarint(buf, uint64(len(encrypted)))
	buf = append(buf, encrypted...)
	return "#" + base58.Encode(buf), nil
}

// DecodeMemo decrypts a memo addressed from or to key. The result keeps the
// leading "#".
func DecodeMemo(key *PrivateKey, memo string) (string, error) {
	if !strings.HasPrefix(memo, "#") {
		return memo, nil
	}
	raw, err := base58.Decode(memo[1:])
	if err != nil || len(raw) < memoHeaderLen+1 {
		return "", ErrMemoMalformed
	}

	from, to := raw[:33], raw[33:66]
	nonce := binary.LittleEndian.Uint64(raw[66:74])
	check := binary.LittleEndian.Uint32(raw[74:78])
	size, n := binary.Uvarint(raw[78:])
	if n <= 0 || uint64(len(raw)-78-n) != size {
		return "", ErrMemoMalformed
	}
	encrypted := raw[78+n:]

	other := from
	if bytes.Equal(key.PublicKey().Bytes(), from) {
		other = to
	}
	otherKey, err := secp256k1.ParsePubKey(other)
	if err != nil {
		return "", ErrMemoMalformed
	}

	encKey := memoKey(key, &PublicKey{key: otherKey}, nonce)
	if memoCheck(encKey) != check {
		return "", ErrMemoChecksum
	}
	plain, err := cbcDecrypt(encKey[:32], encKey[32:48], encrypted)
	if err != nil {
		return "", err
	}

	if l, n := binary.Uvarint(plain); n > 0 && uint64(len(plain)-n) == l {
		return "#" + string(plain[n:]), nil
	}
	return "#" + string(plain), nil
}

// memoKey derives sha512(nonce_le || sha512(ecdh_x)).
func memoKey(key *PrivateKey, pub *PublicKey, nonce uint64) [64]byte {
	shared := sha512.Sum512(secp256k1.GenerateSharedSecret(key.key, pub.key))
	buf := binary.LittleEndian.AppendUint64(make([]byte, 0, 8+len(shared)), nonce)
	buf = append(buf, shared[:]...)
	return sha512.Sum512(buf)
}

func memoCheck(encKey [64]byte) uint32 {
	sum := sha256.Sum256(encKey[:])
	return binary.LittleEndian.Uint32(sum[:4])
}

func cbcEncrypt(key, iv, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func cbcDecrypt(key, iv, encrypted []byte) ([]byte, error) {
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, ErrMemoMalformed
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, encrypted)

	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, ErrMemoMalformed
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, ErrMemoMalformed
		}
	}
	return out[:len(out)-pad], nil
}
