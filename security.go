// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost/size parameters for deriving the AES-256 key from a
// WithEncryption passphrase, and the fixed nonce length this module always
// writes. The salt is fixed rather than random-per-entry: the same
// passphrase must keep deriving the same key across process restarts, or a
// previously sealed entry becomes unreadable; storage-key hashing already
// keeps the backend's own keyspace from leaking the cleartext cache key.
const (
	scryptN        = 32768
	scryptR        = 8
	scryptP        = 1
	keyLength      = 32
	nonceSize      = 12
	encryptionSalt = "httpcache-entry-seal-v1"
)

// securityConfig holds the encryption state a Transport attaches to its
// Backend once WithEncryption is applied.
type securityConfig struct {
	gcm        cipher.AEAD
	passphrase string
}

// hashKey reduces a cache key to its SHA-256 hex digest before it reaches a
// storage backend, so the backend's own keyspace never carries the
// cleartext request URL.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// initEncryption derives an AES-256 key from passphrase via scrypt and
// returns the resulting AES-256-GCM AEAD.
func initEncryption(passphrase string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte(encryptionSalt))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("httpcache: deriving encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("httpcache: building AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("httpcache: building GCM mode: %w", err)
	}

	return gcm, nil
}

// encrypt seals data under gcm, prepending a freshly generated nonce to the
// ciphertext. A nil gcm (encryption disabled) passes data through unchanged.
func encrypt(gcm cipher.AEAD, data []byte) ([]byte, error) {
	if gcm == nil {
		return data, nil
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("httpcache: generating GCM nonce: %w", err)
	}

	// #nosec G407 -- nonce is freshly random from crypto/rand above, not hardcoded
	return gcm.Seal(nonce, nonce, data, nil), nil
}

// decrypt reverses encrypt: it splits the leading nonce off data and opens
// the remainder under gcm. A nil gcm passes data through unchanged.
func decrypt(gcm cipher.AEAD, data []byte) ([]byte, error) {
	if gcm == nil {
		return data, nil
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("httpcache: sealed entry shorter than nonce size")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("httpcache: opening sealed entry: %w", err)
	}
	return plaintext, nil
}
