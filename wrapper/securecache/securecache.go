// Package securecache provides a standalone security decorator for any
// httpcache.Backend: SHA-256 storage-key hashing (always on) plus optional
// AES-256-GCM payload encryption, for callers composing a backend directly
// rather than going through httpcache.NewTransport's WithEncryption option.
package securecache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/rfc9111/httpcache"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
)

const sealedHeaderName = "hc-sealed"

// SecureCache wraps a Backend, hashing every storage key with SHA-256 and,
// when a passphrase is configured, sealing every entry's serialized form
// with AES-256-GCM before it reaches the wrapped backend.
type SecureCache struct {
	backend httpcache.Backend
	gcm     cipher.AEAD
}

// Config holds the configuration for creating a SecureCache.
type Config struct {
	// Backend is the underlying store to wrap (required).
	Backend httpcache.Backend
	// Passphrase is the secret used to derive the AES-256 key. If empty,
	// only key hashing is performed.
	Passphrase string
}

// New creates a SecureCache wrapping config.Backend.
func New(config Config) (*SecureCache, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	sc := &SecureCache{backend: config.Backend}
	if config.Passphrase != "" {
		gcm, err := deriveGCM(config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
		sc.gcm = gcm
	}
	return sc, nil
}

func deriveGCM(passphrase string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte("httpcache-securecache-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (sc *SecureCache) hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (sc *SecureCache) encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, sc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return sc.gcm.Seal(nonce, nonce, data, nil), nil
}

func (sc *SecureCache) decrypt(data []byte) ([]byte, error) {
	if len(data) < sc.gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:sc.gcm.NonceSize()], data[sc.gcm.NonceSize():]
	plaintext, err := sc.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (sc *SecureCache) seal(ctx context.Context, key string, e *httpcache.Entry) (*httpcache.Entry, error) {
	if e == nil {
		return nil, nil
	}
	plain, err := httpcache.EncodeEntry(ctx, key, e)
	if err != nil {
		return nil, fmt.Errorf("securecache: encoding entry: %w", err)
	}
	if sc.gcm == nil {
		return &httpcache.Entry{Kind: httpcache.KindResource, Resource: httpcache.NewBytesResource(plain)}, nil
	}
	ciphertext, err := sc.encrypt(plain)
	if err != nil {
		return nil, err
	}
	return &httpcache.Entry{
		Kind:     httpcache.KindResource,
		Headers:  httpcache.Headers{{Name: sealedHeaderName, Value: "1"}},
		Resource: httpcache.NewBytesResource(ciphertext),
	}, nil
}

func (sc *SecureCache) unseal(ctx context.Context, key string, wrapper *httpcache.Entry) (*httpcache.Entry, error) {
	if wrapper == nil || wrapper.Resource == nil {
		return nil, nil
	}
	raw, err := httpcache.ReadAll(ctx, wrapper.Resource)
	if err != nil {
		return nil, fmt.Errorf("securecache: reading wrapper: %w", err)
	}
	plain := raw
	if sc.gcm != nil {
		plain, err = sc.decrypt(raw)
		if err != nil {
			httpcache.GetLogger().Warn("securecache: failed to decrypt cached data", "key", key, "error", err)
			return nil, err
		}
	}
	return httpcache.DecodeEntry(key, plain)
}

// Get retrieves and, if encryption is enabled, decrypts a cached entry.
func (sc *SecureCache) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	hashed := sc.hashKey(key)
	wrapper, err := sc.backend.Get(ctx, hashed)
	if err != nil || wrapper == nil {
		return nil, err
	}
	return sc.unseal(ctx, key, wrapper)
}

// Put seals and stores entry under the hashed key.
func (sc *SecureCache) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	wrapper, err := sc.seal(ctx, key, entry)
	if err != nil {
		return err
	}
	return sc.backend.Put(ctx, sc.hashKey(key), wrapper)
}

// Remove deletes the entry stored under the hashed key.
func (sc *SecureCache) Remove(ctx context.Context, key string) error {
	return sc.backend.Remove(ctx, sc.hashKey(key))
}

// Update applies fn against the decrypted current entry and reseals the result.
func (sc *SecureCache) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	hashed := sc.hashKey(key)
	var result *httpcache.Entry
	_, err := sc.backend.Update(ctx, hashed, func(currentWrapper *httpcache.Entry) (*httpcache.Entry, error) {
		current, uerr := sc.unseal(ctx, key, currentWrapper)
		if uerr != nil {
			return nil, uerr
		}
		next, ferr := fn(current)
		if ferr != nil {
			return nil, ferr
		}
		result = next
		if next == nil {
			return nil, nil
		}
		return sc.seal(ctx, key, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BulkGet retrieves and decrypts multiple entries at once.
func (sc *SecureCache) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	hashed := make([]string, len(keys))
	byHash := make(map[string]string, len(keys))
	for i, k := range keys {
		h := sc.hashKey(k)
		hashed[i] = h
		byHash[h] = k
	}
	wrapped, err := sc.backend.BulkGet(ctx, hashed)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*httpcache.Entry, len(wrapped))
	for h, wrapper := range wrapped {
		orig := byHash[h]
		e, err := sc.unseal(ctx, orig, wrapper)
		if err != nil || e == nil {
			continue
		}
		out[orig] = e
	}
	return out, nil
}

// IsEncrypted reports whether this SecureCache was configured with a
// passphrase and therefore encrypts entries, or only hashes keys.
func (sc *SecureCache) IsEncrypted() bool {
	return sc.gcm != nil
}
