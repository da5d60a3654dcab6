package httpcache

import (
	"context"
	"fmt"
)

// sealedHeaderName marks a wrapper entry's single header: a container the
// encrypting backend uses to carry ciphertext through a Backend that only
// knows how to store *Entry values. Any real entry's own headers never
// survive under this name, since PrepareForStorage never emits it.
const sealedHeaderName = "hc-sealed"

// encryptingBackend wraps another Backend so that every entry crosses into
// it as AES-256-GCM ciphertext (keyed by passphrase, per security.go) and
// the storage key itself is hashed before it ever reaches the wrapped
// backend, rather than kept in cleartext (§4.6 names storage-key privacy as
// an implementation concern, not a wire-format one). It composes with any
// Backend — memory, redis, disk, ... — since the wrapped backend still only
// ever sees opaque *Entry containers.
type encryptingBackend struct {
	inner    Backend
	security *securityConfig
}

// newEncryptingBackend returns inner unchanged if security is nil or
// carries no cipher, so callers can wrap unconditionally.
func newEncryptingBackend(inner Backend, security *securityConfig) Backend {
	if security == nil || security.gcm == nil {
		return inner
	}
	return &encryptingBackend{inner: inner, security: security}
}

func (b *encryptingBackend) seal(key string, e *Entry) (*Entry, error) {
	if e == nil {
		return nil, nil
	}
	plain, err := EncodeEntry(context.Background(), key, e)
	if err != nil {
		return nil, fmt.Errorf("httpcache: encoding entry for encryption: %w", err)
	}
	cipher, err := encrypt(b.security.gcm, plain)
	if err != nil {
		return nil, fmt.Errorf("httpcache: encrypting entry: %w", err)
	}
	wrapper := &Entry{
		Kind:     KindResource,
		Headers:  Headers{{Name: sealedHeaderName, Value: "1"}},
		Resource: NewBytesResource(cipher),
	}
	return wrapper, nil
}

func (b *encryptingBackend) unseal(key string, wrapper *Entry) (*Entry, error) {
	if wrapper == nil || wrapper.Resource == nil {
		return nil, nil
	}
	cipher, err := ReadAll(context.Background(), wrapper.Resource)
	if err != nil {
		return nil, fmt.Errorf("httpcache: reading sealed entry: %w", err)
	}
	plain, err := decrypt(b.security.gcm, cipher)
	if err != nil {
		return nil, fmt.Errorf("httpcache: decrypting entry: %w", err)
	}
	return DecodeEntry(key, plain)
}

func (b *encryptingBackend) Get(ctx context.Context, key string) (*Entry, error) {
	storageKey := hashKey(key)
	wrapper, err := b.inner.Get(ctx, storageKey)
	if err != nil || wrapper == nil {
		return nil, err
	}
	return b.unseal(key, wrapper)
}

func (b *encryptingBackend) Put(ctx context.Context, key string, entry *Entry) error {
	wrapper, err := b.seal(key, entry)
	if err != nil {
		return err
	}
	return b.inner.Put(ctx, hashKey(key), wrapper)
}

func (b *encryptingBackend) Remove(ctx context.Context, key string) error {
	return b.inner.Remove(ctx, hashKey(key))
}

func (b *encryptingBackend) Update(ctx context.Context, key string, fn UpdateFunc) (*Entry, error) {
	storageKey := hashKey(key)
	var result *Entry
	_, err := b.inner.Update(ctx, storageKey, func(currentWrapper *Entry) (*Entry, error) {
		current, uerr := b.unseal(key, currentWrapper)
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
		return b.seal(key, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *encryptingBackend) BulkGet(ctx context.Context, keys []string) (map[string]*Entry, error) {
	hashed := make([]string, len(keys))
	byHash := make(map[string]string, len(keys))
	for i, k := range keys {
		h := hashKey(k)
		hashed[i] = h
		byHash[h] = k
	}
	wrapped, err := b.inner.BulkGet(ctx, hashed)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Entry, len(wrapped))
	for h, wrapper := range wrapped {
		orig := byHash[h]
		e, err := b.unseal(orig, wrapper)
		if err != nil || e == nil {
			continue
		}
		out[orig] = e
	}
	return out, nil
}
