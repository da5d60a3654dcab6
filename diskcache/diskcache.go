// Package diskcache provides an httpcache.Backend implementation that uses
// the diskv package to persist entries as files on disk.
package diskcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/peterbourgon/diskv"

	"github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/internal/caslock"
)

// backend is a Backend implementation storing C6-serialized entries as
// files under a diskv-managed directory tree. Like LevelDB, a diskv store
// is single-process, so a per-key mutex is a faithful CAS emulation.
type backend struct {
	d     *diskv.Diskv
	locks *caslock.KeyedMutex
}

func keyToFilename(key string) string {
	h := sha256.New()
	//nolint:errcheck // io.WriteString to hash.Hash never fails
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

func (b *backend) Get(_ context.Context, key string) (*httpcache.Entry, error) {
	data, err := b.d.Read(keyToFilename(key))
	if err != nil {
		return nil, nil
	}
	return httpcache.DecodeEntry(key, data)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	if err := b.d.WriteStream(keyToFilename(key), bytes.NewReader(data), true); err != nil {
		return fmt.Errorf("diskcache put failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(_ context.Context, key string) error {
	if err := b.d.Erase(keyToFilename(key)); err != nil {
		return nil //nolint:nilerr // file not found is not an error for Remove
	}
	return nil
}

func (b *backend) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	unlock := b.locks.Lock(key)
	defer unlock()

	current, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if current == nil {
			return nil, nil
		}
		return nil, b.Remove(ctx, key)
	}
	if err := b.Put(ctx, key, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (b *backend) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	out := make(map[string]*httpcache.Entry, len(keys))
	for _, k := range keys {
		e, err := b.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out[k] = e
		}
	}
	return out, nil
}

// New returns a Backend that stores files under basePath.
func New(basePath string) httpcache.Backend {
	return &backend{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			CacheSizeMax: 100 * 1024 * 1024,
		}),
		locks: caslock.New(),
	}
}

// NewWithDiskv returns a Backend using the provided Diskv as underlying
// storage.
func NewWithDiskv(d *diskv.Diskv) httpcache.Backend {
	return &backend{d: d, locks: caslock.New()}
}
