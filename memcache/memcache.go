// Package memcache provides an httpcache.Backend implementation that uses
// gomemcache to store cached entries.
package memcache

import (
	"context"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/internal/caslock"
)

// backend is a Backend implementation storing C6-serialized entries in a
// memcache server. The gomemcache client exposes CompareAndSwap via the Gets
// API (a "cas" token attached to each item), but since memcache treats values
// as opaque byte blobs and we already need a lock to safely run fn exactly
// once, Update uses a per-key local mutex rather than the Gets/CompareAndSwap
// round trip; this still leaves cross-process races possible, identical to
// the plain Set-based original.
type backend struct {
	client *memcache.Client
	locks  *caslock.KeyedMutex
}

func cacheKey(key string) string {
	return "httpcache:" + key
}

func (b *backend) Get(_ context.Context, key string) (*httpcache.Entry, error) {
	item, err := b.client.Get(cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("memcache get failed for key %q: %w", key, err)
	}
	return httpcache.DecodeEntry(key, item.Value)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	item := &memcache.Item{Key: cacheKey(key), Value: data}
	if err := b.client.Set(item); err != nil {
		return fmt.Errorf("memcache set failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(_ context.Context, key string) error {
	if err := b.client.Delete(cacheKey(key)); err != nil {
		if err == memcache.ErrCacheMiss {
			return nil
		}
		return fmt.Errorf("memcache delete failed for key %q: %w", key, err)
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
	mcKeys := make([]string, len(keys))
	orig := make(map[string]string, len(keys))
	for i, k := range keys {
		mk := cacheKey(k)
		mcKeys[i] = mk
		orig[mk] = k
	}
	items, err := b.client.GetMulti(mcKeys)
	if err != nil {
		return nil, fmt.Errorf("memcache get multi failed: %w", err)
	}
	out := make(map[string]*httpcache.Entry, len(items))
	for mk, item := range items {
		origKey := orig[mk]
		e, err := httpcache.DecodeEntry(origKey, item.Value)
		if err != nil || e == nil {
			continue
		}
		out[origKey] = e
	}
	return out, nil
}

// New returns a Backend using the provided memcache server(s) with equal
// weight. If a server is listed multiple times, it gets a proportional
// amount of weight.
func New(server ...string) httpcache.Backend {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a Backend using the given memcache client.
func NewWithClient(client *memcache.Client) httpcache.Backend {
	return &backend{client: client, locks: caslock.New()}
}
