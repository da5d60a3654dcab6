// Package hazelcast provides a Hazelcast-backed httpcache.Backend
// implementation.
package hazelcast

import (
	"context"
	"fmt"

	"github.com/hazelcast/hazelcast-go-client"

	"github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/internal/caslock"
)

// backend is a Backend implementation storing C6-serialized entries in a
// Hazelcast IMap. The basic Map client has no compare-and-swap primitive
// exposed through this library's API, so Update serializes per-key through
// a local mutex; multiple processes sharing the same map can still race on
// Update, same as the original Cache did on its Set/Delete pair.
type backend struct {
	m   *hazelcast.Map
	ctx context.Context

	locks *caslock.KeyedMutex
}

func cacheKey(key string) string {
	return "httpcache:" + key
}

func (b *backend) resolveCtx(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return b.ctx
}

func (b *backend) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	ctx = b.resolveCtx(ctx)
	val, err := b.m.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, fmt.Errorf("hazelcast get failed for key %q: %w", key, err)
	}
	if val == nil {
		return nil, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, nil
	}
	return httpcache.DecodeEntry(key, data)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	ctx = b.resolveCtx(ctx)
	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	if err := b.m.Set(ctx, cacheKey(key), data); err != nil {
		return fmt.Errorf("hazelcast put failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(ctx context.Context, key string) error {
	ctx = b.resolveCtx(ctx)
	if _, err := b.m.Remove(ctx, cacheKey(key)); err != nil {
		return fmt.Errorf("hazelcast remove failed for key %q: %w", key, err)
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

// NewWithMap returns a Backend using the given Hazelcast map.
func NewWithMap(m *hazelcast.Map) httpcache.Backend {
	return &backend{m: m, ctx: context.Background(), locks: caslock.New()}
}

// NewWithMapAndContext returns a Backend using the given Hazelcast map,
// falling back to ctx for calls made with a nil context.
func NewWithMapAndContext(ctx context.Context, m *hazelcast.Map) httpcache.Backend {
	return &backend{m: m, ctx: ctx, locks: caslock.New()}
}
