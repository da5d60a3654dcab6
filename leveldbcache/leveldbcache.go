// Package leveldbcache provides an httpcache.Backend implementation backed
// by github.com/syndtr/goleveldb/leveldb.
package leveldbcache

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/internal/caslock"
)

// backend is a Backend implementation storing C6-serialized entries in a
// local LevelDB database. LevelDB has no cross-process CAS primitive, but
// since it can only ever be opened by one process at a time, a per-key
// in-process mutex gives Update the same atomicity guarantee a true CAS
// would.
type backend struct {
	db    *leveldb.DB
	locks *caslock.KeyedMutex
}

func (b *backend) Get(_ context.Context, key string) (*httpcache.Entry, error) {
	data, err := b.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("leveldbcache get failed for key %q: %w", key, err)
	}
	return httpcache.DecodeEntry(key, data)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	if err := b.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("leveldbcache put failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(_ context.Context, key string) error {
	if err := b.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldbcache remove failed for key %q: %w", key, err)
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

// Close closes the underlying LevelDB database.
func (b *backend) Close() error {
	return b.db.Close()
}

// New opens (or creates) a LevelDB database at path and returns a Backend.
func New(path string) (httpcache.Backend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &backend{db: db, locks: caslock.New()}, nil
}

// NewWithDB returns a Backend using the provided, already-open database.
func NewWithDB(db *leveldb.DB) httpcache.Backend {
	return &backend{db: db, locks: caslock.New()}
}
