package httpcache

import (
	"context"
	"errors"
	"sync"
)

// ErrUpdateConflict is returned by Backend.Update when the CAS retry bound
// is exceeded without a successful compare-and-swap (§4.6, §7).
var ErrUpdateConflict = errors.New("httpcache: update conflict: exceeded CAS retry bound")

// UpdateFunc computes a new entry from the current one. It must be
// side-effect-free and deterministic with respect to its input (§9), since
// Backend.Update may invoke it more than once across CAS retries. A nil
// current entry means the key does not currently exist.
type UpdateFunc func(current *Entry) (*Entry, error)

// Backend is the storage contract the Caching Executor uses (§4.6). Every
// method must be safe for concurrent use. Implementations are free to store
// *Entry directly (in-memory) or to serialize through EncodeEntry/DecodeEntry
// (remote/persisted backends).
type Backend interface {
	// Get returns the entry stored at key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put writes key unconditionally, replacing any prior value.
	Put(ctx context.Context, key string, entry *Entry) error
	// Remove deletes key; removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Update performs a compare-and-swap update: read the current entry,
	// invoke fn, write the result back only if nothing else changed the
	// key in between. On token mismatch it re-reads and retries, up to an
	// implementation-defined bound of at least 3 attempts; exceeding the
	// bound returns ErrUpdateConflict.
	Update(ctx context.Context, key string, fn UpdateFunc) (*Entry, error)
	// BulkGet best-effort reads many keys at once; keys with no stored
	// value are simply absent from the result map, not represented as
	// errors.
	BulkGet(ctx context.Context, keys []string) (map[string]*Entry, error)
}

const minCASRetries = 3

// memoryBackend is the in-memory Backend implementation: a mutex-guarded
// map of key to (entry, version token). It is the reference implementation
// C5 describes directly; every serializing backend (redis, postgresql,
// ...) wraps the same CAS discipline around its own native primitive.
type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryRecord
}

type memoryRecord struct {
	entry   *Entry
	version uint64
}

// NewMemoryBackend constructs the in-memory storage backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{entries: make(map[string]*memoryRecord)}
}

func (b *memoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	return rec.entry.Clone(), nil
}

func (b *memoryBackend) Put(_ context.Context, key string, entry *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.entries[key]
	version := uint64(1)
	if cur != nil {
		version = cur.version + 1
	}
	b.entries[key] = &memoryRecord{entry: entry.Clone(), version: version}
	return nil
}

func (b *memoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) Update(ctx context.Context, key string, fn UpdateFunc) (*Entry, error) {
	for attempt := 0; attempt < minCASRetries+1; attempt++ {
		b.mu.Lock()
		cur := b.entries[key]
		var curEntry *Entry
		expected := uint64(0)
		if cur != nil {
			curEntry = cur.entry.Clone()
			expected = cur.version
		}
		b.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := fn(curEntry)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		cur = b.entries[key]
		curVersion := uint64(0)
		if cur != nil {
			curVersion = cur.version
		}
		if curVersion != expected {
			b.mu.Unlock()
			continue
		}
		if next == nil {
			delete(b.entries, key)
			b.mu.Unlock()
			return nil, nil
		}
		b.entries[key] = &memoryRecord{entry: next.Clone(), version: expected + 1}
		b.mu.Unlock()
		return next, nil
	}
	return nil, ErrUpdateConflict
}

func (b *memoryBackend) BulkGet(_ context.Context, keys []string) (map[string]*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*Entry, len(keys))
	for _, k := range keys {
		if rec, ok := b.entries[k]; ok {
			out[k] = rec.entry.Clone()
		}
	}
	return out, nil
}
