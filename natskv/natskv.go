// Package natskv provides a NATS JetStream Key/Value-backed
// httpcache.Backend implementation.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rfc9111/httpcache"
)

// Config holds the configuration for creating a NATS K/V Backend.
type Config struct {
	// NATSUrl is the URL of the NATS server. Defaults to nats.DefaultURL.
	NATSUrl string
	// Bucket is the name of the K/V bucket to use. Required.
	Bucket string
	// Description is an optional description for the K/V bucket.
	Description string
	// TTL is the time-to-live for cache entries. Zero means no expiry.
	TTL time.Duration
	// NATSOptions are additional options passed to nats.Connect.
	NATSOptions []nats.Option
}

// backend is a Backend implementation storing C6-serialized entries in a
// NATS JetStream K/V bucket. Every K/V entry carries a revision number, and
// kv.Update(ctx, key, value, revision) fails with an error satisfying
// jetstream.ErrKeyExists-style revision mismatch when another writer won
// the race, giving Update a genuine server-side CAS instead of a local
// mutex emulation.
type backend struct {
	kv jetstream.KeyValue
	nc *nats.Conn
}

func cacheKey(key string) string {
	return "httpcache." + key
}

func (b *backend) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	entry, err := b.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("natskv get failed for key %q: %w", key, err)
	}
	return httpcache.DecodeEntry(key, entry.Value())
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	if _, err := b.kv.Put(ctx, cacheKey(key), data); err != nil {
		return fmt.Errorf("natskv put failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(ctx context.Context, key string) error {
	if err := b.kv.Delete(ctx, cacheKey(key)); err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("natskv remove failed for key %q: %w", key, err)
		}
	}
	return nil
}

func (b *backend) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	nk := cacheKey(key)

	for attempt := 0; attempt < 4; attempt++ {
		var current *httpcache.Entry
		var revision uint64

		kve, err := b.kv.Get(ctx, nk)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			revision = 0
		case err != nil:
			return nil, fmt.Errorf("natskv update read failed for key %q: %w", key, err)
		default:
			revision = kve.Revision()
			current, err = httpcache.DecodeEntry(key, kve.Value())
			if err != nil {
				return nil, err
			}
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}

		if next == nil {
			if revision == 0 {
				return nil, nil
			}
			if err := b.kv.Delete(ctx, nk, jetstream.LastRevision(revision)); err != nil {
				if isRevisionConflict(err) {
					continue
				}
				return nil, fmt.Errorf("natskv update delete failed for key %q: %w", key, err)
			}
			return nil, nil
		}

		encoded, err := httpcache.EncodeEntry(ctx, key, next)
		if err != nil {
			return nil, err
		}
		if revision == 0 {
			if _, err := b.kv.Create(ctx, nk, encoded); err != nil {
				if isRevisionConflict(err) {
					continue
				}
				return nil, fmt.Errorf("natskv update create failed for key %q: %w", key, err)
			}
			return next, nil
		}
		if _, err := b.kv.Update(ctx, nk, encoded, revision); err != nil {
			if isRevisionConflict(err) {
				continue
			}
			return nil, fmt.Errorf("natskv update write failed for key %q: %w", key, err)
		}
		return next, nil
	}
	return nil, httpcache.ErrUpdateConflict
}

func isRevisionConflict(err error) bool {
	return errors.Is(err, jetstream.ErrKeyExists) || errors.Is(err, jetstream.ErrKeyWrongLastSequence)
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

// Close closes the underlying NATS connection if it was created by New().
// It is a no-op when using NewWithKeyValue().
func (b *backend) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}

// New connects to NATS, creates or updates the configured K/V bucket, and
// returns a Backend. The caller should call Close() when done.
func New(ctx context.Context, config Config) (httpcache.Backend, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update K/V bucket: %w", err)
	}
	return &backend{kv: kv, nc: nc}, nil
}

// NewWithKeyValue returns a Backend using an already-constructed JetStream
// KeyValue store. The NATS connection is not closed by Close().
func NewWithKeyValue(kv jetstream.KeyValue) httpcache.Backend {
	return &backend{kv: kv}
}
