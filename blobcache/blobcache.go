// Package blobcache provides an httpcache.Backend implementation backed by
// the Go Cloud Development Kit (gocloud.dev/blob), for cloud-agnostic cache
// storage.
//
// Supports multiple providers through gocloud.dev's driver registry:
// Amazon S3, Google Cloud Storage, Azure Blob Storage, in-memory (tests),
// and the local filesystem.
//
// Example usage with S3:
//
//	import (
//	    "context"
//	    _ "gocloud.dev/blob/s3blob"
//	    "github.com/rfc9111/httpcache/blobcache"
//	)
//
//	ctx := context.Background()
//	store, err := blobcache.New(ctx, blobcache.Config{
//	    BucketURL: "s3://my-bucket?region=us-west-2",
//	    KeyPrefix: "httpcache/",
//	})
package blobcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/internal/caslock"
)

// Config holds the configuration for the blob-backed store.
type Config struct {
	// BucketURL is the Go Cloud blob URL (e.g., "s3://bucket?region=us-west-2").
	BucketURL string
	// KeyPrefix is prepended to all cache keys. Defaults to "cache/".
	KeyPrefix string
	// Timeout bounds individual blob operations. Defaults to 30s.
	Timeout time.Duration
	// Bucket is an optional pre-opened bucket; if set, BucketURL is ignored.
	Bucket *blob.Bucket
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{KeyPrefix: "cache/", Timeout: 30 * time.Second}
}

// backend is a Backend implementation storing C6-serialized entries as
// objects in a cloud bucket. gocloud.dev/blob's portable API has no
// conditional-write primitive that works identically across S3, GCS and
// Azure, so Update only gets a correct CAS when this process is the sole
// writer; it serializes concurrent Update calls from within this process via
// a local mutex, same as the in-process backends, but cannot detect a
// write from another process or machine racing it.
type backend struct {
	bucket     *blob.Bucket
	keyPrefix  string
	timeout    time.Duration
	ownsBucket bool

	locks *caslock.KeyedMutex
}

// New opens the bucket named by config.BucketURL (or uses config.Bucket)
// and returns a Backend. Call Close() to release resources when done.
func New(ctx context.Context, config Config) (httpcache.Backend, error) {
	if config.BucketURL == "" && config.Bucket == nil {
		return nil, fmt.Errorf("either BucketURL or Bucket must be provided")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	var bucket *blob.Bucket
	var ownsBucket bool
	var err error
	if config.Bucket != nil {
		bucket = config.Bucket
	} else {
		bucket, err = blob.OpenBucket(ctx, config.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket: %w", err)
		}
		ownsBucket = true
	}

	return &backend{
		bucket:     bucket,
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
		ownsBucket: ownsBucket,
		locks:      caslock.New(),
	}, nil
}

// NewWithBucket returns a Backend using an already-opened bucket. The
// caller remains responsible for closing it.
func NewWithBucket(bucket *blob.Bucket, keyPrefix string, timeout time.Duration) httpcache.Backend {
	if keyPrefix == "" {
		keyPrefix = DefaultConfig().KeyPrefix
	}
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	return &backend{bucket: bucket, keyPrefix: keyPrefix, timeout: timeout, locks: caslock.New()}
}

func (b *backend) blobKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return b.keyPrefix + hex.EncodeToString(hash[:])
}

func (b *backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *backend) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	reader, err := b.bucket.NewReader(ctx, b.blobKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("blobcache get failed for key %q: %w", key, err)
	}
	defer reader.Close() //nolint:errcheck // best effort cleanup, read error already handled

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("blobcache read failed for key %q: %w", key, err)
	}
	return httpcache.DecodeEntry(key, data)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	writer, err := b.bucket.NewWriter(ctx, b.blobKey(key), nil)
	if err != nil {
		return fmt.Errorf("blobcache put failed to open writer for key %q: %w", key, err)
	}
	_, writeErr := writer.Write(data)
	closeErr := writer.Close()
	if writeErr != nil {
		return fmt.Errorf("blobcache put failed to write for key %q: %w", key, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("blobcache put failed to close writer for key %q: %w", key, closeErr)
	}
	return nil
}

func (b *backend) Remove(ctx context.Context, key string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	err := b.bucket.Delete(ctx, b.blobKey(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("blobcache remove failed for key %q: %w", key, err)
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

// Close closes the bucket if it was opened by New(); a bucket supplied via
// NewWithBucket is left open for the caller to manage.
func (b *backend) Close() error {
	if b.ownsBucket {
		if err := b.bucket.Close(); err != nil {
			return fmt.Errorf("failed to close blob bucket: %w", err)
		}
	}
	return nil
}
