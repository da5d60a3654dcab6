// Package redis provides a Redis-backed httpcache.Backend implementation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rfc9111/httpcache"
)

// Config holds the configuration for creating a Redis-backed Backend.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string
	// Password authenticates to the Redis server. Optional.
	Password string
	// DB selects the Redis logical database. Optional, defaults to 0.
	DB int
	// KeyPrefix is prepended to every storage key, to avoid colliding with
	// unrelated data in the same Redis instance. Optional, defaults to
	// "httpcache:".
	KeyPrefix string
	// DialTimeout bounds connection establishment. Optional.
	DialTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{KeyPrefix: "httpcache:", DialTimeout: 5 * time.Second}
}

// backend is a Backend implementation storing entries in Redis via the C6
// wire serializer. Update uses Redis's WATCH/MULTI transaction primitive to
// provide true compare-and-swap: the watched key is re-checked at EXEC time,
// and a transaction collision maps onto another CAS attempt.
type backend struct {
	client    *goredis.Client
	keyPrefix string
}

// New connects to Redis and returns a Backend.
func New(ctx context.Context, config Config) (httpcache.Backend, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best effort cleanup after ping failure
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &backend{client: client, keyPrefix: config.KeyPrefix}, nil
}

// NewWithClient returns a Backend using an already-constructed client.
func NewWithClient(client *goredis.Client, keyPrefix string) httpcache.Backend {
	if keyPrefix == "" {
		keyPrefix = DefaultConfig().KeyPrefix
	}
	return &backend{client: client, keyPrefix: keyPrefix}
}

func (b *backend) storageKey(key string) string {
	return b.keyPrefix + key
}

func (b *backend) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	data, err := b.client.Get(ctx, b.storageKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed for key %q: %w", key, err)
	}
	return httpcache.DecodeEntry(key, data)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.storageKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.storageKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	storageKey := b.storageKey(key)
	var result *httpcache.Entry

	for attempt := 0; attempt < 4; attempt++ {
		txErr := b.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, storageKey).Bytes()
			var current *httpcache.Entry
			if err != nil {
				if !errors.Is(err, goredis.Nil) {
					return err
				}
			} else {
				current, err = httpcache.DecodeEntry(key, data)
				if err != nil {
					return err
				}
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			result = next

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, storageKey)
					return nil
				}
				encoded, err := httpcache.EncodeEntry(ctx, key, next)
				if err != nil {
					return err
				}
				pipe.Set(ctx, storageKey, encoded, 0)
				return nil
			})
			return err
		}, storageKey)

		if txErr == nil {
			return result, nil
		}
		if !errors.Is(txErr, goredis.TxFailedErr) {
			return nil, fmt.Errorf("redis update failed for key %q: %w", key, txErr)
		}
	}
	return nil, httpcache.ErrUpdateConflict
}

func (b *backend) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	if len(keys) == 0 {
		return map[string]*httpcache.Entry{}, nil
	}
	storageKeys := make([]string, len(keys))
	for i, k := range keys {
		storageKeys[i] = b.storageKey(k)
	}
	values, err := b.client.MGet(ctx, storageKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}
	out := make(map[string]*httpcache.Entry, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := httpcache.DecodeEntry(keys[i], []byte(s))
		if err != nil || entry == nil {
			continue
		}
		out[keys[i]] = entry
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (b *backend) Close() error {
	return b.client.Close()
}
