// Package postgresql provides a PostgreSQL-backed httpcache.Backend implementation.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rfc9111/httpcache"
)

var (
	// ErrNilPool is returned when a nil pool is provided.
	ErrNilPool = errors.New("postgresql: pool cannot be nil")
)

const (
	// DefaultTableName is the default table name for cache storage.
	DefaultTableName = "httpcache_entries"
	// DefaultKeyPrefix is the default prefix for cache keys.
	DefaultKeyPrefix = "cache:"
)

// Config holds the configuration for the PostgreSQL Backend.
type Config struct {
	TableName string
	KeyPrefix string
	Timeout   time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{TableName: DefaultTableName, KeyPrefix: DefaultKeyPrefix, Timeout: 5 * time.Second}
}

// backend is a Backend implementation storing serialized entries in a table
// with a monotonic version column, giving Update a real SQL-level
// compare-and-swap via "UPDATE ... WHERE version = $n".
type backend struct {
	pool      *pgxpool.Pool
	tableName string
	keyPrefix string
	timeout   time.Duration
}

func (b *backend) storageKey(key string) string { return b.keyPrefix + key }

func (b *backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *backend) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var data []byte
	query := `SELECT data FROM ` + b.tableName + ` WHERE key = $1`
	err := b.pool.QueryRow(ctx, query, b.storageKey(key)).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgresql get failed for key %q: %w", key, err)
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
	query := `
		INSERT INTO ` + b.tableName + ` (key, data, version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key) DO UPDATE SET data = $2, version = ` + b.tableName + `.version + 1, updated_at = $3
	`
	if _, err := b.pool.Exec(ctx, query, b.storageKey(key), data, time.Now()); err != nil {
		return fmt.Errorf("postgresql set failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(ctx context.Context, key string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM ` + b.tableName + ` WHERE key = $1`
	if _, err := b.pool.Exec(ctx, query, b.storageKey(key)); err != nil {
		return fmt.Errorf("postgresql delete failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	storageKey := b.storageKey(key)

	for attempt := 0; attempt < 4; attempt++ {
		var data []byte
		var version int64
		err := b.pool.QueryRow(ctx, `SELECT data, version FROM `+b.tableName+` WHERE key = $1`, storageKey).Scan(&data, &version)

		var current *httpcache.Entry
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			current, version = nil, 0
		case err != nil:
			return nil, fmt.Errorf("postgresql update read failed for key %q: %w", key, err)
		default:
			current, err = httpcache.DecodeEntry(key, data)
			if err != nil {
				return nil, err
			}
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}

		var tag interface {
			RowsAffected() int64
		}
		if next == nil {
			if version == 0 {
				return nil, nil
			}
			tag, err = b.pool.Exec(ctx, `DELETE FROM `+b.tableName+` WHERE key = $1 AND version = $2`, storageKey, version)
		} else {
			encoded, encErr := httpcache.EncodeEntry(ctx, key, next)
			if encErr != nil {
				return nil, encErr
			}
			if version == 0 {
				tag, err = b.pool.Exec(ctx,
					`INSERT INTO `+b.tableName+` (key, data, version, updated_at) VALUES ($1, $2, 1, $3) ON CONFLICT (key) DO NOTHING`,
					storageKey, encoded, time.Now())
			} else {
				tag, err = b.pool.Exec(ctx,
					`UPDATE `+b.tableName+` SET data = $1, version = version + 1, updated_at = $2 WHERE key = $3 AND version = $4`,
					encoded, time.Now(), storageKey, version)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("postgresql update write failed for key %q: %w", key, err)
		}
		if tag.RowsAffected() == 1 {
			return next, nil
		}
		// another writer raced us between the read and the conditional write; retry
	}
	return nil, httpcache.ErrUpdateConflict
}

func (b *backend) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	if len(keys) == 0 {
		return map[string]*httpcache.Entry{}, nil
	}
	storageKeys := make([]string, len(keys))
	orig := make(map[string]string, len(keys))
	for i, k := range keys {
		sk := b.storageKey(k)
		storageKeys[i] = sk
		orig[sk] = k
	}

	rows, err := b.pool.Query(ctx, `SELECT key, data FROM `+b.tableName+` WHERE key = ANY($1)`, storageKeys)
	if err != nil {
		return nil, fmt.Errorf("postgresql bulk get failed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*httpcache.Entry, len(keys))
	for rows.Next() {
		var sk string
		var data []byte
		if err := rows.Scan(&sk, &data); err != nil {
			return nil, err
		}
		origKey := orig[sk]
		entry, err := httpcache.DecodeEntry(origKey, data)
		if err != nil || entry == nil {
			continue
		}
		out[origKey] = entry
	}
	return out, rows.Err()
}

// CreateTable creates the cache table if it doesn't exist.
func (b *backend) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ` + b.tableName + ` (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`
	_, err := b.pool.Exec(ctx, query)
	return err
}

// Close closes the connection pool.
func (b *backend) Close() {
	b.pool.Close()
}

// NewWithPool returns a Backend using the provided connection pool.
func NewWithPool(pool *pgxpool.Pool, config *Config) (httpcache.Backend, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &backend{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}, nil
}

// New creates a Backend with a connection pool from the given connection string.
func New(ctx context.Context, connString string, config *Config) (httpcache.Backend, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	b := &backend{pool: pool, tableName: config.TableName, keyPrefix: config.KeyPrefix, timeout: config.Timeout}
	if err := b.CreateTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}
