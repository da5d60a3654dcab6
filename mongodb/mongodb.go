// Package mongodb provides a MongoDB-backed httpcache.Backend
// implementation.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rfc9111/httpcache"
)

// Config holds the configuration for creating a MongoDB Backend.
type Config struct {
	// URI is the MongoDB connection URI. Required when using New.
	URI string
	// Database is the name of the database to use for caching. Required.
	Database string
	// Collection is the name of the collection to use. Defaults to "httpcache".
	Collection string
	// KeyPrefix is prepended to every cache key. Defaults to "cache:".
	KeyPrefix string
	// Timeout bounds individual database operations. Defaults to 5s.
	Timeout time.Duration
	// TTL, if set, creates a TTL index on createdAt so entries expire
	// server-side independently of the caching logic's own freshness rules.
	TTL time.Duration
	// ClientOptions are additional options passed to mongo.Connect.
	ClientOptions *options.ClientOptions
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Collection: "httpcache", KeyPrefix: "cache:", Timeout: 5 * time.Second}
}

// cacheDocument is the on-disk shape of a cached entry. Version increments
// on every successful write and is the field Update filters on to get a
// real compare-and-swap out of MongoDB's single-document atomicity.
type cacheDocument struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"createdAt"`
}

// backend is a Backend implementation storing C6-serialized entries as
// MongoDB documents.
type backend struct {
	client     *mongo.Client
	collection *mongo.Collection
	keyPrefix  string
	timeout    time.Duration
}

func (b *backend) cacheKey(key string) string {
	return b.keyPrefix + key
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

	var doc cacheDocument
	err := b.collection.FindOne(ctx, bson.M{"_id": b.cacheKey(key)}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("mongodb get failed for key %q: %w", key, err)
	}
	return httpcache.DecodeEntry(key, doc.Data)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	data, err := httpcache.EncodeEntry(ctx, key, entry)
	if err != nil {
		return err
	}
	id := b.cacheKey(key)
	update := bson.M{
		"$set":         bson.M{"data": data, "createdAt": time.Now()},
		"$inc":         bson.M{"version": int64(1)},
		"$setOnInsert": bson.M{"_id": id},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := b.collection.UpdateOne(ctx, bson.M{"_id": id}, update, opts); err != nil {
		return fmt.Errorf("mongodb put failed for key %q: %w", key, err)
	}
	return nil
}

func (b *backend) Remove(ctx context.Context, key string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if _, err := b.collection.DeleteOne(ctx, bson.M{"_id": b.cacheKey(key)}); err != nil {
		return fmt.Errorf("mongodb remove failed for key %q: %w", key, err)
	}
	return nil
}

// Update reads the current document's version, applies fn, and writes the
// result back with a filter that requires the version to be unchanged.
// A write that matches zero documents means a concurrent writer moved the
// version first, so the read-modify-write is retried.
func (b *backend) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	id := b.cacheKey(key)

	for attempt := 0; attempt < 4; attempt++ {
		var doc cacheDocument
		err := b.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)

		var current *httpcache.Entry
		var version int64
		switch {
		case err == mongo.ErrNoDocuments:
			version = 0
		case err != nil:
			return nil, fmt.Errorf("mongodb update read failed for key %q: %w", key, err)
		default:
			version = doc.Version
			current, err = httpcache.DecodeEntry(key, doc.Data)
			if err != nil {
				return nil, err
			}
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}

		var matched int64
		if next == nil {
			if version == 0 {
				return nil, nil
			}
			res, err := b.collection.DeleteOne(ctx, bson.M{"_id": id, "version": version})
			if err != nil {
				return nil, fmt.Errorf("mongodb update delete failed for key %q: %w", key, err)
			}
			matched = res.DeletedCount
		} else {
			encoded, err := httpcache.EncodeEntry(ctx, key, next)
			if err != nil {
				return nil, err
			}
			if version == 0 {
				res, err := b.collection.UpdateOne(ctx,
					bson.M{"_id": id, "version": bson.M{"$exists": false}},
					bson.M{"$set": bson.M{"data": encoded, "createdAt": time.Now(), "version": int64(1)}},
					options.Update().SetUpsert(true))
				if err != nil {
					return nil, fmt.Errorf("mongodb update insert failed for key %q: %w", key, err)
				}
				matched = res.MatchedCount + res.UpsertedCount
			} else {
				res, err := b.collection.UpdateOne(ctx,
					bson.M{"_id": id, "version": version},
					bson.M{"$set": bson.M{"data": encoded, "createdAt": time.Now()}, "$inc": bson.M{"version": int64(1)}})
				if err != nil {
					return nil, fmt.Errorf("mongodb update write failed for key %q: %w", key, err)
				}
				matched = res.MatchedCount
			}
		}
		if matched == 1 {
			return next, nil
		}
	}
	return nil, httpcache.ErrUpdateConflict
}

func (b *backend) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	if len(keys) == 0 {
		return map[string]*httpcache.Entry{}, nil
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	ids := make([]string, len(keys))
	orig := make(map[string]string, len(keys))
	for i, k := range keys {
		id := b.cacheKey(k)
		ids[i] = id
		orig[id] = k
	}

	cursor, err := b.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("mongodb bulk get failed: %w", err)
	}
	defer cursor.Close(ctx)

	out := make(map[string]*httpcache.Entry, len(keys))
	for cursor.Next(ctx) {
		var doc cacheDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		origKey := orig[doc.Key]
		entry, err := httpcache.DecodeEntry(origKey, doc.Data)
		if err != nil || entry == nil {
			continue
		}
		out[origKey] = entry
	}
	return out, cursor.Err()
}

// Close disconnects from MongoDB. It is a no-op for backends built with
// NewWithClient, since that constructor does not own the client.
func (b *backend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

func (b *backend) createTTLIndex(ctx context.Context, ttl time.Duration) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(int32(ttl.Seconds())).
			SetName("httpcache_ttl"),
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	_, err := b.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// New connects to MongoDB and returns a Backend. The caller should call
// Close() when done.
func New(ctx context.Context, config Config) (httpcache.Backend, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("MongoDB URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if config.Collection == "" {
		config.Collection = DefaultConfig().Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientOptions != nil {
		clientOpts = config.ClientOptions.ApplyURI(config.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	b := &backend{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}
	if config.TTL > 0 {
		if err := b.createTTLIndex(ctx, config.TTL); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to create TTL index: %w", err)
		}
	}
	return b, nil
}

// NewWithClient returns a Backend using an already-connected MongoDB client.
// The client is not closed by Close().
func NewWithClient(client *mongo.Client, database, collection string, config Config) (httpcache.Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("MongoDB client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if collection == "" {
		collection = DefaultConfig().Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &backend{
		collection: client.Database(database).Collection(collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}, nil
}
