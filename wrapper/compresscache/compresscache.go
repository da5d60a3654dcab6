// Package compresscache provides an httpcache.Backend decorator that
// transparently compresses every entry before it reaches an underlying
// Backend, to cut storage footprint and, for remote backends, network
// bandwidth. Supports gzip, brotli, and snappy.
package compresscache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rfc9111/httpcache"
)

// Algorithm identifies a supported compression codec.
type Algorithm int

const (
	// Gzip trades some ratio for wide compatibility and speed.
	Gzip Algorithm = iota
	// Brotli gives the best compression ratio at the cost of CPU.
	Brotli
	// Snappy is the fastest codec, with the lowest compression ratio.
	Snappy
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds cumulative compression statistics for a wrapped backend.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
	CompressionRatio  float64
	SavingsPercent    float64
}

type compressFunc func([]byte) ([]byte, error)
type decompressFunc func([]byte) ([]byte, error)

// compressedMarkerHeader is the header name a wrapper entry carries; its value is
// the Algorithm that compressed the payload, so Get can decompress even if
// the wrapping algorithm has since been switched.
const compressedMarkerHeader = "hc-compressed-algorithm"

// backend wraps an httpcache.Backend, serializing every entry through the
// C6 wire format, compressing the result, and storing it inside a synthetic
// carrier entry — the same composition pattern the core package's
// encrypting backend uses, so compression can stack with encryption or any
// other decorator.
type backend struct {
	inner     httpcache.Backend
	algorithm Algorithm
	compress  compressFunc
	decompress map[Algorithm]decompressFunc

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

func newBackend(inner httpcache.Backend, algorithm Algorithm, compress compressFunc, decompressors map[Algorithm]decompressFunc) *backend {
	return &backend{inner: inner, algorithm: algorithm, compress: compress, decompress: decompressors}
}

func (b *backend) seal(ctx context.Context, key string, e *httpcache.Entry) (*httpcache.Entry, error) {
	if e == nil {
		return nil, nil
	}
	plain, err := httpcache.EncodeEntry(ctx, key, e)
	if err != nil {
		return nil, fmt.Errorf("compresscache: encoding entry: %w", err)
	}
	compressed, err := b.compress(plain)
	if err != nil {
		httpcache.GetLogger().Warn("compresscache: compression failed, storing uncompressed", "key", key, "algorithm", b.algorithm.String(), "error", err)
		b.uncompressedCount.Add(1)
		b.uncompressedBytes.Add(int64(len(plain)))
		return wrapEntry(Algorithm(-1), plain), nil
	}
	b.compressedCount.Add(1)
	b.compressedBytes.Add(int64(len(compressed)))
	b.uncompressedBytes.Add(int64(len(plain)))
	return wrapEntry(b.algorithm, compressed), nil
}

func wrapEntry(algo Algorithm, payload []byte) *httpcache.Entry {
	return &httpcache.Entry{
		Kind:     httpcache.KindResource,
		Headers:  httpcache.Headers{{Name: compressedMarkerHeader, Value: algo.String()}},
		Resource: httpcache.NewBytesResource(payload),
	}
}

func (b *backend) unseal(ctx context.Context, key string, wrapper *httpcache.Entry) (*httpcache.Entry, error) {
	if wrapper == nil || wrapper.Resource == nil {
		return nil, nil
	}
	payload, err := httpcache.ReadAll(ctx, wrapper.Resource)
	if err != nil {
		return nil, fmt.Errorf("compresscache: reading wrapper: %w", err)
	}
	marker, _ := wrapper.Headers.Get(compressedMarkerHeader)
	plain := payload
	if marker != "unknown" && marker != "" {
		algo, ok := parseAlgorithm(marker)
		if ok {
			decompressFn, ok := b.decompress[algo]
			if !ok {
				return nil, fmt.Errorf("compresscache: no decompressor registered for algorithm %q", marker)
			}
			plain, err = decompressFn(payload)
			if err != nil {
				return nil, fmt.Errorf("compresscache: decompression failed: %w", err)
			}
		}
	}
	return httpcache.DecodeEntry(key, plain)
}

func parseAlgorithm(s string) (Algorithm, bool) {
	switch s {
	case "gzip":
		return Gzip, true
	case "brotli":
		return Brotli, true
	case "snappy":
		return Snappy, true
	default:
		return 0, false
	}
}

func (b *backend) Get(ctx context.Context, key string) (*httpcache.Entry, error) {
	wrapper, err := b.inner.Get(ctx, key)
	if err != nil || wrapper == nil {
		return nil, err
	}
	return b.unseal(ctx, key, wrapper)
}

func (b *backend) Put(ctx context.Context, key string, entry *httpcache.Entry) error {
	wrapper, err := b.seal(ctx, key, entry)
	if err != nil {
		return err
	}
	return b.inner.Put(ctx, key, wrapper)
}

func (b *backend) Remove(ctx context.Context, key string) error {
	return b.inner.Remove(ctx, key)
}

func (b *backend) Update(ctx context.Context, key string, fn httpcache.UpdateFunc) (*httpcache.Entry, error) {
	var result *httpcache.Entry
	_, err := b.inner.Update(ctx, key, func(currentWrapper *httpcache.Entry) (*httpcache.Entry, error) {
		current, uerr := b.unseal(ctx, key, currentWrapper)
		if uerr != nil {
			return nil, uerr
		}
		next, ferr := fn(current)
		if ferr != nil {
			return nil, ferr
		}
		result = next
		if next == nil {
			return nil, nil
		}
		return b.seal(ctx, key, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *backend) BulkGet(ctx context.Context, keys []string) (map[string]*httpcache.Entry, error) {
	wrapped, err := b.inner.BulkGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*httpcache.Entry, len(wrapped))
	for k, wrapper := range wrapped {
		e, err := b.unseal(ctx, k, wrapper)
		if err != nil || e == nil {
			continue
		}
		out[k] = e
	}
	return out, nil
}

// Stats returns cumulative compression statistics.
func (b *backend) Stats() Stats {
	compressed := b.compressedBytes.Load()
	uncompressed := b.uncompressedBytes.Load()
	var ratio, savings float64
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
		savings = (1.0 - ratio) * 100
	}
	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   b.compressedCount.Load(),
		UncompressedCount: b.uncompressedCount.Load(),
		CompressionRatio:  ratio,
		SavingsPercent:    savings,
	}
}
