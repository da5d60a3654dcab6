package compresscache

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/rfc9111/httpcache"
)

// SnappyConfig holds the configuration for a snappy-compressing Backend.
type SnappyConfig struct {
	// Store is the underlying backend (required).
	Store httpcache.Backend
}

// NewSnappy wraps store with snappy compression.
func NewSnappy(config SnappyConfig) (httpcache.Backend, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	compress := func(data []byte) ([]byte, error) {
		return snappy.Encode(nil, data), nil
	}
	return newBackend(config.Store, Snappy, compress, allDecompressors()), nil
}

func snappyDecompress(data []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode failed: %w", err)
	}
	return decompressed, nil
}

// allDecompressors returns the full cross-algorithm decompressor table, so
// any wrapped backend can read back entries written under a different
// algorithm than the one it is currently configured with.
func allDecompressors() map[Algorithm]decompressFunc {
	return map[Algorithm]decompressFunc{
		Gzip:   gzipDecompress,
		Brotli: brotliDecompress,
		Snappy: snappyDecompress,
	}
}
