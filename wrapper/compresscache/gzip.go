package compresscache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/rfc9111/httpcache"
)

// GzipConfig holds the configuration for a gzip-compressing Backend.
type GzipConfig struct {
	// Store is the underlying backend (required).
	Store httpcache.Backend
	// Level is the compression level (gzip.HuffmanOnly..gzip.BestCompression).
	// Default: gzip.DefaultCompression.
	Level int
}

// NewGzip wraps store with gzip compression.
func NewGzip(config GzipConfig) (httpcache.Backend, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Level == 0 {
		config.Level = gzip.DefaultCompression
	}
	if config.Level < gzip.HuffmanOnly || config.Level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip compression level: %d", config.Level)
	}

	level := config.Level
	compress := func(data []byte) ([]byte, error) {
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer creation failed: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	}

	b := newBackend(config.Store, Gzip, compress, allDecompressors())
	return b, nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close() //nolint:errcheck // best effort cleanup

	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return decompressed, nil
}
