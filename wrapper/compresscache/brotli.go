package compresscache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/rfc9111/httpcache"
)

// BrotliConfig holds the configuration for a brotli-compressing Backend.
type BrotliConfig struct {
	// Store is the underlying backend (required).
	Store httpcache.Backend
	// Level is the compression level (0-11). Default: 6.
	Level int
}

// NewBrotli wraps store with brotli compression.
func NewBrotli(config BrotliConfig) (httpcache.Backend, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Level == 0 {
		config.Level = 6
	}
	if config.Level < 0 || config.Level > 11 {
		return nil, fmt.Errorf("invalid brotli compression level: %d", config.Level)
	}

	level := config.Level
	compress := func(data []byte) ([]byte, error) {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, level)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("brotli write failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("brotli close failed: %w", err)
		}
		return buf.Bytes(), nil
	}

	return newBackend(config.Store, Brotli, compress, allDecompressors()), nil
}

func brotliDecompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("brotli read failed: %w", err)
	}
	return decompressed, nil
}
