package compresscache

import (
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/rfc9111/httpcache"
)

func BenchmarkGzipPut(b *testing.B) {
	ctx := context.Background()
	store, _ := NewGzip(GzipConfig{Store: httpcache.NewMemoryBackend(), Level: gzip.DefaultCompression})
	entry := stringEntry(strings.Repeat("benchmark data ", 100))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Put(ctx, "key", entry)
	}
}

func BenchmarkGzipGet(b *testing.B) {
	ctx := context.Background()
	store, _ := NewGzip(GzipConfig{Store: httpcache.NewMemoryBackend(), Level: gzip.DefaultCompression})
	_ = store.Put(ctx, "key", stringEntry(strings.Repeat("benchmark data ", 100)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Get(ctx, "key")
	}
}

func BenchmarkBrotliPut(b *testing.B) {
	ctx := context.Background()
	store, _ := NewBrotli(BrotliConfig{Store: httpcache.NewMemoryBackend(), Level: 6})
	entry := stringEntry(strings.Repeat("benchmark data ", 100))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Put(ctx, "key", entry)
	}
}

func BenchmarkBrotliGet(b *testing.B) {
	ctx := context.Background()
	store, _ := NewBrotli(BrotliConfig{Store: httpcache.NewMemoryBackend(), Level: 6})
	_ = store.Put(ctx, "key", stringEntry(strings.Repeat("benchmark data ", 100)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Get(ctx, "key")
	}
}

func BenchmarkSnappyPut(b *testing.B) {
	ctx := context.Background()
	store, _ := NewSnappy(SnappyConfig{Store: httpcache.NewMemoryBackend()})
	entry := stringEntry(strings.Repeat("benchmark data ", 100))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Put(ctx, "key", entry)
	}
}

func BenchmarkSnappyGet(b *testing.B) {
	ctx := context.Background()
	store, _ := NewSnappy(SnappyConfig{Store: httpcache.NewMemoryBackend()})
	_ = store.Put(ctx, "key", stringEntry(strings.Repeat("benchmark data ", 100)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Get(ctx, "key")
	}
}

func BenchmarkGzipPutGetSmall(b *testing.B) {
	ctx := context.Background()
	store, _ := NewGzip(GzipConfig{Store: httpcache.NewMemoryBackend(), Level: gzip.DefaultCompression})
	entry := stringEntry("small data")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Put(ctx, "key", entry)
		_, _ = store.Get(ctx, "key")
	}
}

func BenchmarkGzipPutGetLarge(b *testing.B) {
	ctx := context.Background()
	store, _ := NewGzip(GzipConfig{Store: httpcache.NewMemoryBackend(), Level: gzip.DefaultCompression})
	entry := stringEntry(strings.Repeat("large benchmark data ", 1000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Put(ctx, "key", entry)
		_, _ = store.Get(ctx, "key")
	}
}

func BenchmarkCompressionLevels(b *testing.B) {
	levels := []struct {
		name  string
		level int
	}{
		{"BestSpeed", gzip.BestSpeed},
		{"Default", gzip.DefaultCompression},
		{"BestCompression", gzip.BestCompression},
	}
	entry := stringEntry(strings.Repeat("compression level benchmark ", 100))

	for _, l := range levels {
		b.Run(l.name, func(b *testing.B) {
			ctx := context.Background()
			store, _ := NewGzip(GzipConfig{Store: httpcache.NewMemoryBackend(), Level: l.level})

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = store.Put(ctx, "key", entry)
				_, _ = store.Get(ctx, "key")
			}
		})
	}
}

func BenchmarkAlgorithmComparison(b *testing.B) {
	entry := stringEntry(strings.Repeat("algorithm comparison benchmark ", 100))

	b.Run("Gzip", func(b *testing.B) {
		ctx := context.Background()
		store, _ := NewGzip(GzipConfig{Store: httpcache.NewMemoryBackend(), Level: gzip.DefaultCompression})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = store.Put(ctx, "key", entry)
			_, _ = store.Get(ctx, "key")
		}
	})

	b.Run("Brotli", func(b *testing.B) {
		ctx := context.Background()
		store, _ := NewBrotli(BrotliConfig{Store: httpcache.NewMemoryBackend(), Level: 6})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = store.Put(ctx, "key", entry)
			_, _ = store.Get(ctx, "key")
		}
	})

	b.Run("Snappy", func(b *testing.B) {
		ctx := context.Background()
		store, _ := NewSnappy(SnappyConfig{Store: httpcache.NewMemoryBackend()})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = store.Put(ctx, "key", entry)
			_, _ = store.Get(ctx, "key")
		}
	})
}
