package multicache

import (
	"context"
	"fmt"
	"testing"

	httpcache "github.com/rfc9111/httpcache"
)

func BenchmarkGetSingleTierHit(b *testing.B) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	mc := New(tier1)
	_ = mc.Put(ctx, "key", stringEntry("value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mc.Get(ctx, "key")
		}
	})
}

func BenchmarkGetSingleTierMiss(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend())

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mc.Get(ctx, "missing")
		}
	})
}

func BenchmarkGetThreeTiersHitInFirst(b *testing.B) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	mc := New(tier1, httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	_ = tier1.Put(ctx, "key", stringEntry("value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mc.Get(ctx, "key")
		}
	})
}

func BenchmarkGetThreeTiersHitInSecond(b *testing.B) {
	ctx := context.Background()
	tier2 := httpcache.NewMemoryBackend()
	mc := New(httpcache.NewMemoryBackend(), tier2, httpcache.NewMemoryBackend())
	_ = tier2.Put(ctx, "key", stringEntry("value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mc.Get(ctx, "key")
		}
	})
}

func BenchmarkGetThreeTiersHitInThird(b *testing.B) {
	ctx := context.Background()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), tier3)
	_ = tier3.Put(ctx, "key", stringEntry("value"))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mc.Get(ctx, "key")
		}
	})
}

func BenchmarkGetThreeTiersMiss(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = mc.Get(ctx, "missing")
		}
	})
}

func BenchmarkPutSingleTier(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend())
	entry := stringEntry("value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mc.Put(ctx, "key", entry)
		}
	})
}

func BenchmarkPutThreeTiers(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	entry := stringEntry("value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mc.Put(ctx, "key", entry)
		}
	})
}

func BenchmarkRemoveSingleTier(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend())

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mc.Remove(ctx, "key")
		}
	})
}

func BenchmarkRemoveThreeTiers(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mc.Remove(ctx, "key")
		}
	})
}

func BenchmarkPutGetRemoveSingleTier(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend())
	entry := stringEntry("value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mc.Put(ctx, "key", entry)
			_, _ = mc.Get(ctx, "key")
			_ = mc.Remove(ctx, "key")
		}
	})
}

func BenchmarkPutGetRemoveThreeTiers(b *testing.B) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	entry := stringEntry("value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mc.Put(ctx, "key", entry)
			_, _ = mc.Get(ctx, "key")
			_ = mc.Remove(ctx, "key")
		}
	})
}

func BenchmarkMultiTiers(b *testing.B) {
	ctx := context.Background()
	for _, numTiers := range []int{1, 2, 3, 5, 10} {
		b.Run(fmt.Sprintf("%d_tiers", numTiers), func(b *testing.B) {
			tiers := make([]httpcache.Backend, numTiers)
			for i := range tiers {
				tiers[i] = httpcache.NewMemoryBackend()
			}

			mc := New(tiers...)
			entry := stringEntry("value")

			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					_ = mc.Put(ctx, "key", entry)
					_, _ = mc.Get(ctx, "key")
				}
			})
		})
	}
}
