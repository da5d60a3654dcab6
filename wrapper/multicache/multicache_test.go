package multicache

import (
	"context"
	"testing"

	httpcache "github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringEntry(s string) *httpcache.Entry {
	return &httpcache.Entry{Kind: httpcache.KindResource, Resource: httpcache.NewBytesResource([]byte(s))}
}

func readBody(t *testing.T, e *httpcache.Entry) string {
	t.Helper()
	if e == nil || e.Resource == nil {
		return ""
	}
	data, err := httpcache.ReadAll(context.Background(), e.Resource)
	if err != nil {
		t.Fatalf("reading resource: %v", err)
	}
	return string(data)
}

func TestInterface(t *testing.T) {
	var _ httpcache.Backend = &MultiCache{}
}

func TestNew(t *testing.T) {
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()

	tests := []struct {
		name   string
		tiers  []httpcache.Backend
		expect bool
	}{
		{name: "valid single tier", tiers: []httpcache.Backend{tier1}, expect: true},
		{name: "valid two tiers", tiers: []httpcache.Backend{tier1, tier2}, expect: true},
		{name: "valid three tiers", tiers: []httpcache.Backend{tier1, tier2, tier3}, expect: true},
		{name: "no tiers", tiers: []httpcache.Backend{}, expect: false},
		{name: "nil tier", tiers: []httpcache.Backend{tier1, nil, tier3}, expect: false},
		{name: "duplicate tier", tiers: []httpcache.Backend{tier1, tier2, tier1}, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := New(tt.tiers...)
			if tt.expect {
				require.NotNil(t, mc)
				assert.Equal(t, len(tt.tiers), len(mc.tiers))
			} else {
				assert.Nil(t, mc)
			}
		})
	}
}

func TestMultiCacheBackend(t *testing.T) {
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	require.NotNil(t, mc)
	test.Backend(t, mc)
}

func TestMultiCacheConcurrentUpdate(t *testing.T) {
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	require.NotNil(t, mc)
	test.ConcurrentUpdate(t, mc, 25)
}

func TestGetSingleTier(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	mc := New(tier1)
	require.NotNil(t, mc)

	e, err := mc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, e)

	_ = tier1.Put(ctx, "key1", stringEntry("value1"))
	e, err = mc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", readBody(t, e))
}

func TestGetMultipleTiersFoundInFirst(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2, tier3)
	require.NotNil(t, mc)

	_ = tier1.Put(ctx, "key1", stringEntry("value1"))

	e, err := mc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", readBody(t, e))

	e2, _ := tier2.Get(ctx, "key1")
	assert.Nil(t, e2)
	e3, _ := tier3.Get(ctx, "key1")
	assert.Nil(t, e3)
}

func TestGetMultipleTiersFoundInMiddle(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2, tier3)
	require.NotNil(t, mc)

	_ = tier2.Put(ctx, "key1", stringEntry("value1"))

	e, err := mc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", readBody(t, e))

	promoted, _ := tier1.Get(ctx, "key1")
	require.NotNil(t, promoted)
	assert.Equal(t, "value1", readBody(t, promoted))

	e3, _ := tier3.Get(ctx, "key1")
	assert.Nil(t, e3)
}

func TestGetMultipleTiersFoundInLast(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2, tier3)
	require.NotNil(t, mc)

	_ = tier3.Put(ctx, "key1", stringEntry("value1"))

	e, err := mc.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", readBody(t, e))

	p1, _ := tier1.Get(ctx, "key1")
	require.NotNil(t, p1)
	assert.Equal(t, "value1", readBody(t, p1))

	p2, _ := tier2.Get(ctx, "key1")
	require.NotNil(t, p2)
	assert.Equal(t, "value1", readBody(t, p2))
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	require.NotNil(t, mc)

	e, err := mc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPutSingleTier(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	mc := New(tier1)
	require.NotNil(t, mc)

	_ = mc.Put(ctx, "key1", stringEntry("value1"))

	e, _ := tier1.Get(ctx, "key1")
	require.NotNil(t, e)
	assert.Equal(t, "value1", readBody(t, e))
}

func TestPutMultipleTiers(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2, tier3)
	require.NotNil(t, mc)

	_ = mc.Put(ctx, "key1", stringEntry("value1"))

	for _, tier := range []httpcache.Backend{tier1, tier2, tier3} {
		e, _ := tier.Get(ctx, "key1")
		require.NotNil(t, e)
		assert.Equal(t, "value1", readBody(t, e))
	}
}

func TestPutOverwrite(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2)
	require.NotNil(t, mc)

	_ = mc.Put(ctx, "key1", stringEntry("value1"))
	_ = mc.Put(ctx, "key1", stringEntry("value2"))

	for _, tier := range []httpcache.Backend{tier1, tier2} {
		e, _ := tier.Get(ctx, "key1")
		require.NotNil(t, e)
		assert.Equal(t, "value2", readBody(t, e))
	}
}

func TestRemoveSingleTier(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	mc := New(tier1)
	require.NotNil(t, mc)

	_ = tier1.Put(ctx, "key1", stringEntry("value1"))
	_ = mc.Remove(ctx, "key1")

	e, _ := tier1.Get(ctx, "key1")
	assert.Nil(t, e)
}

func TestRemoveMultipleTiers(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2, tier3)
	require.NotNil(t, mc)

	for _, tier := range []httpcache.Backend{tier1, tier2, tier3} {
		_ = tier.Put(ctx, "key1", stringEntry("value1"))
	}

	_ = mc.Remove(ctx, "key1")

	for _, tier := range []httpcache.Backend{tier1, tier2, tier3} {
		e, _ := tier.Get(ctx, "key1")
		assert.Nil(t, e)
	}
}

func TestRemoveNotFound(t *testing.T) {
	ctx := context.Background()
	mc := New(httpcache.NewMemoryBackend(), httpcache.NewMemoryBackend())
	require.NotNil(t, mc)

	assert.NoError(t, mc.Remove(ctx, "missing"))
}

func TestUpdateFanOut(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2)
	require.NotNil(t, mc)

	result, err := mc.Update(ctx, "key1", func(current *httpcache.Entry) (*httpcache.Entry, error) {
		return stringEntry("fanned-out"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fanned-out", readBody(t, result))

	e2, _ := tier2.Get(ctx, "key1")
	require.NotNil(t, e2)
	assert.Equal(t, "fanned-out", readBody(t, e2))
}

func TestUpdateFanOutRemoval(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2)
	require.NotNil(t, mc)

	_ = mc.Put(ctx, "key1", stringEntry("value1"))

	result, err := mc.Update(ctx, "key1", func(current *httpcache.Entry) (*httpcache.Entry, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, result)

	e2, _ := tier2.Get(ctx, "key1")
	assert.Nil(t, e2)
}

func TestPromotionScenario(t *testing.T) {
	ctx := context.Background()
	// Tier 1: fast, small. Tier 2: medium. Tier 3: slow, unlimited.
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	tier3 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2, tier3)
	require.NotNil(t, mc)

	_ = mc.Put(ctx, "hot-key", stringEntry("hot-value"))

	// Simulate tier 1 eviction.
	_ = tier1.Remove(ctx, "hot-key")

	e, err := mc.Get(ctx, "hot-key")
	require.NoError(t, err)
	assert.Equal(t, "hot-value", readBody(t, e))

	p1, _ := tier1.Get(ctx, "hot-key")
	require.NotNil(t, p1)
	assert.Equal(t, "hot-value", readBody(t, p1))

	// Simulate tier 1 and tier 2 eviction.
	_ = tier1.Remove(ctx, "hot-key")
	_ = tier2.Remove(ctx, "hot-key")

	e, err = mc.Get(ctx, "hot-key")
	require.NoError(t, err)
	assert.Equal(t, "hot-value", readBody(t, e))

	p1, _ = tier1.Get(ctx, "hot-key")
	require.NotNil(t, p1)
	p2, _ := tier2.Get(ctx, "hot-key")
	require.NotNil(t, p2)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	tier1 := httpcache.NewMemoryBackend()
	tier2 := httpcache.NewMemoryBackend()
	mc := New(tier1, tier2)
	require.NotNil(t, mc)

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			_ = mc.Put(ctx, "key", stringEntry("value"))
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_, _ = mc.Get(ctx, "key")
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = mc.Remove(ctx, "key")
		}
		done <- true
	}()

	<-done
	<-done
	<-done
}
