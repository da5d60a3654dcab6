package httpcache

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestIsUnsafeMethod(t *testing.T) {
	for _, m := range []string{"POST", "PUT", "DELETE", "PATCH"} {
		if !IsUnsafeMethod(m) {
			t.Fatalf("IsUnsafeMethod(%q) = false, want true", m)
		}
	}
	for _, m := range []string{"GET", "HEAD"} {
		if IsUnsafeMethod(m) {
			t.Fatalf("IsUnsafeMethod(%q) = true, want false", m)
		}
	}
}

func mustParseURLForInvalidation(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) failed: %v", raw, err)
	}
	return u
}

func TestInvalidateAfterResponseEvictsRootOnUnsafeMethod(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()
	reqURL := mustParseURLForInvalidation(t, "https://example.com/resource/1")
	rootKey, _ := RootKey(reqURL.String(), "GET")

	entry := NewResourceEntry(now, now, 200, nil, "GET", reqURL.String(), NewBytesResource([]byte("cached")))
	if err := store.Put(ctx, rootKey, entry); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	InvalidateAfterResponse(ctx, store, "PUT", reqURL, 200, nil, discardLogger())

	got, err := store.Get(ctx, rootKey)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Fatal("PUT with a 2xx response must evict the cached root entry")
	}
}

func TestInvalidateAfterResponseIgnoresSafeMethodAndErrorStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()
	reqURL := mustParseURLForInvalidation(t, "https://example.com/resource/1")
	rootKey, _ := RootKey(reqURL.String(), "GET")
	entry := NewResourceEntry(now, now, 200, nil, "GET", reqURL.String(), NewBytesResource([]byte("cached")))
	store.Put(ctx, rootKey, entry)

	InvalidateAfterResponse(ctx, store, "GET", reqURL, 200, nil, discardLogger())
	if got, _ := store.Get(ctx, rootKey); got == nil {
		t.Fatal("a safe GET must never trigger invalidation")
	}

	InvalidateAfterResponse(ctx, store, "PUT", reqURL, 500, nil, discardLogger())
	if got, _ := store.Get(ctx, rootKey); got == nil {
		t.Fatal("a 5xx response to an unsafe method must not evict the cache")
	}
}

func TestInvalidateAfterResponseEvictsVariantsOfRoot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()
	reqURL := mustParseURLForInvalidation(t, "https://example.com/resource/1")
	rootKey, _ := RootKey(reqURL.String(), "GET")

	variantKey := VariantKey([]string{"Accept-Encoding"}, Headers{{Name: "Accept-Encoding", Value: "gzip"}})
	storageKey := StorageKey(variantKey, rootKey)
	variantEntry := NewResourceEntry(now, now, 200, nil, "GET", reqURL.String(), NewBytesResource([]byte("gzip body")))
	store.Put(ctx, storageKey, variantEntry)

	root := NewVariantRoot(now, now, "GET", reqURL.String(), map[string]string{variantKey: storageKey})
	store.Put(ctx, rootKey, root)

	InvalidateAfterResponse(ctx, store, "DELETE", reqURL, 204, nil, discardLogger())

	if got, _ := store.Get(ctx, rootKey); got != nil {
		t.Fatal("variant root must be evicted")
	}
	if got, _ := store.Get(ctx, storageKey); got != nil {
		t.Fatal("variant entries must be evicted along with their root")
	}
}

func TestInvalidateAfterResponseCrossInvalidatesContentLocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()

	reqURL := mustParseURLForInvalidation(t, "https://example.com/orders")
	targetURL := mustParseURLForInvalidation(t, "https://example.com/orders/42")
	targetRootKey, _ := RootKey(targetURL.String(), "GET")

	target := NewResourceEntry(now, now, 200, Headers{{Name: "Date", Value: FormatHTTPDate(now)}}, "GET", targetURL.String(), NewBytesResource([]byte("order 42")))
	store.Put(ctx, targetRootKey, target)

	respHeaders := Headers{
		{Name: "Content-Location", Value: "/orders/42"},
		{Name: "Date", Value: FormatHTTPDate(now.Add(time.Minute))},
	}
	InvalidateAfterResponse(ctx, store, "POST", reqURL, 201, respHeaders, discardLogger())

	got, err := store.Get(ctx, targetRootKey)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got != nil {
		t.Fatal("a POST whose Content-Location points at a fresher representation must evict that target too")
	}
}

func TestInvalidateAfterResponsePreservesGuardedSameETagTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()

	reqURL := mustParseURLForInvalidation(t, "https://example.com/orders")
	targetURL := mustParseURLForInvalidation(t, "https://example.com/orders/42")
	targetRootKey, _ := RootKey(targetURL.String(), "GET")

	target := NewResourceEntry(now, now, 200,
		Headers{{Name: "Date", Value: FormatHTTPDate(now)}, {Name: "ETag", Value: `"same"`}},
		"GET", targetURL.String(), NewBytesResource([]byte("order 42")))
	store.Put(ctx, targetRootKey, target)

	respHeaders := Headers{
		{Name: "Content-Location", Value: "/orders/42"},
		{Name: "Date", Value: FormatHTTPDate(now.Add(time.Minute))},
		{Name: "ETag", Value: `"same"`},
	}
	InvalidateAfterResponse(ctx, store, "POST", reqURL, 201, respHeaders, discardLogger())

	got, err := store.Get(ctx, targetRootKey)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil {
		t.Fatal("a response confirming the same strong ETag must not evict the guarded target")
	}
}

func TestInvalidateAfterResponseIgnoresCrossOriginContentLocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()

	reqURL := mustParseURLForInvalidation(t, "https://example.com/orders")
	foreignURL := mustParseURLForInvalidation(t, "https://evil.example/orders/42")
	foreignRootKey, _ := RootKey(foreignURL.String(), "GET")

	target := NewResourceEntry(now, now, 200, nil, "GET", foreignURL.String(), NewBytesResource([]byte("x")))
	store.Put(ctx, foreignRootKey, target)

	respHeaders := Headers{{Name: "Content-Location", Value: "https://evil.example/orders/42"}}
	InvalidateAfterResponse(ctx, store, "POST", reqURL, 201, respHeaders, discardLogger())

	got, _ := store.Get(ctx, foreignRootKey)
	if got == nil {
		t.Fatal("cross-origin Content-Location targets must never be evicted")
	}
}

func TestInvalidateBeforeForwardEvictsRootAndReferencedURL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()

	reqURL := mustParseURLForInvalidation(t, "https://example.com/orders/42")
	rootKey, _ := RootKey(reqURL.String(), "GET")
	store.Put(ctx, rootKey, NewResourceEntry(now, now, 200, nil, "GET", reqURL.String(), NewBytesResource([]byte("a"))))

	refURL := mustParseURLForInvalidation(t, "https://example.com/orders")
	refRootKey, _ := RootKey(refURL.String(), "GET")
	store.Put(ctx, refRootKey, NewResourceEntry(now, now, 200, nil, "GET", refURL.String(), NewBytesResource([]byte("b"))))

	reqHeaders := Headers{{Name: "Content-Location", Value: "/orders"}}
	InvalidateBeforeForward(ctx, store, "DELETE", reqURL, reqHeaders, discardLogger())

	if got, _ := store.Get(ctx, rootKey); got != nil {
		t.Fatal("unsafe method must evict its own root key before forwarding")
	}
	if got, _ := store.Get(ctx, refRootKey); got != nil {
		t.Fatal("a same-origin Content-Location on the request must be evicted before forwarding too")
	}
}

func TestInvalidateBeforeForwardSkipsSafeMethods(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	now := time.Now()
	reqURL := mustParseURLForInvalidation(t, "https://example.com/orders/42")
	rootKey, _ := RootKey(reqURL.String(), "GET")
	store.Put(ctx, rootKey, NewResourceEntry(now, now, 200, nil, "GET", reqURL.String(), NewBytesResource([]byte("a"))))

	InvalidateBeforeForward(ctx, store, "GET", reqURL, nil, discardLogger())

	if got, _ := store.Get(ctx, rootKey); got == nil {
		t.Fatal("a safe GET must never evict before forwarding")
	}
}
