package httpcache

import (
	"testing"
	"time"
)

func TestBuildConditionalRequestSingleCandidate(t *testing.T) {
	now := time.Now()
	e := NewResourceEntry(now, now, 200,
		Headers{
			{Name: "ETag", Value: `"v1"`},
			{Name: "Last-Modified", Value: FormatHTTPDate(now.Add(-time.Hour))},
		}, "GET", "https://example.com/", nil)

	out := BuildConditionalRequest(nil, DefaultConfig(), e)
	if v, _ := out.Get("If-None-Match"); v != `"v1"` {
		t.Fatalf("If-None-Match = %q, want %q", v, `"v1"`)
	}
	if v, _ := out.Get("If-Modified-Since"); v != FormatHTTPDate(now.Add(-time.Hour)) {
		t.Fatalf("If-Modified-Since = %q, want the entry's Last-Modified", v)
	}
}

func TestBuildConditionalRequestFoldsMultipleVariantETags(t *testing.T) {
	now := time.Now()
	a := NewResourceEntry(now, now, 200, Headers{{Name: "ETag", Value: `"a"`}}, "GET", "https://example.com/", nil)
	b := NewResourceEntry(now, now, 200, Headers{{Name: "ETag", Value: `"b"`}}, "GET", "https://example.com/", nil)

	out := BuildConditionalRequest(nil, DefaultConfig(), a, b)
	want := `"a", "b"`
	if v, _ := out.Get("If-None-Match"); v != want {
		t.Fatalf("If-None-Match = %q, want %q", v, want)
	}
}

func TestBuildConditionalRequestSkipsNilCandidates(t *testing.T) {
	now := time.Now()
	e := NewResourceEntry(now, now, 200, Headers{{Name: "ETag", Value: `"only"`}}, "GET", "https://example.com/", nil)
	out := BuildConditionalRequest(nil, DefaultConfig(), nil, e, nil)
	if v, _ := out.Get("If-None-Match"); v != `"only"` {
		t.Fatalf("If-None-Match = %q, want %q", v, `"only"`)
	}
}

func TestBuildConditionalRequestMustRevalidateForcesMaxAgeZero(t *testing.T) {
	now := time.Now()
	e := NewResourceEntry(now, now, 200,
		Headers{{Name: "ETag", Value: `"v1"`}, {Name: "Cache-Control", Value: "must-revalidate"}},
		"GET", "https://example.com/", nil)

	out := BuildConditionalRequest(nil, DefaultConfig(), e)
	if v, _ := out.Get("Cache-Control"); v != "max-age=0" {
		t.Fatalf("Cache-Control = %q, want max-age=0 when the candidate forces end-to-end revalidation", v)
	}
}

func TestBuildConditionalRequestPreservesOriginalHeaders(t *testing.T) {
	now := time.Now()
	e := NewResourceEntry(now, now, 200, Headers{{Name: "ETag", Value: `"v1"`}}, "GET", "https://example.com/", nil)
	reqHeaders := Headers{{Name: "Accept", Value: "text/html"}}

	out := BuildConditionalRequest(reqHeaders, DefaultConfig(), e)
	if v, _ := out.Get("Accept"); v != "text/html" {
		t.Fatalf("Accept = %q, want the original request header preserved", v)
	}
}

func TestRequiresEndToEndRevalidation(t *testing.T) {
	now := time.Now()
	cfg := DefaultConfig()

	plain := NewResourceEntry(now, now, 200, Headers{{Name: "Cache-Control", Value: "max-age=60"}}, "GET", "https://example.com/", nil)
	if requiresEndToEndRevalidation(plain, cfg) {
		t.Fatal("a plain max-age entry should not require end-to-end revalidation")
	}

	must := NewResourceEntry(now, now, 200, Headers{{Name: "Cache-Control", Value: "must-revalidate"}}, "GET", "https://example.com/", nil)
	if !requiresEndToEndRevalidation(must, cfg) {
		t.Fatal("must-revalidate should require end-to-end revalidation")
	}

	proxyOnly := NewResourceEntry(now, now, 200, Headers{{Name: "Cache-Control", Value: "proxy-revalidate"}}, "GET", "https://example.com/", nil)
	cfg.SharedCache = true
	if !requiresEndToEndRevalidation(proxyOnly, cfg) {
		t.Fatal("proxy-revalidate should require end-to-end revalidation in a shared cache")
	}
	cfg.SharedCache = false
	if requiresEndToEndRevalidation(proxyOnly, cfg) {
		t.Fatal("proxy-revalidate should be ignored by a private cache")
	}
}

func TestBuildUnconditionalRevalidationStripsPreconditions(t *testing.T) {
	reqHeaders := Headers{
		{Name: "If-None-Match", Value: `"v1"`},
		{Name: "If-Modified-Since", Value: "Mon, 01 Jan 2024 00:00:00 GMT"},
		{Name: "If-Match", Value: `"v1"`},
		{Name: "If-Unmodified-Since", Value: "Mon, 01 Jan 2024 00:00:00 GMT"},
		{Name: "If-Range", Value: `"v1"`},
		{Name: "Accept", Value: "text/html"},
	}

	out := BuildUnconditionalRevalidation(reqHeaders)
	for _, name := range conditionalHeaders {
		if out.Has(name) {
			t.Fatalf("BuildUnconditionalRevalidation() left %q in place, want it stripped", name)
		}
	}
	if v, _ := out.Get("Accept"); v != "text/html" {
		t.Fatalf("Accept = %q, want the unrelated header preserved", v)
	}
	if v, _ := out.Get("Cache-Control"); v != "no-cache" {
		t.Fatalf("Cache-Control = %q, want no-cache forced", v)
	}
}
