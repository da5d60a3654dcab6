package httpcache

import "testing"

func TestHeadersGetCaseInsensitive(t *testing.T) {
	h := Headers{{Name: "Content-Type", Value: "text/plain"}}
	if v, ok := h.Get("content-type"); !ok || v != "text/plain" {
		t.Fatalf("Get() = %q, %v, want text/plain, true", v, ok)
	}
	if _, ok := h.Get("Missing"); ok {
		t.Fatal("Get() found a header that was never set")
	}
	if v := h.GetDefault("Missing"); v != "" {
		t.Fatalf("GetDefault() = %q, want empty", v)
	}
}

func TestHeadersHas(t *testing.T) {
	h := Headers{{Name: "ETag", Value: `"abc"`}}
	if !h.Has("etag") {
		t.Fatal("Has() should match case-insensitively")
	}
	if h.Has("Last-Modified") {
		t.Fatal("Has() should not match an absent header")
	}
}

func TestHeadersValuesPreservesOrder(t *testing.T) {
	h := Headers{
		{Name: "Vary", Value: "Accept"},
		{Name: "Content-Type", Value: "text/html"},
		{Name: "vary", Value: "Accept-Language"},
	}
	got := h.Values("Vary")
	want := []string{"Accept", "Accept-Language"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
}

func TestHeadersAddKeepsDuplicates(t *testing.T) {
	var h Headers
	h = h.Add("Set-Cookie", "a=1")
	h = h.Add("Set-Cookie", "b=2")
	if len(h) != 2 {
		t.Fatalf("expected 2 fields after two Add calls, got %d", len(h))
	}
}

func TestHeadersSetReplacesAllOccurrences(t *testing.T) {
	h := Headers{
		{Name: "X-Tag", Value: "one"},
		{Name: "x-tag", Value: "two"},
		{Name: "Content-Type", Value: "text/plain"},
	}
	h = h.Set("X-Tag", "final")
	if vals := h.Values("X-Tag"); len(vals) != 1 || vals[0] != "final" {
		t.Fatalf("Set() left %v, want a single final value", vals)
	}
	if !h.Has("Content-Type") {
		t.Fatal("Set() must not disturb unrelated headers")
	}
}

func TestHeadersRemove(t *testing.T) {
	h := Headers{
		{Name: "A", Value: "1"},
		{Name: "B", Value: "2"},
		{Name: "a", Value: "3"},
	}
	h = h.Remove("a")
	if h.Has("A") {
		t.Fatal("Remove() should delete every case-insensitive occurrence")
	}
	if v, _ := h.Get("B"); v != "2" {
		t.Fatalf("Remove() disturbed an unrelated header, got %q", v)
	}
}

func TestHeadersCloneIsIndependent(t *testing.T) {
	h := Headers{{Name: "A", Value: "1"}}
	clone := h.Clone()
	clone[0].Value = "2"
	if v, _ := h.Get("A"); v != "1" {
		t.Fatalf("mutating the clone affected the original: %q", v)
	}
}

func TestStripHopByHop(t *testing.T) {
	h := Headers{
		{Name: "Connection", Value: "X-Custom, Keep-Alive"},
		{Name: "Keep-Alive", Value: "timeout=5"},
		{Name: "X-Custom", Value: "should be stripped"},
		{Name: "Transfer-Encoding", Value: "chunked"},
		{Name: "Content-Length", Value: "10"},
		{Name: "Content-Type", Value: "text/plain"},
	}
	out := stripHopByHop(h)
	for _, name := range []string{"Connection", "Keep-Alive", "X-Custom", "Transfer-Encoding"} {
		if out.Has(name) {
			t.Fatalf("stripHopByHop() left %q in place", name)
		}
	}
	if !out.Has("Content-Length") || !out.Has("Content-Type") {
		t.Fatal("stripHopByHop() must preserve storable end-to-end headers")
	}
}

func TestEndToEndNamesDedupesAndExcludesHopByHop(t *testing.T) {
	h := Headers{
		{Name: "Connection", Value: "X-Internal"},
		{Name: "X-Internal", Value: "drop me"},
		{Name: "ETag", Value: `"v1"`},
		{Name: "etag", Value: `"v1-dup-case"`},
	}
	names := endToEndNames(h)
	seen := map[string]int{}
	for _, n := range names {
		seen[lower(n)]++
	}
	if seen["x-internal"] != 0 {
		t.Fatal("endToEndNames() must exclude Connection-listed headers")
	}
	if seen["etag"] != 1 {
		t.Fatalf("endToEndNames() should list etag once, got %d times", seen["etag"])
	}
}

func lower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + ('a' - 'A')
		}
	}
	return string(out)
}
