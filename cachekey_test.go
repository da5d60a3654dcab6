package httpcache

import "testing"

func TestRootKeyDeterminism(t *testing.T) {
	a, err := RootKey("https://Example.com:443/a/b/../c", "GET")
	if err != nil {
		t.Fatalf("RootKey() failed: %v", err)
	}
	b, err := RootKey("HTTPS://example.com/a/c", "GET")
	if err != nil {
		t.Fatalf("RootKey() failed: %v", err)
	}
	if a != b {
		t.Fatalf("RootKey(%q) = %q, RootKey(%q) = %q, want equal keys for equivalent URLs", "https://Example.com:443/a/b/../c", a, "HTTPS://example.com/a/c", b)
	}
}

func TestRootKeyDefaultsPortFromScheme(t *testing.T) {
	https, err := RootKey("https://example.com/", "GET")
	if err != nil {
		t.Fatalf("RootKey() failed: %v", err)
	}
	if https != "https://example.com:443/" {
		t.Fatalf("RootKey() = %q, want explicit :443", https)
	}

	http_, err := RootKey("http://example.com/", "GET")
	if err != nil {
		t.Fatalf("RootKey() failed: %v", err)
	}
	if http_ != "http://example.com:80/" {
		t.Fatalf("RootKey() = %q, want explicit :80", http_)
	}
}

func TestRootKeyDistinguishesQueryAndPath(t *testing.T) {
	a, _ := RootKey("https://example.com/search?q=1", "GET")
	b, _ := RootKey("https://example.com/search?q=2", "GET")
	c, _ := RootKey("https://example.com/search", "GET")
	if a == b || a == c || b == c {
		t.Fatal("RootKey() must distinguish distinct query strings and a query-less URL")
	}
}

func TestRootKeyPreservesMeaningfulTrailingSlash(t *testing.T) {
	withSlash, _ := RootKey("https://example.com/a/", "GET")
	withoutSlash, _ := RootKey("https://example.com/a", "GET")
	if withSlash == withoutSlash {
		t.Fatal("RootKey() must not collapse a meaningful trailing slash into its slash-less form")
	}
}

func TestVariantKeyDeterminism(t *testing.T) {
	h1 := Headers{
		{Name: "Accept-Encoding", Value: "gzip, br"},
		{Name: "Accept-Language", Value: "en-US"},
	}
	h2 := Headers{
		{Name: "Accept-Language", Value: "en-US"},
		{Name: "Accept-Encoding", Value: "GZIP, BR"},
	}
	a := VariantKey([]string{"Accept-Encoding", "Accept-Language"}, h1)
	b := VariantKey([]string{"Accept-Language", "Accept-Encoding"}, h2)
	if a != b {
		t.Fatalf("VariantKey() = %q, %q, want equal keys regardless of Vary-name order or token casing", a, b)
	}
}

func TestVariantKeyDistinguishesDifferentValues(t *testing.T) {
	a := VariantKey([]string{"Accept-Encoding"}, Headers{{Name: "Accept-Encoding", Value: "gzip"}})
	b := VariantKey([]string{"Accept-Encoding"}, Headers{{Name: "Accept-Encoding", Value: "br"}})
	if a == b {
		t.Fatal("VariantKey() must distinguish different header values")
	}
}

func TestVariantKeyIgnoresStarAndDuplicates(t *testing.T) {
	h := Headers{{Name: "Accept-Encoding", Value: "gzip"}}
	key := VariantKey([]string{"Accept-Encoding", "*", "Accept-Encoding"}, h)
	want := VariantKey([]string{"Accept-Encoding"}, h)
	if key != want {
		t.Fatalf("VariantKey() = %q, want %q (a bare * and duplicate names must be ignored)", key, want)
	}
}

func TestVariantKeyEscapesDelimiters(t *testing.T) {
	h := Headers{{Name: "X-Test", Value: "a=b&c{d}"}}
	key := VariantKey([]string{"X-Test"}, h)
	names, ok := ParseVariantKey(key)
	if !ok {
		t.Fatalf("ParseVariantKey(%q) failed to parse VariantKey's own output", key)
	}
	if names["x-test"] != "a=b&c{d}" {
		t.Fatalf("round-tripped value = %q, want the original value preserved through escaping", names["x-test"])
	}
}

func TestStorageKeyConcatenatesVariantAndRoot(t *testing.T) {
	if got := StorageKey("{a=b}", "https://example.com:443/"); got != "{a=b}https://example.com:443/" {
		t.Fatalf("StorageKey() = %q, want the variant key prefixed onto the root key", got)
	}
}

func TestParseVariantKeyRoundTrip(t *testing.T) {
	h := Headers{
		{Name: "Accept-Encoding", Value: "gzip"},
		{Name: "Accept-Language", Value: "en"},
	}
	key := VariantKey([]string{"Accept-Encoding", "Accept-Language"}, h)
	names, ok := ParseVariantKey(key)
	if !ok {
		t.Fatalf("ParseVariantKey(%q) failed", key)
	}
	if names["accept-encoding"] != "gzip" || names["accept-language"] != "en" {
		t.Fatalf("ParseVariantKey() = %v, want both header values recovered", names)
	}
}

func TestParseVariantKeyRejectsMalformedInput(t *testing.T) {
	if _, ok := ParseVariantKey("not-a-variant-key"); ok {
		t.Fatal("ParseVariantKey() should reject a key with no surrounding braces")
	}
	if _, ok := ParseVariantKey("{missing-equals}"); ok {
		t.Fatal("ParseVariantKey() should reject a segment with no '=' separator")
	}
}

func TestParseVariantKeyEmptyBody(t *testing.T) {
	names, ok := ParseVariantKey("{}")
	if !ok {
		t.Fatal("ParseVariantKey(\"{}\") should parse as an empty, valid variant key")
	}
	if len(names) != 0 {
		t.Fatalf("ParseVariantKey(\"{}\") = %v, want empty map", names)
	}
}

func TestVaryHeaderNamesSplitsAndDetectsStar(t *testing.T) {
	h := Headers{{Name: "Vary", Value: "Accept-Encoding, Accept-Language"}}
	names, hasStar := VaryHeaderNames(h)
	if hasStar {
		t.Fatal("VaryHeaderNames() should not report a star for an explicit list")
	}
	if len(names) != 2 || names[0] != "Accept-Encoding" || names[1] != "Accept-Language" {
		t.Fatalf("VaryHeaderNames() = %v, want [Accept-Encoding Accept-Language]", names)
	}
}

func TestVaryHeaderNamesDetectsStar(t *testing.T) {
	h := Headers{{Name: "Vary", Value: "*"}}
	_, hasStar := VaryHeaderNames(h)
	if !hasStar {
		t.Fatal("VaryHeaderNames() should report hasStar for a bare *")
	}
}

func TestVaryHeaderNamesEmptyWhenAbsent(t *testing.T) {
	names, hasStar := VaryHeaderNames(nil)
	if names != nil || hasStar {
		t.Fatalf("VaryHeaderNames(nil) = %v, %v, want nil, false", names, hasStar)
	}
}
