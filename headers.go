// Package httpcache provides a RFC 9111 compliant HTTP caching policy engine
// that sits between an HTTP client and an origin server.
package httpcache

import "strings"

// Field is a single (name, value) header occurrence. Names are matched
// case-insensitively but emitted with whatever case they were set.
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered multimap of header fields. Unlike net/http.Header it
// never canonicalizes a name and never silently drops or reorders
// list-valued headers; callers that need "all values for X" must ask for
// them explicitly via Values.
type Headers []Field

// Get returns the first value stored under name, case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// GetDefault is like Get but returns "" when the header is absent.
func (h Headers) GetDefault(name string) string {
	v, _ := h.Get(name)
	return v
}

// Has reports whether name occurs at least once.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Values returns every value stored under name, in original order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Add appends a new occurrence of name, preserving any existing ones.
func (h Headers) Add(name, value string) Headers {
	return append(h, Field{Name: name, Value: value})
}

// Set removes every existing occurrence of name and appends a single new one.
func (h Headers) Set(name, value string) Headers {
	out := h.Remove(name)
	return append(out, Field{Name: name, Value: value})
}

// Remove deletes every occurrence of name, preserving order of the rest.
func (h Headers) Remove(name string) Headers {
	out := make(Headers, 0, len(h))
	for _, f := range h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// hopByHopHeaders are removed before any response is stored, per RFC 9111
// §3.1: these are meaningful only for the single transport hop that carried
// the response, not for a cache entry that may be replayed much later.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// connectionListedNames returns the lowercased set of header names listed in
// any Connection header value, which must also be stripped before storage.
func connectionListedNames(h Headers) map[string]bool {
	out := map[string]bool{}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				out[tok] = true
			}
		}
	}
	return out
}

// stripHopByHop returns a copy of h with hop-by-hop headers, "Transfer-Encoding"
// and any header named in h's own Connection header removed. Content-Length
// is preserved.
func stripHopByHop(h Headers) Headers {
	listed := connectionListedNames(h)
	out := make(Headers, 0, len(h))
	for _, f := range h {
		lname := strings.ToLower(f.Name)
		if hopByHopHeaders[lname] || listed[lname] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// endToEndNames returns the header names in h that are not hop-by-hop and not
// Connection-listed, each name once (compared case-insensitively) and in the
// case of its first occurrence; used when merging a 304
// response's headers into a stored entry (§4.2).
func endToEndNames(h Headers) []string {
	listed := connectionListedNames(h)
	seen := map[string]bool{}
	var out []string
	for _, f := range h {
		lname := strings.ToLower(f.Name)
		if hopByHopHeaders[lname] || listed[lname] || seen[lname] {
			continue
		}
		seen[lname] = true
		out = append(out, f.Name)
	}
	return out
}
