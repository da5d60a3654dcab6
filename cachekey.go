package httpcache

import (
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
)

// tokenListHeaders are headers whose values are normalized by lowercasing
// each comma-separated token when they participate in a variant key; this
// keeps "Accept-Encoding: GZIP" and "Accept-Encoding: gzip" selecting the
// same stored variant.
var tokenListHeaders = map[string]bool{
	"accept-encoding": true,
	"accept-language": true,
	"accept":          true,
	"connection":      true,
	"te":              true,
	"transfer-encoding": true,
	"upgrade":         true,
	"vary":            true,
}

// RootKey derives the canonical root key for a request (§3.2): scheme and
// host lowercased, port always explicit (defaulted from the scheme when the
// request omitted it), path dot-segment-resolved and percent-unreserved
// decoded, fragment stripped, query left intact.
func RootKey(rawURL, method string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPort(scheme)
	}
	p := normalizePath(u.EscapedPath())

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteByte(':')
	b.WriteString(port)
	b.WriteString(p)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

func defaultPort(scheme string) string {
	switch scheme {
	case "https":
		return "443"
	default:
		return "80"
	}
}

// normalizePath resolves "." and ".." segments and percent-decodes
// unreserved octets (RFC 3986 §2.3: ALPHA / DIGIT / "-" / "." / "_" / "~"),
// leaving reserved and non-ASCII encodings untouched.
func normalizePath(p string) string {
	if p == "" {
		p = "/"
	}
	decoded := decodeUnreserved(p)
	cleaned := path.Clean(decoded)
	if cleaned == "." {
		cleaned = "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// path.Clean drops a trailing slash that the original path may have
	// carried meaningfully (distinct resource under many servers); restore it.
	if strings.HasSuffix(decoded, "/") && !strings.HasSuffix(cleaned, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func isUnreservedByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	}
	return false
}

func decodeUnreserved(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				c := byte(v)
				if isUnreservedByte(c) {
					b.WriteByte(c)
					i += 2
					continue
				}
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// percentEncodeKeyComponent escapes the delimiters used by the variant-key
// grammar itself ("{", "}", "=", "&") so that a header value containing one
// of them can never be confused with key structure.
func percentEncodeKeyComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{', '}', '=', '&', '%':
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(strconv.FormatUint(uint64(c), 16)))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// canonicalHeaderValue joins every occurrence of a selecting header into a
// single comparable string: values concatenated with ",", inner whitespace
// trimmed, tokens lowercased when the header is a token-list header (§3.2).
func canonicalHeaderValue(lowerName string, values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tokenListHeaders[lowerName] {
				tok = strings.ToLower(tok)
			}
			parts = append(parts, tok)
		}
	}
	return strings.Join(parts, ",")
}

// VariantKey derives the variant key for a set of Vary-listed header names
// against a request's headers (§3.2): "{k1=v1&k2=v2...}" with names
// lowercased and sorted ascending.
func VariantKey(varyNames []string, reqHeaders Headers) string {
	type pair struct{ k, v string }
	var pairs []pair
	seen := map[string]bool{}
	for _, name := range varyNames {
		lname := strings.ToLower(strings.TrimSpace(name))
		if lname == "" || lname == "*" || seen[lname] {
			continue
		}
		seen[lname] = true
		pairs = append(pairs, pair{lname, canonicalHeaderValue(lname, reqHeaders.Values(name))})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	var b strings.Builder
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(percentEncodeKeyComponent(p.k))
		b.WriteByte('=')
		b.WriteString(percentEncodeKeyComponent(p.v))
	}
	b.WriteByte('}')
	return b.String()
}

// StorageKey concatenates a variant key and a root key (§3.2).
func StorageKey(variantKey, rootKey string) string {
	return variantKey + rootKey
}

// ParseVariantKey reverses VariantKey's encoding, recovering the (lowercased
// header name, canonical value) pairs it was built from. Used by the
// freshness calculator to learn which header names a previously stored
// variant selected on, without needing to fetch the variant's own entry.
func ParseVariantKey(key string) (map[string]string, bool) {
	if len(key) < 2 || key[0] != '{' || key[len(key)-1] != '}' {
		return nil, false
	}
	body := key[1 : len(key)-1]
	out := map[string]string{}
	if body == "" {
		return out, true
	}
	for _, part := range strings.Split(body, "&") {
		i := strings.IndexByte(part, '=')
		if i < 0 {
			return nil, false
		}
		out[percentDecodeKeyComponent(part[:i])] = percentDecodeKeyComponent(part[i+1:])
	}
	return out, true
}

func percentDecodeKeyComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// VaryHeaderNames extracts and splits the Vary response header's
// comma-separated header-name list. A bare "*" is reported via hasStar.
func VaryHeaderNames(h Headers) (names []string, hasStar bool) {
	for _, v := range h.Values("Vary") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if tok == "*" {
				hasStar = true
				continue
			}
			names = append(names, tok)
		}
	}
	return names, hasStar
}
