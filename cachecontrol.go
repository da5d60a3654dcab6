package httpcache

import (
	"log/slog"
	"strconv"
	"strings"
)

const (
	directiveNoStore              = "no-store"
	directiveNoCache              = "no-cache"
	directiveMaxAge               = "max-age"
	directiveSMaxAge              = "s-maxage"
	directiveMinFresh             = "min-fresh"
	directiveMaxStale             = "max-stale"
	directiveMustRevalidate       = "must-revalidate"
	directiveProxyRevalidate      = "proxy-revalidate"
	directivePublic               = "public"
	directivePrivate              = "private"
	directiveOnlyIfCached         = "only-if-cached"
	directiveMustUnderstand       = "must-understand"
	directiveStaleWhileRevalidate = "stale-while-revalidate"
	directiveStaleIfError         = "stale-if-error"

	headerPragma  = "Pragma"
	pragmaNoCache = "no-cache"
)

// cacheControl is a parsed Cache-Control directive list: a map from
// directive name to its (possibly empty) value. RFC 9111 §4.2.1 duplicate
// directives use the first occurrence; this parser logs and drops the rest.
type cacheControl map[string]string

// parseCacheControl parses every Cache-Control header occurrence in h.
func parseCacheControl(h Headers, log *slog.Logger) cacheControl {
	cc := cacheControl{}
	seen := map[string]bool{}
	for _, raw := range h.Values("Cache-Control") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			var name, value string
			if i := strings.IndexByte(part, '='); i >= 0 {
				name = strings.TrimSpace(part[:i])
				value = strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
			} else {
				name = part
			}
			name = strings.ToLower(name)
			if seen[name] {
				log.Warn("duplicate Cache-Control directive, keeping first value",
					"directive", name, "ignored_value", value)
				continue
			}
			seen[name] = true
			cc[name] = value
		}
	}
	return cc
}

// has reports whether a boolean directive is present.
func (cc cacheControl) has(name string) bool {
	_, ok := cc[name]
	return ok
}

// seconds parses a directive's value as RFC 9111 delta-seconds. The second
// return is false when the directive is absent; a present-but-unparseable
// value is treated as absent too (§4.2.1: invalid values are logged and
// ignored, not fatal).
func (cc cacheControl) seconds(name string, log *slog.Logger) (int64, bool) {
	v, ok := cc[name]
	if !ok {
		return 0, false
	}
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		log.Warn("invalid Cache-Control delta-seconds value, ignoring", "directive", name, "value", v)
		return 0, false
	}
	return n, true
}

// maxStalePresent reports whether max-stale was sent, and whether it carried
// a bare (valueless) form meaning "accept any staleness".
func (cc cacheControl) maxStalePresent() (seconds int64, bare bool, present bool) {
	v, ok := cc[directiveMaxStale]
	if !ok {
		return 0, false, false
	}
	if v == "" {
		return 0, true, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, true, true
	}
	return n, false, true
}

// requestPragmaNoCache reports Pragma: no-cache acting as Cache-Control:
// no-cache per RFC 9111 §5.4, for HTTP/1.0 compatibility, but only when the
// request carries no Cache-Control header of its own.
func requestPragmaNoCache(h Headers, cc cacheControl) bool {
	if len(cc) > 0 {
		return false
	}
	v, _ := h.Get(headerPragma)
	return strings.EqualFold(strings.TrimSpace(v), pragmaNoCache)
}
