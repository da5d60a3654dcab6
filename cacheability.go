package httpcache

import (
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// cacheableStatus is the set of statuses §4.2 lists as cacheable absent any
// explicit response freshness directive.
var cacheableStatus = map[int]bool{
	200: true, 203: true, 204: true, 206: true, 300: true, 301: true,
	404: true, 405: true, 410: true, 414: true, 501: true,
}

// cacheableMethod restricts storage to methods whose response semantics are
// well understood; POST is covered only via the allow_303_caching /
// explicit-freshness extension point, which this core does not implement
// (§4.2 item 1 notes it as "outside this spec").
func cacheableMethod(method string) bool {
	return method == "GET" || method == "HEAD"
}

// IsStorable decides whether an origin response may be written to the
// cache, per the rule list in §4.2. reqHeaders/reqMethod/reqURL describe the
// request that produced respHeaders/respStatus; cfg carries the
// shared_cache and max_object_size_bytes settings. bodyLen is the response
// body length if known, or -1.
func IsStorable(reqMethod string, reqHeaders Headers, reqURL *url.URL, respStatus int, respHeaders Headers, bodyLen int64, httpMinor int, cfg *Config, log *slog.Logger) bool {
	if !cacheableMethod(reqMethod) {
		return false
	}

	respCC := parseCacheControl(respHeaders, log)
	reqCC := parseCacheControl(reqHeaders, log)

	explicitlyCacheable := respCC.has(directivePublic) || respCC.has(directiveMaxAge) || respCC.has(directiveSMaxAge)
	if !cacheableStatus[respStatus] && !explicitlyCacheable {
		return false
	}
	if respStatus == 206 {
		return false
	}

	if respCC.has(directiveNoStore) || reqCC.has(directiveNoStore) {
		return false
	}

	if cfg.SharedCache {
		private := respCC.has(directivePrivate)
		hasAuth := reqHeaders.Has("Authorization")
		permitted := respCC.has(directivePublic) || respCC.has(directiveSMaxAge) || respCC.has(directiveMustRevalidate)
		if (private || hasAuth) && !permitted {
			return false
		}
	}

	if _, hasStar := VaryHeaderNames(respHeaders); hasStar {
		return false
	}

	if cfg.MaxObjectSizeBytes > 0 && bodyLen >= 0 && bodyLen > cfg.MaxObjectSizeBytes {
		return false
	}

	// §4.5: an HTTP/1.0 response with no Expires is not cached when the
	// request URL carries a query component.
	if httpMinor == 0 && !respHeaders.Has("Expires") && reqURL != nil && reqURL.RawQuery != "" {
		return false
	}

	return true
}

// PrepareForStorage returns the header set an entry is built from: hop-by-hop
// and Connection-listed headers removed, Transfer-Encoding dropped,
// Content-Length kept, and any request Authorization never carried over
// (entries are built purely from the response side, so there is nothing to
// strip there beyond the usual hop-by-hop set).
func PrepareForStorage(respHeaders Headers) Headers {
	return stripHopByHop(respHeaders)
}

// MergeValidationResponse implements the 304-merge algorithm of §4.2: given
// the stored entry prior and the validating 304 response's headers/instants,
// it returns the merged entry, or (prior, false) when the 304's Date is
// strictly older than prior's — a regression that means "treat validation as
// having failed; keep prior unchanged".
func MergeValidationResponse(prior *Entry, validationReqInstant, validationRespInstant time.Time, validationHeaders Headers) (merged *Entry, ok bool) {
	if raw, has := validationHeaders.Get("Date"); has {
		if vDate, err := ParseHTTPDate(raw); err == nil && vDate.Before(prior.Date()) {
			return prior, false
		}
	}

	working := prior.Headers.Clone()
	for _, name := range endToEndNames(validationHeaders) {
		if strings.EqualFold(name, "Content-Encoding") {
			continue
		}
		working = working.Remove(name)
		for _, v := range validationHeaders.Values(name) {
			working = working.Add(name, v)
		}
	}

	out := prior.Clone()
	out.RequestInstant = validationReqInstant
	out.ResponseInstant = validationRespInstant
	out.Headers = working
	return out, true
}
