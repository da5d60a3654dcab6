package httpcache

import (
	"log/slog"
	"strings"
)

// BuildConditionalRequest turns a client request plus one or more candidate
// stored entries into a validator-bearing forward request, per §4.3.
// Candidates beyond the first arise when revalidating across multiple
// variants of the same root: every candidate's ETag is folded into a single
// comma-separated If-None-Match list.
func BuildConditionalRequest(reqHeaders Headers, cfg *Config, candidates ...*Entry) Headers {
	out := reqHeaders.Clone()

	var etags []string
	var lastModified string
	for _, e := range candidates {
		if e == nil {
			continue
		}
		if v, ok := e.ETag(); ok {
			etags = append(etags, v.String())
		}
		if lm, ok := e.Headers.Get("Last-Modified"); ok && lastModified == "" {
			lastModified = lm
		}
	}
	if len(etags) > 0 {
		out = out.Set("If-None-Match", strings.Join(etags, ", "))
	}
	if lastModified != "" {
		out = out.Set("If-Modified-Since", lastModified)
	}

	if len(candidates) > 0 && requiresEndToEndRevalidation(candidates[0], cfg) {
		out = out.Set("Cache-Control", "max-age=0")
	}

	return out
}

// requiresEndToEndRevalidation reports whether the candidate's own
// Cache-Control forces intermediaries to revalidate rather than serve from
// their own cache (§4.3 step 4).
func requiresEndToEndRevalidation(e *Entry, cfg *Config) bool {
	cc := parseCacheControl(e.Headers, slog.Default())
	return cc.has(directiveMustRevalidate) || (cfg.SharedCache && cc.has(directiveProxyRevalidate))
}

// conditionalHeaders lists every header name an unconditional revalidation
// must strip, so the forwarded request cannot accidentally satisfy a stale
// precondition the client itself attached.
var conditionalHeaders = []string{
	"If-Match", "If-None-Match", "If-Modified-Since", "If-Unmodified-Since", "If-Range",
}

// BuildUnconditionalRevalidation builds the fallback forward request used
// when a prior 304 came back with a Date older than the cached entry (§4.2
// "304 merging"): every precondition is removed and Cache-Control: no-cache
// is forced, so the origin cannot short-circuit with another 304 against
// stale state.
func BuildUnconditionalRevalidation(reqHeaders Headers) Headers {
	out := reqHeaders.Clone()
	for _, name := range conditionalHeaders {
		out = out.Remove(name)
	}
	out = out.Set("Cache-Control", "no-cache")
	return out
}
