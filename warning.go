// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"net/http"
)

// headerWarning is the header name the now-obsoleted Warning mechanism
// (RFC 7234 §5.5, carried forward by RFC 9111 §4.5) uses to flag a
// cache-module-originated response.
const headerWarning = "Warning"

// Warning codes §4.5 and §4.5's stale/revalidation-failure cases attach to
// a served response. RFC 9111 obsoletes the Warning header field itself,
// but these codes remain useful diagnostics for callers that still look.
const (
	warningResponseIsStale     = `110 - "Response is Stale"`
	warningRevalidationFailed  = `111 - "Revalidation Failed"`
	warningDisconnectedOp      = `112 - "Disconnected Operation"`
	warningHeuristicExpiration = `113 - "Heuristic Expiration"`
)

// addWarningHeader adds a Warning header to the response per RFC 7234 §5.5.
// Warning headers can be stacked, so Add is used instead of Set.
func addWarningHeader(resp *http.Response, warningCode string) {
	resp.Header.Add(headerWarning, warningCode)
}

// addStaleWarning adds the "110 Response is Stale" warning header.
func addStaleWarning(resp *http.Response) {
	addWarningHeader(resp, warningResponseIsStale)
}

// addRevalidationFailedWarning adds the "111 Revalidation Failed" warning header.
func addRevalidationFailedWarning(resp *http.Response) {
	addWarningHeader(resp, warningRevalidationFailed)
}
