package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseHTTPDate parses an HTTP-date value, accepting the three formats RFC
// 9110 §5.6.7 requires a recipient to understand: IMF-fixdate (preferred),
// obsolete RFC 850 format, and ANSI C's asctime() format. It delegates to
// net/http.ParseTime, which already implements exactly this three-format
// fallback chain — reimplementing date parsing by hand here would just be a
// slower, more bug-prone copy of that stdlib routine.
func ParseHTTPDate(value string) (time.Time, error) {
	return http.ParseTime(value)
}

// FormatHTTPDate renders t as IMF-fixdate, the only format the core ever
// writes (§6: "emit only IMF-fixdate when writing").
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// parseAgeSeconds parses the Age response header (RFC 9111 §5.1): a
// non-negative integer number of seconds. A missing or malformed header
// yields zero, per §4.1 ("entry with a malformed Age header uses zero").
func parseAgeSeconds(h Headers) time.Duration {
	v, ok := h.Get("Age")
	if !ok {
		return 0
	}
	v = strings.TrimSpace(v)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
