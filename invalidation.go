package httpcache

import (
	"context"
	"log/slog"
	"net/url"
	"time"
)

// IsUnsafeMethod reports whether method is anything other than GET or HEAD
// (§4.4: "For any method that is not GET and not HEAD").
func IsUnsafeMethod(method string) bool {
	return method != "GET" && method != "HEAD"
}

// isSameOrigin reports whether two URLs share scheme and host:port, the
// boundary invalidation is never allowed to cross (§4.4: "Entries at
// foreign origins are never evicted").
func isSameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}

// evictKeyAndVariants removes the entry at key, and if it is a variant
// root, every variant it enumerates too — a plain root-key delete would
// otherwise orphan the variant entries, unreachable but never reclaimed.
func evictKeyAndVariants(ctx context.Context, store Backend, key string, log *slog.Logger) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		log.Warn("invalidation lookup failed", "key", key, "error", err)
	}
	if entry != nil && entry.Kind == KindVariantRoot {
		for _, storageKey := range entry.Variants {
			if err := store.Remove(ctx, storageKey); err != nil {
				log.Warn("failed to evict variant entry", "key", storageKey, "error", err)
			}
		}
	}
	if err := store.Remove(ctx, key); err != nil {
		log.Warn("failed to evict cache entry", "key", key, "error", err)
	}
}

// InvalidateBeforeForward implements the pre-forward half of §4.4: for any
// unsafe method, the root key (and its variants) is scheduled for eviction
// before the request ever reaches the origin, along with any same-origin
// Content-Location / Location the request itself happens to carry.
func InvalidateBeforeForward(ctx context.Context, store Backend, method string, reqURL *url.URL, reqHeaders Headers, log *slog.Logger) {
	if !IsUnsafeMethod(method) {
		return
	}
	rootKey, err := RootKey(reqURL.String(), "GET")
	if err != nil {
		log.Warn("invalidation: failed to derive root key", "url", reqURL.String(), "error", err)
		return
	}
	evictKeyAndVariants(ctx, store, rootKey, log)

	for _, headerName := range []string{"Content-Location", "Location"} {
		if v, ok := reqHeaders.Get(headerName); ok {
			invalidateReferencedURL(ctx, store, reqURL, v, log)
		}
	}
}

// InvalidateAfterResponse implements the post-response half of §4.4: an
// unsafe method with a non-error response evicts the root key outright, and
// evicts any same-origin Content-Location/Location target guarded by the
// Date/ETag comparison the spec requires (a genuinely fresher or
// differently-tagged representation must not survive; one that the
// response itself confirms unchanged is preserved).
func InvalidateAfterResponse(ctx context.Context, store Backend, method string, reqURL *url.URL, respStatus int, respHeaders Headers, log *slog.Logger) {
	if !IsUnsafeMethod(method) || respStatus < 200 || respStatus > 399 {
		return
	}
	rootKey, err := RootKey(reqURL.String(), "GET")
	if err != nil {
		log.Warn("invalidation: failed to derive root key", "url", reqURL.String(), "error", err)
		return
	}
	evictKeyAndVariants(ctx, store, rootKey, log)

	for _, headerName := range []string{"Content-Location", "Location"} {
		if v, ok := respHeaders.Get(headerName); ok {
			invalidateGuardedTarget(ctx, store, reqURL, v, respHeaders, log)
		}
	}
}

func invalidateReferencedURL(ctx context.Context, store Backend, reqURL *url.URL, ref string, log *slog.Logger) {
	target, err := reqURL.Parse(ref)
	if err != nil || !isSameOrigin(reqURL, target) {
		return
	}
	rootKey, err := RootKey(target.String(), "GET")
	if err != nil {
		return
	}
	evictKeyAndVariants(ctx, store, rootKey, log)
}

// invalidateGuardedTarget evicts the entry resolved by ref only when the
// response doesn't demonstrate the target is still the same representation
// (§4.4's Date/ETag guard).
func invalidateGuardedTarget(ctx context.Context, store Backend, reqURL *url.URL, ref string, respHeaders Headers, log *slog.Logger) {
	target, err := reqURL.Parse(ref)
	if err != nil || !isSameOrigin(reqURL, target) {
		return
	}
	rootKey, err := RootKey(target.String(), "GET")
	if err != nil {
		return
	}
	existing, err := store.Get(ctx, rootKey)
	if err != nil || existing == nil || existing.Kind != KindResource {
		// Variant roots and absent entries have nothing to guard; nothing
		// to preserve either, so no eviction is required.
		return
	}

	existingDate, hasExistingDate := existing.Headers.Get("Date")
	if !hasExistingDate {
		evictKeyAndVariants(ctx, store, rootKey, log)
		return
	}
	existingParsed, err := ParseHTTPDate(existingDate)
	if err != nil {
		evictKeyAndVariants(ctx, store, rootKey, log)
		return
	}

	respDateRaw, hasRespDate := respHeaders.Get("Date")
	var respDate time.Time
	var respDateErr error
	if hasRespDate {
		respDate, respDateErr = ParseHTTPDate(respDateRaw)
	}
	dateSaysEvict := !hasRespDate || respDateErr != nil || !respDate.Before(existingParsed)

	etagDiffers := false
	if respRaw, ok := respHeaders.Get("ETag"); ok {
		if respTag, ok := ParseValidator(respRaw); ok {
			if existingTag, ok := existing.ETag(); ok {
				etagDiffers = !StrongMatch(existingTag, respTag)
			}
		}
	}

	if dateSaysEvict && sameStrongETag(existing, respHeaders) {
		// confirmed same representation despite the Date comparison: preserved.
		return
	}
	if dateSaysEvict || etagDiffers {
		evictKeyAndVariants(ctx, store, rootKey, log)
	}
}

func sameStrongETag(existing *Entry, respHeaders Headers) bool {
	existingTag, ok := existing.ETag()
	if !ok {
		return false
	}
	respRaw, ok := respHeaders.Get("ETag")
	if !ok {
		return false
	}
	respTag, ok := ParseValidator(respRaw)
	if !ok {
		return false
	}
	return StrongMatch(existingTag, respTag)
}
