package httpcache

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"
)

// Verdict is the Suitability & Freshness Calculator's classification of a
// stored entry against an incoming request (§4.1).
type Verdict int

const (
	VerdictFresh Verdict = iota
	VerdictStaleUsable
	VerdictMustRevalidate
	VerdictUnusable

	// VerdictStaleRevalidateAsync extends the four verdicts above with RFC
	// 5861's stale-while-revalidate: the entry is stale but still within its
	// response's stale-while-revalidate window, so it is servable immediately
	// provided the caller also kicks off a background revalidation.
	VerdictStaleRevalidateAsync
)

func (v Verdict) String() string {
	switch v {
	case VerdictFresh:
		return "FRESH"
	case VerdictStaleUsable:
		return "STALE_USABLE"
	case VerdictMustRevalidate:
		return "MUST_REVALIDATE"
	case VerdictUnusable:
		return "UNUSABLE"
	case VerdictStaleRevalidateAsync:
		return "STALE_REVALIDATE_ASYNC"
	default:
		return "UNKNOWN"
	}
}

// heuristicCacheableStatus holds the status codes RFC 9111 §4.2.2 permits a
// cache to assign a heuristic freshness lifetime to.
var heuristicCacheableStatus = map[int]bool{
	200: true, 203: true, 204: true, 206: true, 300: true, 301: true,
	404: true, 405: true, 410: true, 414: true, 501: true,
}

// FreshnessLifetime computes an entry's freshness lifetime in priority
// order: shared s-maxage, max-age, Expires-Date, then a heuristic lifetime.
// The heuristic return reports whether the last branch fired, which the
// verdict rule needs to tell "legitimately long-lived" apart from
// "no explicit freshness information at all".
func FreshnessLifetime(e *Entry, cfg *Config, log *slog.Logger) (lifetime time.Duration, heuristic bool) {
	cc := parseCacheControl(e.Headers, log)
	date := e.Date()

	if cfg.SharedCache {
		if secs, ok := cc.seconds(directiveSMaxAge, log); ok {
			return time.Duration(secs) * time.Second, false
		}
	}
	if secs, ok := cc.seconds(directiveMaxAge, log); ok {
		return time.Duration(secs) * time.Second, false
	}
	if expiresRaw, ok := e.Headers.Get("Expires"); ok {
		if expires, err := ParseHTTPDate(expiresRaw); err == nil {
			if !expires.After(date) {
				return 0, false
			}
			return expires.Sub(date), false
		}
	}
	if !cfg.HeuristicCachingEnabled {
		return 0, false
	}
	lastModRaw, hasLastMod := e.Headers.Get("Last-Modified")
	if !hasLastMod || !heuristicCacheableStatus[e.StatusCode] {
		return cfg.HeuristicDefaultLifetime, cfg.HeuristicDefaultLifetime > 0
	}
	lastMod, err := ParseHTTPDate(lastModRaw)
	if err != nil || !date.After(lastMod) {
		return cfg.HeuristicDefaultLifetime, cfg.HeuristicDefaultLifetime > 0
	}
	age := date.Sub(lastMod)
	lifetime = time.Duration(float64(age) * cfg.HeuristicCoefficient)
	return lifetime, true
}

// Classify runs the verdict algorithm of §4.1 for entry e against request
// headers reqHeaders at instant now.
func Classify(now time.Time, e *Entry, reqHeaders Headers, cfg *Config, log *slog.Logger) (verdict Verdict, currentAge, lifetime time.Duration) {
	reqCC := parseCacheControl(reqHeaders, log)
	respCC := parseCacheControl(e.Headers, log)

	if reqCC.has(directiveNoStore) {
		return VerdictUnusable, 0, 0
	}

	currentAge = CurrentAge(e, now)
	lifetime, heuristic := FreshnessLifetime(e, cfg, log)

	forcedStale := false
	if maxAge, ok := reqCC.seconds(directiveMaxAge, log); ok && currentAge > time.Duration(maxAge)*time.Second {
		forcedStale = true
	}
	if minFresh, ok := reqCC.seconds(directiveMinFresh, log); ok {
		if lifetime-currentAge < time.Duration(minFresh)*time.Second {
			forcedStale = true
		}
	}
	if reqCC.has(directiveNoCache) {
		return VerdictMustRevalidate, currentAge, lifetime
	}

	stale := forcedStale || currentAge >= lifetime
	if !stale {
		return VerdictFresh, currentAge, lifetime
	}

	if swr, ok := respCC.seconds(directiveStaleWhileRevalidate, log); ok {
		if currentAge < lifetime+time.Duration(swr)*time.Second {
			return VerdictStaleRevalidateAsync, currentAge, lifetime
		}
	}

	mustRevalidate := respCC.has(directiveMustRevalidate) ||
		(cfg.SharedCache && respCC.has(directiveProxyRevalidate)) ||
		(lifetime == 0 && !heuristic)
	if mustRevalidate {
		return VerdictMustRevalidate, currentAge, lifetime
	}

	if maxStale, bare, present := reqCC.maxStalePresent(); present {
		if bare {
			return VerdictStaleUsable, currentAge, lifetime
		}
		if currentAge-lifetime <= time.Duration(maxStale)*time.Second {
			return VerdictStaleUsable, currentAge, lifetime
		}
	}

	return VerdictMustRevalidate, currentAge, lifetime
}

// SelectVariant resolves a variant root against a request's selecting
// headers (§4.1 "Selection among variants"). It tries the deterministic
// fast path first — parse the header-name set out of one stored variant
// key, recompute the candidate key for this request with that same name
// set, and look it up directly — which costs exactly the "one get for the
// root plus one for the chosen variant" budget in §5. If the request's
// canonicalization doesn't land on an existing key outright (legitimately
// possible when variants were written with different Vary sets), it falls
// back to scanning every variant, matching by recomputed key equality, and
// breaking ties on the most recent entry Date, then on storage-key byte
// order (the open question in §9 resolved here: deterministic, stable
// secondary ordering).
func SelectVariant(ctx context.Context, store Backend, root *Entry, reqHeaders Headers) (*Entry, string, error) {
	if len(root.Variants) == 0 {
		return nil, "", nil
	}

	sortedKeys := make([]string, 0, len(root.Variants))
	for k := range root.Variants {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Strings(sortedKeys)

	if names, ok := ParseVariantKey(sortedKeys[0]); ok {
		varyNames := make([]string, 0, len(names))
		for name := range names {
			varyNames = append(varyNames, name)
		}
		candidate := VariantKey(varyNames, reqHeaders)
		if storageKey, ok := root.Variants[candidate]; ok {
			entry, err := store.Get(ctx, storageKey)
			if err == nil && entry != nil {
				return entry, storageKey, nil
			}
		}
	}

	var storageKeys []string
	for _, vk := range sortedKeys {
		storageKeys = append(storageKeys, root.Variants[vk])
	}
	entries, err := store.BulkGet(ctx, storageKeys)
	if err != nil {
		return nil, "", err
	}

	var best *Entry
	var bestKey string
	for _, vk := range sortedKeys {
		storageKey := root.Variants[vk]
		entry, ok := entries[storageKey]
		if !ok || entry == nil {
			continue
		}
		names, ok := ParseVariantKey(vk)
		if !ok {
			continue
		}
		if !requestMatchesVariant(names, reqHeaders) {
			continue
		}
		if best == nil || entry.Date().After(best.Date()) ||
			(entry.Date().Equal(best.Date()) && storageKey < bestKey) {
			best, bestKey = entry, storageKey
		}
	}
	return best, bestKey, nil
}

func requestMatchesVariant(names map[string]string, reqHeaders Headers) bool {
	for name, want := range names {
		if canonicalHeaderValue(name, reqHeaders.Values(name)) != want {
			return false
		}
	}
	return true
}

// staleIfErrorUsable implements RFC 5861 §4: a stale entry may still be
// served when the attempt to reach the origin (or to revalidate) fails,
// provided either side's stale-if-error directive still covers currentAge.
// The response's own directive takes precedence over the request's, per the
// same priority RFC 5861 gives stale-while-revalidate.
func staleIfErrorUsable(respCC, reqCC cacheControl, currentAge time.Duration, log *slog.Logger) bool {
	if lifetime, bare, present := staleIfErrorPresent(respCC, log); present {
		return bare || currentAge < lifetime
	}
	if lifetime, bare, present := staleIfErrorPresent(reqCC, log); present {
		return bare || currentAge < lifetime
	}
	return false
}

// staleIfErrorPresent mirrors cacheControl.maxStalePresent's bare/seconds
// shape for the stale-if-error directive: present with no value means
// "usable regardless of how stale".
func staleIfErrorPresent(cc cacheControl, log *slog.Logger) (lifetime time.Duration, bare bool, present bool) {
	v, ok := cc[directiveStaleIfError]
	if !ok {
		return 0, false, false
	}
	if v == "" {
		return 0, true, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		log.Warn("invalid stale-if-error delta-seconds value, treating as bare", "value", v)
		return 0, true, true
	}
	return time.Duration(n) * time.Second, false, true
}
