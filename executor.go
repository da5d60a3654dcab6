package httpcache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ContextCode is the auxiliary status every response the Caching Executor
// returns carries, so a caller can tell a served cache hit from a freshly
// forwarded response without re-deriving it from headers (§4.5, §6).
type ContextCode int

const (
	CacheMiss ContextCode = iota
	CacheHit
	Validated
	CacheModuleResponse
)

func (c ContextCode) String() string {
	switch c {
	case CacheHit:
		return "CACHE_HIT"
	case Validated:
		return "VALIDATED"
	case CacheModuleResponse:
		return "CACHE_MODULE_RESPONSE"
	default:
		return "CACHE_MISS"
	}
}

// ForwardFunc sends the (possibly revalidation-conditional) request
// downstream and returns the origin's response. It is the single
// out-of-core collaborator named in §6 ("forward this request and return
// the response"); the caching executor never opens a socket itself.
type ForwardFunc func(*http.Request) (*http.Response, error)

// Engine is the Caching Executor (C11): the top-level state machine that
// orchestrates key generation, storage lookups, freshness classification,
// conditional revalidation, cacheability filtering and invalidation around
// every request (§4.5).
type Engine struct {
	Store  Backend
	Config *Config
	Logger *slog.Logger

	asyncOnce sync.Once
	asyncSem  chan struct{}
}

// NewEngine constructs an Engine. A nil Logger falls back to slog.Default.
func NewEngine(store Backend, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{Store: store, Config: cfg, Logger: slog.Default()}
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// goAsync runs fn in the background. With Config.AsynchronousWorkers set to
// zero (the default) it is a raw goroutine per call, matching a
// stale-while-revalidate refresh per request; a non-zero count bounds how
// many such refreshes run concurrently via a semaphore, so a burst of stale
// hits against the same hot entry can't spawn unbounded origin traffic.
func (e *Engine) goAsync(fn func()) {
	sem := e.asyncSemaphore()
	if sem == nil {
		go fn()
		return
	}
	go func() {
		sem <- struct{}{}
		defer func() { <-sem }()
		fn()
	}()
}

func (e *Engine) asyncSemaphore() chan struct{} {
	e.asyncOnce.Do(func() {
		if e.Config != nil && e.Config.AsynchronousWorkers > 0 {
			e.asyncSem = make(chan struct{}, e.Config.AsynchronousWorkers)
		}
	})
	return e.asyncSem
}

// Execute runs the per-request state machine of §4.5 against req, using
// forward to reach the origin for cache misses and revalidations.
func (e *Engine) Execute(ctx context.Context, req *http.Request, forward ForwardFunc) (*http.Response, ContextCode, error) {
	// ADMIT: short-circuit protocol-noncompliant requests with a
	// module-generated response rather than ever touching storage (§7).
	if req.Method == http.MethodOptions && req.URL.Path == "*" && req.Header.Get("Max-Forwards") == "0" {
		return syntheticResponse(req, http.StatusOK, nil, nil), CacheModuleResponse, nil
	}

	// Partial-content requests are entirely out of scope (§1): pass them
	// through untouched rather than attempt to cache or merge ranges.
	if req.Header.Get("Range") != "" || req.Header.Get("If-Range") != "" {
		resp, err := e.forwardWithVia(req, forward)
		return resp, CacheMiss, err
	}

	if IsUnsafeMethod(req.Method) {
		return e.executeUnsafe(ctx, req, forward)
	}

	return e.executeSafe(ctx, req, forward)
}

func (e *Engine) executeUnsafe(ctx context.Context, req *http.Request, forward ForwardFunc) (*http.Response, ContextCode, error) {
	log := e.log()
	reqHeaders := headersFromHTTP(req.Header)

	InvalidateBeforeForward(ctx, e.Store, req.Method, req.URL, reqHeaders, log)

	resp, err := e.forwardWithVia(req, forward)
	if err != nil {
		return resp, CacheMiss, err
	}

	InvalidateAfterResponse(ctx, e.Store, req.Method, req.URL, resp.StatusCode, headersFromHTTP(resp.Header), log)
	return resp, CacheMiss, nil
}

func (e *Engine) executeSafe(ctx context.Context, req *http.Request, forward ForwardFunc) (*http.Response, ContextCode, error) {
	log := e.log()
	reqHeaders := headersFromHTTP(req.Header)
	reqCC := parseCacheControl(reqHeaders, log)
	onlyIfCached := reqCC.has(directiveOnlyIfCached)

	rootKey, err := RootKey(effectiveURL(req), req.Method)
	if err != nil {
		log.Warn("failed to derive root key, bypassing cache", "error", err)
		return e.missPath(ctx, req, forward, onlyIfCached, "", nil, log)
	}

	root, err := e.Store.Get(ctx, rootKey)
	if err != nil {
		log.Warn("storage get failed, treating as miss", "key", rootKey, "error", err)
		root = nil
	}

	var candidate *Entry
	var storageKey string
	switch {
	case root == nil:
		// miss
	case root.Kind == KindVariantRoot:
		candidate, storageKey, err = SelectVariant(ctx, e.Store, root, reqHeaders)
		if err != nil {
			log.Warn("variant selection failed, treating as miss", "key", rootKey, "error", err)
			candidate = nil
		}
	default:
		candidate, storageKey = root, rootKey
	}

	if candidate == nil {
		return e.missPath(ctx, req, forward, onlyIfCached, rootKey, root, log)
	}

	now := clock.now()
	verdict, currentAge, _ := Classify(now, candidate, reqHeaders, e.Config, log)

	switch verdict {
	case VerdictUnusable:
		if onlyIfCached {
			return syntheticResponse(req, http.StatusGatewayTimeout, nil, nil), CacheModuleResponse, nil
		}
		return e.missPath(ctx, req, forward, onlyIfCached, rootKey, root, log)

	case VerdictFresh, VerdictStaleUsable:
		resp := responseFromEntry(req, candidate, currentAge)
		if verdict == VerdictStaleUsable {
			addStaleWarning(resp)
		}
		return resp, CacheHit, nil

	case VerdictStaleRevalidateAsync:
		resp := responseFromEntry(req, candidate, currentAge)
		addStaleWarning(resp)
		e.triggerBackgroundRevalidation(req, forward, candidate, storageKey, rootKey, root, log)
		return resp, CacheHit, nil

	case VerdictMustRevalidate:
		if onlyIfCached {
			return syntheticResponse(req, http.StatusGatewayTimeout, nil, nil), CacheModuleResponse, nil
		}
		return e.revalidate(ctx, req, forward, candidate, storageKey, rootKey, root, log)
	}

	return e.missPath(ctx, req, forward, onlyIfCached, rootKey, root, log)
}

func (e *Engine) missPath(ctx context.Context, req *http.Request, forward ForwardFunc, onlyIfCached bool, rootKey string, root *Entry, log *slog.Logger) (*http.Response, ContextCode, error) {
	if onlyIfCached {
		return syntheticResponse(req, http.StatusGatewayTimeout, nil, nil), CacheModuleResponse, nil
	}
	reqInstant := clock.now()
	resp, err := e.forwardWithVia(req, forward)
	if err != nil {
		return resp, CacheMiss, err
	}
	respInstant := clock.now()
	if rootKey != "" {
		e.storeIfCacheable(ctx, req, resp, reqInstant, respInstant, rootKey, root, log)
	}
	return resp, CacheMiss, nil
}

func (e *Engine) revalidate(ctx context.Context, req *http.Request, forward ForwardFunc, candidate *Entry, storageKey, rootKey string, root *Entry, log *slog.Logger) (*http.Response, ContextCode, error) {
	reqHeaders := headersFromHTTP(req.Header)
	condHeaders := BuildConditionalRequest(reqHeaders, e.Config, candidate)
	condReq := cloneRequestWithHeaders(req, condHeaders)

	reqInstant := clock.now()
	resp, err := e.forwardWithVia(condReq, forward)
	respInstant := clock.now()

	if err != nil {
		respCC := parseCacheControl(candidate.Headers, log)
		reqCC := parseCacheControl(reqHeaders, log)
		requiresValidation := respCC.has(directiveMustRevalidate) ||
			(e.Config.SharedCache && respCC.has(directiveProxyRevalidate))
		currentAge := CurrentAge(candidate, respInstant)
		if !requiresValidation || staleIfErrorUsable(respCC, reqCC, currentAge, log) {
			fallback := responseFromEntry(req, candidate, currentAge)
			addRevalidationFailedWarning(fallback)
			return fallback, CacheHit, nil
		}
		return syntheticResponse(req, http.StatusGatewayTimeout, nil, nil), CacheModuleResponse, nil
	}

	if resp.StatusCode == http.StatusNotModified {
		return e.handleNotModified(ctx, req, forward, candidate, storageKey, rootKey, root, reqInstant, respInstant, resp, log)
	}

	// Full replacement: the origin sent a new representation instead of 304.
	e.storeIfCacheable(ctx, req, resp, reqInstant, respInstant, rootKey, root, log)
	return resp, Validated, nil
}

// handleNotModified applies the 304-merge algorithm to a validation response,
// persisting the merged entry on success. When the merge is rejected because
// the 304 carried a Date older than the stored entry (§4.2's regression
// guard), it retries exactly once with an unconditional revalidation (§4.3)
// rather than silently keep serving the stale entry: the origin cannot
// short-circuit with another 304 against preconditions it already
// contradicted.
func (e *Engine) handleNotModified(ctx context.Context, req *http.Request, forward ForwardFunc, candidate *Entry, storageKey, rootKey string, root *Entry, reqInstant, respInstant time.Time, resp *http.Response, log *slog.Logger) (*http.Response, ContextCode, error) {
	drainAndClose(resp, log)

	merged, ok := MergeValidationResponse(candidate, reqInstant, respInstant, headersFromHTTP(resp.Header))
	if !ok {
		return e.revalidateUnconditionally(ctx, req, forward, candidate, storageKey, rootKey, root, log)
	}

	e.persistMerged(ctx, merged, storageKey, rootKey, log)
	out := responseFromEntry(req, merged, CurrentAge(merged, respInstant))
	return out, Validated, nil
}

// revalidateUnconditionally is the fallback path for a 304 whose Date
// regressed against the stored entry: preconditions are stripped and
// Cache-Control: no-cache is forced (BuildUnconditionalRevalidation), so the
// origin must answer with a real representation or a 304 against current
// state. A second regressed 304 falls back to serving the original stale
// candidate rather than looping. A transport error is handled as in
// revalidate: the stale candidate is served only when validation is not
// required or stale-if-error covers it; otherwise the result is a 504.
func (e *Engine) revalidateUnconditionally(ctx context.Context, req *http.Request, forward ForwardFunc, candidate *Entry, storageKey, rootKey string, root *Entry, log *slog.Logger) (*http.Response, ContextCode, error) {
	reqHeaders := headersFromHTTP(req.Header)
	uncondReq := cloneRequestWithHeaders(req, BuildUnconditionalRevalidation(reqHeaders))

	reqInstant := clock.now()
	resp, err := e.forwardWithVia(uncondReq, forward)
	if err != nil {
		log.Warn("unconditional revalidation retry failed", "error", err)
		respCC := parseCacheControl(candidate.Headers, log)
		reqCC := parseCacheControl(reqHeaders, log)
		requiresValidation := respCC.has(directiveMustRevalidate) ||
			(e.Config.SharedCache && respCC.has(directiveProxyRevalidate))
		currentAge := CurrentAge(candidate, clock.now())
		if !requiresValidation || staleIfErrorUsable(respCC, reqCC, currentAge, log) {
			fallback := responseFromEntry(req, candidate, currentAge)
			addRevalidationFailedWarning(fallback)
			return fallback, CacheHit, nil
		}
		return syntheticResponse(req, http.StatusGatewayTimeout, nil, nil), CacheModuleResponse, nil
	}
	respInstant := clock.now()

	if resp.StatusCode == http.StatusNotModified {
		drainAndClose(resp, log)
		merged, ok := MergeValidationResponse(candidate, reqInstant, respInstant, headersFromHTTP(resp.Header))
		if !ok {
			fallback := responseFromEntry(req, candidate, CurrentAge(candidate, respInstant))
			addRevalidationFailedWarning(fallback)
			return fallback, CacheHit, nil
		}
		e.persistMerged(ctx, merged, storageKey, rootKey, log)
		return responseFromEntry(req, merged, CurrentAge(merged, respInstant)), Validated, nil
	}

	e.storeIfCacheable(ctx, req, resp, reqInstant, respInstant, rootKey, root, log)
	return resp, Validated, nil
}

func (e *Engine) persistMerged(ctx context.Context, merged *Entry, storageKey, rootKey string, log *slog.Logger) {
	key := storageKey
	if key == "" {
		key = rootKey
	}
	if _, err := e.Store.Update(ctx, key, func(*Entry) (*Entry, error) { return merged, nil }); err != nil {
		log.Warn("failed to persist 304 merge", "key", key, "error", err)
	}
}

func drainAndClose(resp *http.Response, log *slog.Logger) {
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		log.Warn("failed draining response body", "error", err)
	}
	resp.Body.Close()
}

// triggerBackgroundRevalidation launches the stale-while-revalidate refresh
// (RFC 5861 §3) for a VerdictStaleRevalidateAsync hit: an unconditional,
// Cache-Control: no-cache forward carried out against a background context,
// so the served stale response is never blocked on it. Any resulting 304 is
// merged as usual; a full response is stored as usual; failures are logged
// and otherwise ignored; the candidate already on its way to the caller is
// left untouched either way.
func (e *Engine) triggerBackgroundRevalidation(req *http.Request, forward ForwardFunc, candidate *Entry, storageKey, rootKey string, root *Entry, log *slog.Logger) {
	bgReq := req.Clone(context.Background())
	bgReq.Header = httpHeaderFromHeaders(headersFromHTTP(req.Header).Set("Cache-Control", "no-cache"))

	e.goAsync(func() {
		reqInstant := clock.now()
		resp, err := e.forwardWithVia(bgReq, forward)
		if err != nil {
			log.Warn("background stale-while-revalidate refresh failed", "url", bgReq.URL.String(), "error", err)
			return
		}
		respInstant := clock.now()
		ctx := context.Background()

		if resp.StatusCode == http.StatusNotModified {
			drainAndClose(resp, log)
			merged, ok := MergeValidationResponse(candidate, reqInstant, respInstant, headersFromHTTP(resp.Header))
			if !ok {
				return
			}
			e.persistMerged(ctx, merged, storageKey, rootKey, log)
			return
		}

		e.storeIfCacheable(ctx, bgReq, resp, reqInstant, respInstant, rootKey, root, log)
	})
}

// storeIfCacheable runs the cacheability filter (C9) over resp and, if
// storable, builds and writes the resulting entry (plain resource, or
// variant root plus variant resource when Vary is present).
func (e *Engine) storeIfCacheable(ctx context.Context, req *http.Request, resp *http.Response, reqInstant, respInstant time.Time, rootKey string, root *Entry, log *slog.Logger) {
	respHeaders := headersFromHTTP(resp.Header)
	bodyLen := int64(-1)
	if resp.ContentLength >= 0 {
		bodyLen = resp.ContentLength
	}
	httpMinor := 1
	if resp.ProtoMinor == 0 && resp.ProtoMajor == 1 {
		httpMinor = 0
	}

	storable := IsStorable(req.Method, headersFromHTTP(req.Header), req.URL, resp.StatusCode, respHeaders, bodyLen, httpMinor, e.Config, log)
	if !storable {
		return
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		log.Warn("failed reading response body, not caching", "error", err)
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	storedHeaders := PrepareForStorage(respHeaders)
	varyNames, hasStar := VaryHeaderNames(respHeaders)
	if hasStar {
		return
	}

	var resource Resource
	if len(body) > 0 {
		resource = NewBytesResource(body)
	}
	entry := NewResourceEntry(reqInstant, respInstant, resp.StatusCode, storedHeaders, req.Method, effectiveURL(req), resource)

	if len(varyNames) == 0 {
		if err := e.Store.Put(ctx, rootKey, entry); err != nil {
			log.Warn("failed to store entry", "key", rootKey, "error", err)
		}
		return
	}

	variantKey := VariantKey(varyNames, headersFromHTTP(req.Header))
	storageKey := StorageKey(variantKey, rootKey)
	if err := e.Store.Put(ctx, storageKey, entry); err != nil {
		log.Warn("failed to store variant entry", "key", storageKey, "error", err)
		return
	}

	variants := map[string]string{}
	if root != nil && root.Kind == KindVariantRoot {
		for k, v := range root.Variants {
			variants[k] = v
		}
	}
	variants[variantKey] = storageKey
	rootEntry := NewVariantRoot(reqInstant, respInstant, req.Method, effectiveURL(req), variants)
	if err := e.Store.Put(ctx, rootKey, rootEntry); err != nil {
		log.Warn("failed to store variant root", "key", rootKey, "error", err)
	}
}

func (e *Engine) forwardWithVia(req *http.Request, forward ForwardFunc) (*http.Response, error) {
	via := req.Header.Get("Via")
	proto := req.Proto
	if proto == "" {
		proto = "1.1"
	}
	entry := proto + " localhost (cache)"
	if via != "" {
		req.Header.Set("Via", via+", "+entry)
	} else {
		req = cloneRequestWithHeaders(req, headersFromHTTP(req.Header).Set("Via", entry))
	}
	return forward(req)
}

func syntheticResponse(req *http.Request, status int, headers Headers, body []byte) *http.Response {
	h := httpHeaderFromHeaders(headers)
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func responseFromEntry(req *http.Request, e *Entry, age time.Duration) *http.Response {
	h := httpHeaderFromHeaders(e.Headers)
	h.Set("Age", FormatAge(age))
	var body io.ReadCloser = io.NopCloser(bytes.NewReader(nil))
	var length int64
	if e.Resource != nil {
		rc, err := e.Resource.Open(req.Context())
		if err == nil {
			body = rc
		}
		length = e.Resource.Len()
	}
	return &http.Response{
		Status:        http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          body,
		ContentLength: length,
		Request:       req,
	}
}

func effectiveURL(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	u := *req.URL
	u.Scheme = "http"
	u.Host = req.Host
	return u.String()
}

func headersFromHTTP(h http.Header) Headers {
	var out Headers
	for name, values := range h {
		for _, v := range values {
			out = out.Add(name, v)
		}
	}
	return out
}

func httpHeaderFromHeaders(h Headers) http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		out.Add(f.Name, f.Value)
	}
	return out
}

func cloneRequestWithHeaders(req *http.Request, headers Headers) *http.Request {
	clone := req.Clone(req.Context())
	clone.Header = httpHeaderFromHeaders(headers)
	return clone
}
