// Package httpcache provides a http.RoundTripper implementation that works as a
// mostly RFC 9111 compliant cache for HTTP responses.
package httpcache

import (
	"log/slog"
	"net/http"

	"github.com/failsafe-go/failsafe-go"
)

// Transport is an http.RoundTripper that serves cacheable requests from a
// Backend and forwards everything else to an underlying transport, running
// every request through the Caching Executor (C11).
type Transport struct {
	store              Backend
	config             *Config
	transport          http.RoundTripper
	security           *securityConfig
	resiliencePolicies []failsafe.Policy[*http.Response]
	logger             *slog.Logger

	engine *Engine
}

// NewTransport builds a Transport backed by store, applying opts in order.
// A nil underlying transport defaults to http.DefaultTransport.
func NewTransport(store Backend, opts ...TransportOption) (*Transport, error) {
	t := &Transport{
		store:     store,
		config:    DefaultConfig(),
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.logger == nil {
		t.logger = GetLogger()
	}

	backend := newEncryptingBackend(t.store, t.security)
	t.engine = &Engine{Store: backend, Config: t.config, Logger: t.logger}
	return t, nil
}

// IsEncryptionEnabled reports whether entries are sealed with AES-256-GCM
// before reaching the storage backend.
func (t *Transport) IsEncryptionEnabled() bool {
	return t.security != nil && t.security.gcm != nil
}

// RoundTrip implements http.RoundTripper, running req through the Caching
// Executor. Cache-module-generated responses (synthetic 504/200) and served
// cache hits never reach t.transport; everything else forwards through it,
// optionally wrapped in the configured resilience policies.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, code, err := t.ExecuteWithCode(req)
	_ = code
	return resp, err
}

// ExecuteWithCode behaves like RoundTrip but also returns the ContextCode
// the Caching Executor assigned to the response, for callers (metrics
// wrappers, diagnostics) that need to distinguish a hit from a forwarded
// miss without re-deriving it from headers.
func (t *Transport) ExecuteWithCode(req *http.Request) (*http.Response, ContextCode, error) {
	resp, code, err := t.engine.Execute(req.Context(), req, t.forward)
	t.logger.Debug("httpcache round trip", "method", req.Method, "url", req.URL.String(), "context", code.String())
	return resp, code, err
}

func (t *Transport) forward(req *http.Request) (*http.Response, error) {
	do := func() (*http.Response, error) {
		return t.transport.RoundTrip(req)
	}
	if len(t.resiliencePolicies) == 0 {
		return do()
	}
	return failsafe.With(t.resiliencePolicies...).Get(do)
}

// Client returns an *http.Client using this Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
