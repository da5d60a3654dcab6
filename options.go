package httpcache

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
)

// Config holds the tunables the Caching Executor consults (§6
// "Configuration"). Use DefaultConfig and the With* functions rather than
// constructing one directly, so future fields get sane zero-impact
// defaults.
type Config struct {
	// SharedCache governs the private/Authorization/s-maxage/proxy-revalidate
	// rules (§4.2, §4.1). Default true: this module defaults to acting as a
	// shared cache (a CDN or reverse-proxy deployment); pass false to act as
	// a private, single-user cache instead.
	SharedCache bool

	// MaxObjectSizeBytes bounds storable response size; responses larger
	// are never written. Zero disables the bound.
	MaxObjectSizeBytes int64

	// MaxEntries is a hint passed through to backends that support
	// capacity-bounded eviction; the core itself does not enforce it.
	MaxEntries uint64

	HeuristicCachingEnabled  bool
	HeuristicCoefficient     float64
	HeuristicDefaultLifetime time.Duration

	Allow303Caching bool

	// AsynchronousWorkers, if non-zero, lets stale-while-revalidate
	// revalidations run on a bounded worker pool instead of a raw goroutine
	// per request.
	AsynchronousWorkers uint32
}

// DefaultConfig returns the configuration §6 lists as defaults.
func DefaultConfig() *Config {
	return &Config{
		SharedCache:              true,
		MaxObjectSizeBytes:       8 * 1024,
		HeuristicCachingEnabled:  true,
		HeuristicCoefficient:     0.1,
		HeuristicDefaultLifetime: 0,
		Allow303Caching:          false,
	}
}

// TransportOption configures a Transport. Use the With* functions to build one.
type TransportOption func(*Transport) error

// WithSharedCache toggles shared-cache semantics (default true).
func WithSharedCache(shared bool) TransportOption {
	return func(t *Transport) error {
		t.config.SharedCache = shared
		return nil
	}
}

// WithMaxObjectSizeBytes sets the maximum storable response size.
func WithMaxObjectSizeBytes(n int64) TransportOption {
	return func(t *Transport) error {
		t.config.MaxObjectSizeBytes = n
		return nil
	}
}

// WithMaxEntries sets a capacity hint forwarded to capable backends.
func WithMaxEntries(n uint64) TransportOption {
	return func(t *Transport) error {
		t.config.MaxEntries = n
		return nil
	}
}

// WithHeuristicCaching toggles heuristic freshness lifetime computation
// (RFC 9111 §4.2.2) and its coefficient.
func WithHeuristicCaching(enabled bool, coefficient float64) TransportOption {
	return func(t *Transport) error {
		t.config.HeuristicCachingEnabled = enabled
		t.config.HeuristicCoefficient = coefficient
		return nil
	}
}

// WithHeuristicDefaultLifetime sets the freshness lifetime assigned to
// heuristically-cacheable responses that carry no Last-Modified header.
func WithHeuristicDefaultLifetime(d time.Duration) TransportOption {
	return func(t *Transport) error {
		t.config.HeuristicDefaultLifetime = d
		return nil
	}
}

// WithAllow303Caching enables the (disabled by default) caching of 303 See
// Other responses carrying explicit freshness.
func WithAllow303Caching(allow bool) TransportOption {
	return func(t *Transport) error {
		t.config.Allow303Caching = allow
		return nil
	}
}

// WithAsynchronousWorkers bounds the worker pool used for
// stale-while-revalidate background revalidation. Zero (the default) runs
// each revalidation on its own goroutine.
func WithAsynchronousWorkers(n uint32) TransportOption {
	return func(t *Transport) error {
		t.config.AsynchronousWorkers = n
		return nil
	}
}

// WithTransport sets the underlying http.RoundTripper used to forward
// requests to the origin. If nil, http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) TransportOption {
	return func(t *Transport) error {
		if rt == nil {
			rt = http.DefaultTransport
		}
		t.transport = rt
		return nil
	}
}

// WithEncryption enables AES-256-GCM encryption of serialized entries
// before they reach the storage backend, deriving the key from passphrase
// via scrypt. It applies to every backend, the in-memory one included:
// NewTransport wraps the store so each entry is serialized with EncodeEntry
// and sealed before it is stored.
func WithEncryption(passphrase string) TransportOption {
	return func(t *Transport) error {
		if passphrase == "" {
			return fmt.Errorf("httpcache: encryption passphrase cannot be empty")
		}
		gcm, err := initEncryption(passphrase)
		if err != nil {
			return err
		}
		t.security = &securityConfig{gcm: gcm, passphrase: passphrase}
		return nil
	}
}

// WithResiliencePolicies wraps every forward call in the given failsafe-go
// policies (retry, circuit breaker, ...); as with failsafe.With, the first
// policy given is the outermost.
func WithResiliencePolicies(policies ...failsafe.Policy[*http.Response]) TransportOption {
	return func(t *Transport) error {
		t.resiliencePolicies = policies
		return nil
	}
}

// WithLogger attaches a *slog.Logger the Engine uses for its structured
// diagnostic events.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) error {
		t.logger = l
		return nil
	}
}
