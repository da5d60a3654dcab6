package httpcache

import (
	"errors"
	"time"
)

// Kind distinguishes the two shapes a cache entry can take (§3.1).
type Kind int

const (
	// KindResource holds a response for one negotiated representation.
	KindResource Kind = iota
	// KindVariantRoot holds no body; it enumerates the variant keys stored
	// under a request's root key when the response carried Vary.
	KindVariantRoot
)

// ErrInvalidEntry is returned by Validate when an entry violates one of the
// invariants in §3.1.
var ErrInvalidEntry = errors.New("httpcache: invalid cache entry")

// Entry is an immutable record of a prior response and its storage metadata.
// Entries are never mutated in place: every update (304 merge, variant-set
// growth, replacement) produces a new Entry written back via the storage
// backend's CAS update.
type Entry struct {
	Kind Kind

	// RequestInstant and ResponseInstant are when the request left and the
	// response was received by the cache; both are used for age correction
	// (§4.1) and satisfy ResponseInstant >= RequestInstant.
	RequestInstant  time.Time
	ResponseInstant time.Time

	StatusCode    int
	Headers       Headers
	RequestMethod string
	RequestURI    string

	// Resource is nil for a KindVariantRoot entry and may also be nil for a
	// KindResource entry carrying a bodyless status (204, or a 304-refreshed
	// entry with no previously cached body).
	Resource Resource

	// Variants maps variant key to storage key; only meaningful, and
	// required non-empty, for KindVariantRoot.
	Variants map[string]string
}

// Validate checks the invariants in spec §3.1.
func (e *Entry) Validate() error {
	if e.ResponseInstant.Before(e.RequestInstant) {
		return errors.Join(ErrInvalidEntry, errors.New("response_instant before request_instant"))
	}
	switch e.Kind {
	case KindVariantRoot:
		if e.Resource != nil {
			return errors.Join(ErrInvalidEntry, errors.New("variant root must not carry a resource"))
		}
		if len(e.Variants) == 0 {
			return errors.Join(ErrInvalidEntry, errors.New("variant root must enumerate at least one variant"))
		}
	case KindResource:
		if len(e.Variants) != 0 {
			return errors.Join(ErrInvalidEntry, errors.New("resource entry must not carry a variant map"))
		}
	default:
		return errors.Join(ErrInvalidEntry, errors.New("unknown entry kind"))
	}
	return nil
}

// Clone returns a deep-enough copy for safe mutation by the caller: Headers
// and Variants are copied, Resource is shared (it is reference-counted, see
// resource.go).
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := *e
	out.Headers = e.Headers.Clone()
	if e.Variants != nil {
		out.Variants = make(map[string]string, len(e.Variants))
		for k, v := range e.Variants {
			out.Variants[k] = v
		}
	}
	return &out
}

// NewResourceEntry builds a resource entry, stripping hop-by-hop and
// Connection-listed headers per §3.1 before storage.
func NewResourceEntry(reqInstant, respInstant time.Time, status int, headers Headers, method, uri string, res Resource) *Entry {
	return &Entry{
		Kind:            KindResource,
		RequestInstant:  reqInstant,
		ResponseInstant: respInstant,
		StatusCode:      status,
		Headers:         stripHopByHop(headers),
		RequestMethod:   method,
		RequestURI:      uri,
		Resource:        res,
	}
}

// NewVariantRoot builds a variant-root placeholder entry.
func NewVariantRoot(reqInstant, respInstant time.Time, method, uri string, variants map[string]string) *Entry {
	cp := make(map[string]string, len(variants))
	for k, v := range variants {
		cp[k] = v
	}
	return &Entry{
		Kind:            KindVariantRoot,
		RequestInstant:  reqInstant,
		ResponseInstant: respInstant,
		RequestMethod:   method,
		RequestURI:      uri,
		Variants:        cp,
	}
}

// Date returns the entry's parsed Date header, falling back to
// ResponseInstant when the header is missing or malformed (§4.1).
func (e *Entry) Date() time.Time {
	if v, ok := e.Headers.Get("Date"); ok {
		if t, err := ParseHTTPDate(v); err == nil {
			return t
		}
	}
	return e.ResponseInstant
}

// ETag returns the entry's ETag validator, if any.
func (e *Entry) ETag() (Validator, bool) {
	v, ok := e.Headers.Get("ETag")
	if !ok {
		return Validator{}, false
	}
	return ParseValidator(v)
}

// LastModified returns the entry's parsed Last-Modified header, if present
// and well-formed.
func (e *Entry) LastModified() (time.Time, bool) {
	v, ok := e.Headers.Get("Last-Modified")
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseHTTPDate(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
