package httpcache

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
)

// Resource is an opaque handle to a cache entry's body. It is supplied and
// owned by the storage backend, not by the caching engine: the engine only
// ever asks for its length, reads it once per response it serves, and
// releases it when done. Backends that stream bodies from disk, blob
// storage, or a remote cache implement Resource themselves; NewBytesResource
// covers the common in-memory case.
type Resource interface {
	// Len returns the body length in bytes, or -1 if unknown.
	Len() int64
	// Open returns a fresh readable stream over the body. Open may be called
	// more than once; each call yields an independent reader.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Release signals that the caller is done with this handle. Backends
	// that reference-count shared storage (§5: "released once the last
	// in-flight reader ... is done") decrement here.
	Release()
}

// bytesResource is the in-memory Resource implementation used by the
// in-memory store and by any backend that fully buffers bodies.
type bytesResource struct {
	data []byte
	refs *int32
}

// NewBytesResource wraps an in-memory byte slice as a Resource. The slice
// must not be mutated afterwards; callers that need that guarantee should
// pass a copy.
func NewBytesResource(data []byte) Resource {
	refs := int32(1)
	return &bytesResource{data: data, refs: &refs}
}

func (r *bytesResource) Len() int64 { return int64(len(r.data)) }

func (r *bytesResource) Open(context.Context) (io.ReadCloser, error) {
	atomic.AddInt32(r.refs, 1)
	return &countedReader{Reader: bytes.NewReader(r.data), refs: r.refs}, nil
}

func (r *bytesResource) Release() {
	atomic.AddInt32(r.refs, -1)
}

// countedReader lets a reader independently drop its own reference when
// closed, on top of the resource-level Release the store issues when it
// replaces or evicts the entry.
type countedReader struct {
	*bytes.Reader
	refs *int32
}

func (c *countedReader) Close() error {
	atomic.AddInt32(c.refs, -1)
	return nil
}

// ReadAll drains a Resource's body fully into memory. It is a convenience
// for backends and tests; the engine itself never needs to buffer a whole
// body, only to hand the stream to the caller.
func ReadAll(ctx context.Context, r Resource) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	rc, err := r.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
