package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rfc9111/httpcache"
	"github.com/rfc9111/httpcache/metrics"
)

// InstrumentedTransport wraps an httpcache.Transport with Prometheus metrics
type InstrumentedTransport struct {
	underlying *httpcache.Transport
	collector  metrics.Collector
}

// NewInstrumentedTransport creates a new instrumented transport that records metrics
// for all HTTP requests.
//
// Parameters:
//   - transport: the underlying httpcache.Transport to wrap
//   - collector: the metrics collector (if nil, uses metrics.DefaultCollector)
//
// Example:
//
//	collector := prometheus.NewCollector()
//	transport, err := httpcache.NewTransport(httpcache.NewMemoryBackend())
//	if err != nil {
//	    return err
//	}
//	instrumentedTransport := prometheus.NewInstrumentedTransport(transport, collector)
//	client := instrumentedTransport.Client()
func NewInstrumentedTransport(transport *httpcache.Transport, collector metrics.Collector) *InstrumentedTransport {
	if collector == nil {
		collector = metrics.DefaultCollector
	}

	return &InstrumentedTransport{
		underlying: transport,
		collector:  collector,
	}
}

// RoundTrip executes an HTTP request with metrics recording
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, code, err := t.underlying.ExecuteWithCode(req)
	duration := time.Since(start)

	if err != nil {
		return resp, err
	}

	cacheStatus := "miss"
	switch code {
	case httpcache.CacheHit:
		cacheStatus = "hit"
	case httpcache.Validated:
		cacheStatus = "revalidated"
	case httpcache.CacheModuleResponse:
		cacheStatus = "bypass"
	}

	// Record HTTP request metrics
	t.collector.RecordHTTPRequest(
		req.Method,
		cacheStatus,
		resp.StatusCode,
		duration,
	)

	// Record response size if Content-Length is available
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			t.collector.RecordHTTPResponseSize(cacheStatus, size)
		}
	}

	return resp, nil
}

// Client returns an HTTP client with instrumented transport
func (t *InstrumentedTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Verify interface implementation at compile time
var _ http.RoundTripper = (*InstrumentedTransport)(nil)
