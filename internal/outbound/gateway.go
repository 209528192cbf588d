// Package outbound implements the Outbound HTTP Gateway: the builder-style
// prepare/add-header/set-body sequence a guest drives through the Host ABI
// to issue one synchronous HTTP request per builder, plus the underlying
// HTTP client and its metrics.
package outbound

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// supportedMethods is the fixed method set the gateway accepts, matching
// the original host's allowlist exactly (no CONNECT).
var supportedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Header is one response header, order-preserving.
type Header struct {
	Name  string
	Value string
}

// Response is the outbound HTTP response surfaced back across the Host
// ABI once a builder's body is set and the request is sent.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Doer is the subset of *http.Client the Gateway depends on, so tests can
// substitute a fake transport without opening real sockets.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type metrics struct {
	requestDuration *prometheus.HistogramVec
	requestErrors   prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers the instruments with the default Prometheus
// registry on first use and returns the same set to every Gateway.
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fenceline_outbound_request_duration_seconds",
				Help:    "Outbound HTTP request duration by method",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
			requestErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "fenceline_outbound_request_errors_total",
				Help: "Total outbound HTTP request errors",
			}),
		}
	})
	return sharedMetrics
}

// Gateway sends the request a builder assembles and reports the response.
// It holds no per-request state itself; that lives in Table.
type Gateway struct {
	client  Doer
	timeout time.Duration
	metrics *metrics
}

// NewGateway constructs a Gateway over a real *http.Client with the given
// per-call timeout.
func NewGateway(timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		metrics: newMetrics(),
	}
}

// NewGatewayWithClient builds a Gateway over an already-constructed Doer,
// primarily for tests substituting a fake transport.
func NewGatewayWithClient(client Doer) *Gateway {
	return &Gateway{client: client, metrics: newMetrics()}
}

func (g *Gateway) send(ctx context.Context, b *builder) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, b.method, b.url, bytes.NewReader(b.body))
	if err != nil {
		return Response{}, wrapErr("send", err)
	}
	for _, h := range b.headers {
		req.Header.Add(h.Name, h.Value)
	}

	timer := prometheus.NewTimer(g.metrics.requestDuration.WithLabelValues(b.method))
	resp, err := g.client.Do(req)
	timer.ObserveDuration()
	if err != nil {
		g.metrics.requestErrors.Inc()
		return Response{}, wrapErr("send", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.metrics.requestErrors.Inc()
		return Response{}, wrapErr("read body", err)
	}

	headers := make([]Header, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, Header{Name: name, Value: v})
		}
	}

	return Response{Status: resp.StatusCode, Headers: headers, Body: body}, nil
}

// builder accumulates one in-flight outbound request between
// PrepareRequest and SetRequestBody.
type builder struct {
	method  string
	url     string
	headers []Header
	body    []byte
}

// Table holds the open request builders for one Request Context, keyed by
// a dense, monotonically increasing id. Ids are never reused, even after a
// builder is consumed or evicted, fixing the original host's len(table)
// collision bug.
type Table struct {
	mu      sync.Mutex
	next    atomic.Uint64
	pending map[uint64]*builder
}

// NewTable returns an empty request builder table.
func NewTable() *Table {
	return &Table{pending: make(map[uint64]*builder)}
}

// PrepareRequest starts a new builder for method and url and returns its
// id. The method is matched case-insensitively against the fixed
// supported set; anything else is ErrUnsupportedMethod.
func (t *Table) PrepareRequest(method, url string) (uint64, error) {
	normalized := strings.ToUpper(method)
	if !supportedMethods[normalized] {
		return 0, wrapErr("prepare_request", &ErrUnsupportedMethod{Method: method})
	}

	id := t.next.Add(1)
	t.mu.Lock()
	t.pending[id] = &builder{method: normalized, url: url}
	t.mu.Unlock()
	return id, nil
}

// AddRequestHeader appends a header to the builder at id.
func (t *Table) AddRequestHeader(id uint64, name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.pending[id]
	if !ok {
		return wrapErr("add_request_header", &ErrUnknownRequest{ID: id})
	}
	b.headers = append(b.headers, Header{Name: name, Value: value})
	return nil
}

// SetRequestBody sets the body on the builder at id, consumes it from the
// table, and sends the request synchronously through gw, returning the
// full response with headers read before the body.
func (t *Table) SetRequestBody(ctx context.Context, gw *Gateway, id uint64, body []byte) (Response, error) {
	t.mu.Lock()
	b, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return Response{}, wrapErr("set_request_body", &ErrUnknownRequest{ID: id})
	}
	b.body = body
	return gw.send(ctx, b)
}
