// Package httputil holds the HTTP client shared by the AWS and Stripe SDKs
// and the retry policy used around their idempotent calls.
package httputil

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const userAgent = "llm-cost-audit"

// ClientConfig tunes the shared transport.
type ClientConfig struct {
	Timeout               time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	// UserAgent is sent when a request does not set its own.
	UserAgent string
}

// DefaultConfig sizes the pool for a handful of AWS endpoints plus Stripe.
// Timeout covers a full upload of the largest accepted CSV to S3.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:               60 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		UserAgent:             userAgent,
	}
}

// NewClient returns a client whose transport traces every request.
func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &tracingTransport{next: transport, userAgent: cfg.UserAgent},
	}
}

// tracingTransport gives every outbound SDK call a client span and forwards
// the trace context to the remote service.
type tracingTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := telemetry.StartSpan(req.Context(), "HTTP "+req.Method+" "+req.URL.Host,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("server.address", req.URL.Host),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("http.response.status_code", strconv.Itoa(resp.StatusCode)))
	return resp, nil
}

// DefaultClient is NewClient(DefaultConfig()).
func DefaultClient() *http.Client {
	return NewClient(DefaultConfig())
}
