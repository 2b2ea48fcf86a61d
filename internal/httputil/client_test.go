package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"Timeout", cfg.Timeout, 60 * time.Second},
		{"DialTimeout", cfg.DialTimeout, 10 * time.Second},
		{"TLSHandshakeTimeout", cfg.TLSHandshakeTimeout, 10 * time.Second},
		{"ResponseHeaderTimeout", cfg.ResponseHeaderTimeout, 30 * time.Second},
		{"IdleConnTimeout", cfg.IdleConnTimeout, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.MaxIdleConns != 100 {
		t.Errorf("MaxIdleConns = %d, want 100", cfg.MaxIdleConns)
	}

	if cfg.MaxIdleConnsPerHost != 20 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 20", cfg.MaxIdleConnsPerHost)
	}
}

func TestNewClient(t *testing.T) {
	cfg := ClientConfig{
		Timeout:               60 * time.Second,
		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       45 * time.Second,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   5,
	}

	client := NewClient(cfg)

	if client == nil {
		t.Fatal("NewClient() returned nil")
	}

	if client.Timeout != cfg.Timeout {
		t.Errorf("client.Timeout = %v, want %v", client.Timeout, cfg.Timeout)
	}

	traced, ok := client.Transport.(*tracingTransport)
	if !ok {
		t.Fatalf("client.Transport = %T, want *tracingTransport", client.Transport)
	}
	transport, ok := traced.next.(*http.Transport)
	if !ok {
		t.Fatalf("inner transport = %T, want *http.Transport", traced.next)
	}
	if transport.MaxIdleConnsPerHost != cfg.MaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", transport.MaxIdleConnsPerHost, cfg.MaxIdleConnsPerHost)
	}
	if transport.Proxy == nil {
		t.Error("transport should honor proxy environment variables")
	}
}

func TestDefaultClient(t *testing.T) {
	client := DefaultClient()

	if client == nil {
		t.Fatal("DefaultClient() returned nil")
	}

	expectedTimeout := 60 * time.Second
	if client.Timeout != expectedTimeout {
		t.Errorf("DefaultClient().Timeout = %v, want %v", client.Timeout, expectedTimeout)
	}
}

func TestTracingTransport_Headers(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := DefaultClient()

	ctx, span := tp.Tracer("test").Start(context.Background(), "checkout")
	defer span.End()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/v1/checkout/sessions", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got.Get("User-Agent") != userAgent {
		t.Errorf("User-Agent = %q, want %q", got.Get("User-Agent"), userAgent)
	}
	if tp := got.Get("Traceparent"); !strings.Contains(tp, span.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q, want trace %s", tp, span.SpanContext().TraceID())
	}
}

func TestTracingTransport_KeepsCallerUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "Stripe/v1 GoBindings/76.25.0")
	resp, err := DefaultClient().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got != "Stripe/v1 GoBindings/76.25.0" {
		t.Errorf("User-Agent = %q, caller value was overwritten", got)
	}
}

func TestNewClient_CustomConfig(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{"short timeout", 5 * time.Second},
		{"medium timeout", 60 * time.Second},
		{"long timeout", 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Timeout = tt.timeout

			client := NewClient(cfg)
			if client.Timeout != tt.timeout {
				t.Errorf("Timeout = %v, want %v", client.Timeout, tt.timeout)
			}
		})
	}
}

func TestClientConfig_ZeroValues(t *testing.T) {
	cfg := ClientConfig{}

	client := NewClient(cfg)

	if client == nil {
		t.Fatal("NewClient() with zero config returned nil")
	}

	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", client.Timeout)
	}
}
