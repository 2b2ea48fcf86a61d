// Package telemetry wires OpenTelemetry tracing for the upload and analysis
// pipeline and stamps trace ids onto log records.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felipepmaragno/llm-cost-audit"

// Config configures tracing.
type Config struct {
	ServiceName string
	Version     string
	// Endpoint is the OTLP gRPC collector; empty disables export.
	Endpoint    string
	SampleRatio float64
}

// Init installs the global tracer provider. The returned function flushes
// pending spans and must be called on shutdown.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		slog.Info("tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// StartSpan resolves the tracer on every call so spans follow whichever
// provider Init installed.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServerSpan continues the caller's trace from the request headers.
// The span is named after the method until EndServerSpan knows the route.
func StartServerSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return StartSpan(ctx, "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.request.method", r.Method)),
	)
}

// EndServerSpan renames the span to the matched route and ends it. 5xx
// responses mark the span failed.
func EndServerSpan(span trace.Span, route string, status int) {
	span.SetName(route)
	span.SetAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", status),
	)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	span.End()
}

// AddUploadAttributes tags span with the upload being processed.
func AddUploadAttributes(span trace.Span, accountID, uploadID, filename string, sizeBytes int64) {
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("upload.id", uploadID),
		attribute.String("upload.filename", filename),
		attribute.Int64("upload.bytes", sizeBytes),
	)
}

// AddRowAttributes tags span with the parser row counters.
func AddRowAttributes(span trace.Span, total, valid, invalid, unknown int) {
	span.SetAttributes(
		attribute.Int("rows.total", total),
		attribute.Int("rows.valid", valid),
		attribute.Int("rows.invalid", invalid),
		attribute.Int("rows.unknown_model", unknown),
	)
}

func AddSpendAttribute(span trace.Span, spendUSD float64) {
	span.SetAttributes(attribute.Float64("spend.usd", spendUSD))
}

func AddScoreAttributes(span trace.Span, score int, grade string) {
	span.SetAttributes(
		attribute.Int("efficiency.score", score),
		attribute.String("efficiency.grade", grade),
	)
}

// AddCacheAttribute records whether a report came from the cache.
func AddCacheAttribute(span trace.Span, cacheHit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", cacheHit))
}

// AddErrorAttribute records err and marks the span failed.
func AddErrorAttribute(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the trace id carried by ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// LogHandler adds trace_id and span_id to records logged with a context
// that carries a sampled span.
func LogHandler(next slog.Handler) slog.Handler {
	return traceHandler{next}
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}
