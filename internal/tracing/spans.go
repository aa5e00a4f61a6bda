package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartUploadSpan creates a child span for document ingestion.
func StartUploadSpan(ctx context.Context, filename string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upload.handle",
		trace.WithAttributes(attribute.String("upload.filename", filename)),
	)
}

// StartQuerySpan creates a child span for serving one question.
func StartQuerySpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "query.handle")
}

// StartCacheSpan creates a child span for a cache operation, e.g.
// ("querycache", "get", "answer") or ("doccache", "store", digest).
func StartCacheSpan(ctx context.Context, cache, op, key string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, cache+"."+op,
		trace.WithAttributes(
			attribute.String("cache.name", cache),
			attribute.String("cache.operation", op),
			attribute.String("cache.key", key),
		),
	)
}

// StartProviderSpan creates a child span for an outbound provider call.
func StartProviderSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provider."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.operation", operation),
			attribute.String("provider.model", model),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the provider backend can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetQueryAttributes adds routing attributes to the current span.
func SetQueryAttributes(ctx context.Context, route string, answerCached bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("query.route", route),
		attribute.Bool("query.answer_cached", answerCached),
	)
}

// SetUploadAttributes adds ingestion results to the current span.
func SetUploadAttributes(ctx context.Context, digest string, cached bool, chunks int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("upload.digest", digest),
		attribute.Bool("upload.cached", cached),
		attribute.Int("upload.chunks", chunks),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
