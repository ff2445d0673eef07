package core

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedHTTPClient returns an *http.Client whose transport is wrapped
// with otelhttp, so every outbound call it makes opens a client span and
// propagates trace context to the peer. Every BaseService-owned outbound
// client (wave dispatch, LLM calls) should be built this way rather than
// with a bare http.Client.
func InstrumentedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// StartSpan starts a span named name under the given tracer and returns the
// derived context alongside it. Callers must End() the returned span.
func StartSpan(ctx context.Context, tracerName, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

// RecordSpanError marks the span carried by ctx as failed, mirroring the
// base framework's telemetry.RecordSpanError helper.
func RecordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
