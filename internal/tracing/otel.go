package tracing

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// OTLPSink double-writes finished spans to an OTLP gRPC collector. The
// repository recorder stays the primary sink; this one exists so external
// observability platforms see the same tree.
type OTLPSink struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewOTLPSink connects to the collector at endpoint (host:port, insecure).
func NewOTLPSink(ctx context.Context, endpoint, serviceName string) (*OTLPSink, error) {
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP resource: %w", err)
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return &OTLPSink{
		provider: provider,
		tracer:   provider.Tracer("sidekick"),
	}, nil
}

// RecordSpan exports one finished span. The internal trace and span ids are
// derived deterministically so parent links survive the translation.
func (s *OTLPSink) RecordSpan(span *models.Span) {
	if span.EndedAt == nil {
		return
	}
	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID: deriveTraceID(span.TraceID),
	})
	ctx := oteltrace.ContextWithSpanContext(context.Background(), sc)
	if span.ParentID != nil {
		parent := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
			TraceID: deriveTraceID(span.TraceID),
			SpanID:  deriveSpanID(*span.ParentID),
			Remote:  true,
		})
		ctx = oteltrace.ContextWithSpanContext(ctx, parent)
	}

	attrs := []attribute.KeyValue{
		attribute.String("sidekick.span.kind", string(span.Kind)),
		attribute.String("sidekick.span.id", span.ID),
		attribute.String("sidekick.trace.id", span.TraceID),
	}
	for k, v := range span.Metadata {
		attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
	}

	_, otspan := s.tracer.Start(ctx, span.Name,
		oteltrace.WithTimestamp(span.StartedAt),
		oteltrace.WithAttributes(attrs...),
	)
	if span.Status == models.TraceFailed {
		otspan.SetStatus(codes.Error, span.Output)
	} else {
		otspan.SetStatus(codes.Ok, "")
	}
	otspan.End(oteltrace.WithTimestamp(*span.EndedAt))
}

// Shutdown flushes batched spans before exit.
func (s *OTLPSink) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.provider.Shutdown(ctx)
}

func deriveTraceID(id string) oteltrace.TraceID {
	sum := sha256.Sum256([]byte(id))
	var tid oteltrace.TraceID
	copy(tid[:], sum[:16])
	return tid
}

func deriveSpanID(id string) oteltrace.SpanID {
	sum := sha256.Sum256([]byte(id))
	var sid oteltrace.SpanID
	copy(sid[:], sum[:8])
	return sid
}
