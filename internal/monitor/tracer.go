package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agent-toolgate"

// Tracer wraps OpenTelemetry tracing for the validation engine.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("toolgate.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for validation tracing.
var (
	AttrLanguage       = attribute.Key("toolgate.language")
	AttrSubmissionHash = attribute.Key("toolgate.submission_hash")
	AttrCacheHit       = attribute.Key("toolgate.cache_hit")
	AttrPolicyVersion  = attribute.Key("toolgate.policy_version")
	AttrViolationCount = attribute.Key("toolgate.violation_count")
	AttrDurationMS     = attribute.Key("toolgate.duration_ms")
)
