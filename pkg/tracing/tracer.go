// Package tracing provides a shared OTel tracer helper for all domain packages.
//
// When no TracerProvider is registered (tests, local runs without an OTLP
// endpoint) the global no-op provider is used and every call is inert.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tether"

// Start creates a new span as a child of the span in ctx. The caller must
// call span.End().
//
//	ctx, span := tracing.Start(ctx, "relationships.accept_request",
//	    attribute.String("tether.edge.id", edgeID),
//	)
//	defer span.End()
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Pair returns the attributes identifying a directed user pair.
func Pair(ownerID, targetID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tether.owner.id", ownerID),
		attribute.String("tether.target.id", targetID),
	}
}

// RecordError marks the span failed when err is non-nil and returns err unchanged.
func RecordError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
