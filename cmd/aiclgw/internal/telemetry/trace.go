package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a gateway operation.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, "aiclgw/directory", "directory.GetUser",
//	    attribute.String(telemetry.AttrUserID, id),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
// A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common span attribute keys
const (
	AttrUserID   = "user.id"
	AttrUsername = "user.name"
	AttrRole     = "user.role"
	AttrTeam     = "user.team"

	AttrAuthStage   = "auth.stage"
	AttrAuthOutcome = "auth.outcome"

	AttrCacheNamespace = "cache.namespace"
)
