package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new client span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// TraceIDs returns the hex trace and span IDs of the span in ctx, or empty
// strings when there is no recording span.
func TraceIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// Common attribute keys for client spans
var (
	AttrDBSystem    = attribute.Key("db.system")
	AttrDBStatement = attribute.Key("db.statement")
	AttrDBOperation = attribute.Key("db.operation")
	AttrRequestID   = attribute.Key("asyncsql.request_id")
	AttrConnID      = attribute.Key("asyncsql.conn_id")
	AttrParams      = attribute.Key("asyncsql.params")
	AttrRows        = attribute.Key("asyncsql.rows")
	AttrUpdated     = attribute.Key("asyncsql.updated")
	AttrErrorKind   = attribute.Key("asyncsql.error_kind")
)
