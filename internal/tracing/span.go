package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	AttrClientID    = attribute.Key("rttbench.client_id")
	AttrTransport   = attribute.Key("rttbench.transport")
	AttrPayloadSize = attribute.Key("rttbench.payload_size")
	AttrSamples     = attribute.Key("rttbench.samples")
	AttrTimeouts    = attribute.Key("rttbench.timeouts")
	AttrCorrupted   = attribute.Key("rttbench.corrupted")
)

func orNoop(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return tracer
}

// StartClientSpan starts the span covering one client's payload matrix.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, clientID, transport string) (context.Context, trace.Span) {
	ctx, span := orNoop(tracer).Start(ctx, "client "+clientID,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(AttrClientID.String(clientID))
	if transport != "" {
		span.SetAttributes(AttrTransport.String(transport))
	}
	return ctx, span
}

// StartSeriesSpan starts the span covering the measurement of one payload size.
func StartSeriesSpan(ctx context.Context, tracer trace.Tracer, size int) (context.Context, trace.Span) {
	ctx, span := orNoop(tracer).Start(ctx, "series",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(AttrPayloadSize.Int(size))
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
