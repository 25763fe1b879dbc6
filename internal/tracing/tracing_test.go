package tracing_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/rttbench/internal/config"
	"github.com/torosent/rttbench/internal/tracing"
)

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInitDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p, err := tracing.Init(context.Background(), config.TracingConfig{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.Enabled() {
		t.Error("Enabled() = true, want false when tracing disabled")
	}
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span from a disabled provider")
	}
}

func TestInitWithEndpointEnablesTracing(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:    "localhost:4317",
		Protocol:    "grpc",
		ServiceName: "test-service",
		SampleRate:  1.0,
		Insecure:    true,
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.Enabled() {
		t.Error("Enabled() = false, want true")
	}
}

func TestInitHTTPProtocol(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:   "localhost:4318",
		Protocol:   "http",
		SampleRate: 1.0,
		Insecure:   true,
	})
	if err != nil {
		t.Fatalf("Init() with http protocol error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.Enabled() {
		t.Error("Enabled() = false, want true")
	}
}

func TestInitUnsupportedProtocol(t *testing.T) {
	_, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:   "localhost:4317",
		Protocol:   "thrift",
		SampleRate: 1.0,
		Insecure:   true,
	})
	if err == nil {
		t.Fatal("Init() with unsupported protocol should return error")
	}
}

func TestInitInvalidSampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"negative", -0.5},
		{"above one", 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracing.Init(context.Background(), config.TracingConfig{
				Endpoint:   "localhost:4317",
				Protocol:   "grpc",
				Insecure:   true,
				SampleRate: tt.rate,
			})
			if err == nil {
				t.Fatalf("Init() with sample_rate=%g should return error", tt.rate)
			}
		})
	}
}

func TestNilProviderSafety(t *testing.T) {
	var p *tracing.Provider
	if p.Enabled() {
		t.Error("nil provider Enabled() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
}

func TestClientAndSeriesSpans(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	ctx, client := tracing.StartClientSpan(context.Background(), tracer, "client_001", "memory://bench")
	_, series := tracing.StartSeriesSpan(ctx, tracer, 1024)
	tracing.EndSpan(series, nil, tracing.AttrSamples.Int(10))
	tracing.EndSpan(client, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	seriesSpan, clientSpan := spans[0], spans[1]
	if clientSpan.Name != "client client_001" {
		t.Errorf("client span name = %q", clientSpan.Name)
	}
	if v, ok := attrValue(clientSpan.Attributes, tracing.AttrTransport); !ok || v.AsString() != "memory://bench" {
		t.Errorf("transport attribute = %v, %v", v, ok)
	}
	if seriesSpan.Parent.SpanID() != clientSpan.SpanContext.SpanID() {
		t.Error("series span is not a child of the client span")
	}
	if v, ok := attrValue(seriesSpan.Attributes, tracing.AttrPayloadSize); !ok || v.AsInt64() != 1024 {
		t.Errorf("payload size attribute = %v, %v", v, ok)
	}
	if v, ok := attrValue(seriesSpan.Attributes, tracing.AttrSamples); !ok || v.AsInt64() != 10 {
		t.Errorf("samples attribute = %v, %v", v, ok)
	}
}

func TestNilTracerFallsBackToNoop(t *testing.T) {
	_, span := tracing.StartSeriesSpan(context.Background(), nil, 8)
	tracing.EndSpan(span, nil)
	if span.SpanContext().IsValid() {
		t.Error("expected a no-op span")
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-error")
	tracing.EndSpan(span, errors.New("all payload sizes failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status code = %d, want %d (Error)", spans[0].Status.Code, codes.Error)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestEndSpanOk(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-ok")
	tracing.EndSpan(span, nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("span status code = %d, want %d (Ok)", spans[0].Status.Code, codes.Ok)
	}
}
