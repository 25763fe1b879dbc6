// Package tracing provides OpenTelemetry initialization and the spans emitted
// around client runs and payload-size series.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/rttbench/internal/config"
)

const instrumentationName = "rttbench"

// target is the resolved OTLP destination after environment fallbacks.
type target struct {
	endpoint string
	protocol string
	service  string
	insecure bool
}

func resolveTarget(cfg config.TracingConfig) target {
	t := target{
		endpoint: firstNonEmpty(cfg.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		protocol: strings.ToLower(firstNonEmpty(cfg.Protocol, "grpc")),
		service:  firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), instrumentationName),
		insecure: cfg.Insecure,
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type exporterFactory func(ctx context.Context, t target) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	"grpc": func(ctx context.Context, t target) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	},
	"http": func(ctx context.Context, t target) (sdktrace.SpanExporter, error) {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.endpoint)}
		if t.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	},
}

// sampler honours the configured ratio while following the parent's decision.
func sampler(rate float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		root = sdktrace.NeverSample()
	case rate == 1:
		root = sdktrace.AlwaysSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root), nil
}

// Provider owns the SDK tracer provider. The zero value and a nil *Provider
// are valid and hand out no-op tracers.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init builds a Provider from cfg and installs it as the global tracer
// provider. Without an endpoint in cfg or OTEL_EXPORTER_OTLP_ENDPOINT it
// returns a disabled Provider.
func Init(ctx context.Context, cfg config.TracingConfig) (*Provider, error) {
	t := resolveTarget(cfg)
	if !cfg.Enabled() || t.endpoint == "" {
		return &Provider{}, nil
	}

	smp, err := sampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	factory, ok := exporters[t.protocol]
	if !ok {
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", t.protocol)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(t.service)))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	exp, err := factory(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter (%s): %w", t.protocol, err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(smp),
	)
	otel.SetTracerProvider(sdk)
	return &Provider{sdk: sdk, tracer: sdk.Tracer(instrumentationName)}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Tracer returns the provider's tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Shutdown flushes buffered spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
