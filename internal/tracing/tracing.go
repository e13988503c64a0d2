package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

var errNoServiceName = errors.New("tracing: service name is required")

// Config configures the tracer provider of the API process.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string // ExporterOTLPHTTP when empty
	Endpoint       string // host:port; the exporter default when empty
	SamplingRate   float64
	Insecure       bool // plain-text OTLP, for local collectors
}

type exporterFunc func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFunc{
	ExporterOTLPHTTP: func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	},
	ExporterOTLPGRPC: func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	},
}

// Provider owns the process tracer provider. A disabled Provider is inert.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds the tracer provider described by cfg and installs it,
// with W3C trace context and baggage propagation, as the global provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		slog.Info("tracing disabled")
		return &Provider{}, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	name := cfg.Exporter
	if name == "" {
		name = ExporterOTLPHTTP
	}
	newExporter, ok := exporters[name]
	if !ok {
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create %s exporter: %w", name, err)
	}

	p, err := newProvider(cfg, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("tracing initialized",
		"service", cfg.ServiceName,
		"exporter", name,
		"endpoint", cfg.Endpoint,
		"sampling_rate", cfg.SamplingRate,
	)
	return p, nil
}

func (cfg Config) validate() error {
	if cfg.ServiceName == "" {
		return errNoServiceName
	}
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		return fmt.Errorf("tracing: sampling rate must be between 0 and 1, got %g", cfg.SamplingRate)
	}
	return nil
}

// newProvider builds the provider without touching globals; processor
// decides where spans go.
func newProvider(cfg Config, processor sdktrace.TracerProviderOption) (*Provider, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}
	return &Provider{tp: sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
		processor,
	)}, nil
}

// sampler follows the caller's decision when a request arrives with a
// sampled trace context and samples new traces at rate.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing: shutdown: %w", err)
	}
	return nil
}
