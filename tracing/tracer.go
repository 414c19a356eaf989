package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// TracingConfigured indicates whether an OTel TracerProvider has been
// installed. Mirrors MetricsConfigured's "did we actually export
// anything" flag.
var TracingConfigured bool

// TracerProvider builds an sdktrace.TracerProvider from c's OTLP
// settings and Sampling strategy, wiring the spans every component
// emits through StartSpan/End out to a collector. Returns (nil, nil,
// nil) when no OTLP endpoint is configured, matching
// MetricsConfig.MeterProvider's "tracing is optional" shape.
func (c Config) TracerProvider() (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if c.Sampling.OTLPAddress == "" {
		return nil, nil, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(c.Sampling.OTLPAddress),
	}
	if c.Sampling.OTLPUseTLS {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(c.Sampler()),
	)
	return tp, tp.Shutdown, nil
}

// ConfigureTracerProvider installs tp as the global OTel TracerProvider
// and repoints the package-level tracer at it so subsequent StartSpan
// calls are actually exported.
func ConfigureTracerProvider(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("podscaler")
	TracingConfigured = true
}
