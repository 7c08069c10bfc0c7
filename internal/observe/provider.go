package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig describes the running voxreel instance to OpenTelemetry.
type ProviderConfig struct {
	ServiceName    string // default "voxreel"
	ServiceVersion string

	// CaptureMode and Platform are added to the resource so dashboards can
	// split engine and recorder deployments per device platform.
	CaptureMode string
	Platform    string

	// SampleRatio is the share of new traces recorded. Traces continued from
	// a shell traceparent follow the parent's decision. Values outside
	// (0, 1] record everything.
	SampleRatio float64

	// TraceExporter receives finished spans. Without one spans still feed
	// correlation IDs and logs but are not exported.
	TraceExporter sdktrace.SpanExporter
}

func (c ProviderConfig) resource() (*resource.Resource, error) {
	name := c.ServiceName
	if name == "" {
		name = "voxreel"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(c.ServiceVersion),
	}
	if c.CaptureMode != "" {
		attrs = append(attrs, attribute.String("voxreel.capture.mode", c.CaptureMode))
	}
	if c.Platform != "" {
		attrs = append(attrs, attribute.String("voxreel.platform", c.Platform))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func (c ProviderConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// InitProvider installs the global meter provider (served on /metrics by
// [MetricsHandler]), tracer provider and W3C propagator. The returned
// function flushes and closes both providers.
func InitProvider(_ context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.resource()
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// MetricsHandler serves the metrics registered by the Prometheus exporter
// that [InitProvider] installs on the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
