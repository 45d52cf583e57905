// Package telemetry wires OpenTelemetry tracing for the feed client and the
// mock server.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.25.0"
)

const defaultServiceName = "publishwed"

// Config carries the OTEL_* settings; pkg/config fills it.
type Config struct {
	ServiceName string
	Endpoint    string
	// Headers is the OTLP form "k1=v1,k2=v2".
	Headers    string
	Timeout    time.Duration
	Insecure   bool
	Required   bool
	Sampler    string
	SamplerArg string
}

// Init installs a global tracer provider. With no endpoint, or when the
// exporter cannot be built and Required is false, spans are recorded but
// never leave the process.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	opts := []trace.TracerProviderOption{
		trace.WithResource(cfg.resource()),
		trace.WithSampler(cfg.sampler()),
	}
	if strings.TrimSpace(cfg.Endpoint) != "" {
		exporter, err := otlptracehttp.New(ctx, cfg.exporterOptions()...)
		switch {
		case err == nil:
			opts = append(opts, trace.WithBatcher(exporter))
		case cfg.Required:
			return nil, err
		default:
			slog.Warn("trace export disabled", "endpoint", cfg.Endpoint, "error", err)
		}
	}
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

func (c Config) serviceName() string {
	if name := strings.TrimSpace(c.ServiceName); name != "" {
		return name
	}
	return defaultServiceName
}

func (c Config) resource() *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.serviceName()),
	))
	if err != nil {
		// schema clash with the SDK default; keep only our attributes
		return resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(c.serviceName()))
	}
	return res
}

func (c Config) exporterOptions() []otlptracehttp.Option {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimSpace(c.Endpoint)),
		otlptracehttp.WithTimeout(timeout),
	}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if headers := c.headers(); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	return opts
}

// sampler maps OTEL_TRACES_SAMPLER names; anything unknown is parent-based
// with the configured ratio.
func (c Config) sampler() trace.Sampler {
	ratio := 1.0
	if v, err := strconv.ParseFloat(strings.TrimSpace(c.SamplerArg), 64); err == nil {
		ratio = min(max(v, 0), 1)
	}
	switch strings.ToLower(strings.TrimSpace(c.Sampler)) {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}

func (c Config) headers() map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(c.Headers, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if k = strings.TrimSpace(k); ok && k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// HTTPMiddleware traces inbound requests under serviceName.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(Config{ServiceName: serviceName}.serviceName())
}

// InstrumentClient routes client through an OTel transport. Already
// instrumented clients are returned unchanged.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if _, done := client.Transport.(*otelhttp.Transport); done {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}
