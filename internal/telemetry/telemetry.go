// Package telemetry configures OpenTelemetry tracing and metrics for the
// gateway. With telemetry disabled the global no-op providers stay in
// place and instruments cost nothing.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getoutvideo/gateway/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/getoutvideo/gateway"

// ShutdownFunc flushes and stops the providers installed by Setup.
type ShutdownFunc func(context.Context) error

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Setup installs the W3C trace context propagator and, when enabled,
// OTLP/HTTP trace and metric exporters.
func Setup(ctx context.Context, cfg config.TelemetryConfig, environment, version string, logger *zap.Logger) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, err
	}

	var (
		traceOpts  []otlptracehttp.Option
		metricOpts []otlpmetrichttp.Option
	)

	if cfg.OTLPEndpoint != "" {
		// Accept "collector:4318" as well as full URLs.
		endpoint := cfg.OTLPEndpoint
		insecure := true
		if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
			endpoint = rest
			insecure = false
		} else {
			endpoint = strings.TrimPrefix(endpoint, "http://")
		}

		traceOpts = append(traceOpts, otlptracehttp.WithEndpoint(endpoint))
		metricOpts = append(metricOpts, otlpmetrichttp.WithEndpoint(endpoint))
		if insecure {
			traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
			metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		}
	}

	if headers := ParseHeaders(cfg.OTLPHeaders); len(headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(headers))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(headers))
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}

	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	logger.Info("telemetry enabled",
		zap.String("service", cfg.ServiceName),
		zap.String("endpoint", cfg.OTLPEndpoint),
	)

	return func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
		)
	}, nil
}

// ParseHeaders reads "key=value,key2=value2" pairs. Malformed pairs are
// skipped.
func ParseHeaders(raw string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}
