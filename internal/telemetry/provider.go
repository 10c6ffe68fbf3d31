// Package telemetry wires OpenTelemetry tracing and metrics to an OTLP/HTTP
// collector. Packages record through the otel globals it installs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Config is the telemetry: section of the server config.
type Config struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	CollectorURL   string  `mapstructure:"collector_url"`
	Insecure       bool    `mapstructure:"insecure"`
	EnableTracing  bool    `mapstructure:"enable_tracing"`
	EnableMetrics  bool    `mapstructure:"enable_metrics"`
	SamplingRatio  float64 `mapstructure:"sampling_ratio"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "website-assistant",
		ServiceVersion: "dev",
		Environment:    "development",
		CollectorURL:   "localhost:4318",
		Insecure:       true,
		SamplingRatio:  1.0,
	}
}

// Provider owns the SDK providers it installed.
type Provider struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// NewProvider installs the configured providers globally. With tracing and
// metrics both disabled it installs nothing and the otel no-op globals stay.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	p := &Provider{}
	if !config.EnableTracing && !config.EnableMetrics {
		return p, nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(config.CollectorURL, "http://"), "https://")

	if config.EnableTracing {
		p.TracerProvider, err = initTracing(ctx, res, endpoint, config)
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		otel.SetTracerProvider(p.TracerProvider)
	}
	if config.EnableMetrics {
		p.MeterProvider, err = initMetrics(ctx, res, endpoint, config)
		if err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
		otel.SetMeterProvider(p.MeterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	slog.Info("telemetry enabled", "collector", endpoint, "tracing", config.EnableTracing, "metrics", config.EnableMetrics)
	return p, nil
}

func initTracing(ctx context.Context, res *resource.Resource, endpoint string, config Config) (*trace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithURLPath("/v1/traces")}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	ratio := config.SamplingRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exp,
			trace.WithBatchTimeout(5*time.Second),
			trace.WithMaxExportBatchSize(512),
		),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(ratio))),
	), nil
}

func initMetrics(ctx context.Context, res *resource.Resource, endpoint string, config Config) (*metric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithURLPath("/v1/metrics")}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exp, metric.WithInterval(30*time.Second))),
	), nil
}

// Shutdown flushes and stops whatever NewProvider installed.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
