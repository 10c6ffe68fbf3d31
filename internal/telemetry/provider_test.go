package telemetry

import (
	"context"
	"testing"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if p.TracerProvider != nil || p.MeterProvider != nil {
		t.Fatalf("disabled telemetry installed providers")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEnabledProviderBuildsWithoutCollector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableTracing, cfg.EnableMetrics = true, true
	cfg.CollectorURL = "http://127.0.0.1:1"
	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil {
		t.Fatalf("providers missing")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}
