package observe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProviders_ExportsTalkbackMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	p, err := NewProviders(ProviderConfig{Registerer: reg, ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordSynthesis(ctx, "coqui", "ok", 40*time.Millisecond)
	m.RecordVoiceSelection(ctx, "exact_locale", "american")
	m.RecordSessionOutcome(ctx, "completed", "american")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var names []string
	service := ""
	for _, f := range families {
		names = append(names, f.GetName())
		if f.GetName() != "target_info" {
			continue
		}
		for _, lp := range f.GetMetric()[0].GetLabel() {
			if lp.GetName() == "service_name" {
				service = lp.GetValue()
			}
		}
	}
	joined := strings.Join(names, " ")
	for _, want := range []string{"talkback_synthesis_dispatch_duration", "talkback_voice_selections", "talkback_session_outcomes"} {
		if !strings.Contains(joined, want) {
			t.Errorf("gathered families %q missing %q", names, want)
		}
	}
	if service != DefaultServiceName {
		t.Errorf("service_name = %q, want %q", service, DefaultServiceName)
	}
}

func TestNewProviders_TraceExporter(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	p, err := NewProviders(ProviderConfig{
		ServiceName:   "talkback-test",
		Registerer:    prometheus.NewRegistry(),
		TraceExporter: exp,
	})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.TracerProvider.Tracer(tracerName).Start(context.Background(), "chat.send")
	span.End()
	if err := p.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "chat.send" {
		t.Fatalf("exported spans = %+v, want one chat.send", spans)
	}
	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" && kv.Value.AsString() == "talkback-test" {
			found = true
		}
	}
	if !found {
		t.Error("span resource missing service.name=talkback-test")
	}
}

func TestNewProviders_SampleRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio   float64
		sampled bool
	}{
		{0, true},
		{1, true},
		{0.000000001, false},
	}
	for _, tt := range tests {
		p, err := NewProviders(ProviderConfig{Registerer: prometheus.NewRegistry(), SampleRatio: tt.ratio})
		if err != nil {
			t.Fatalf("NewProviders(%v): %v", tt.ratio, err)
		}
		_, span := p.TracerProvider.Tracer(tracerName).Start(context.Background(), "session.speak")
		if got := span.SpanContext().IsSampled(); got != tt.sampled {
			t.Errorf("ratio %v: sampled = %v, want %v", tt.ratio, got, tt.sampled)
		}
		span.End()
		_ = p.Shutdown(context.Background())
	}
}
