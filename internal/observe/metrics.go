// Package observe provides application-wide observability primitives for
// talkback: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkback metrics.
const meterName = "github.com/MrWong99/talkback"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDispatch tracks how long an engine takes to accept a
	// synthesis request (not the playback duration).
	SynthesisDispatch metric.Float64Histogram

	// AssistantDuration tracks assistant reply latency.
	AssistantDuration metric.Float64Histogram

	// --- Counters ---

	// SynthesisRequests counts engine dispatches. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	SynthesisRequests metric.Int64Counter

	// SessionOutcomes counts finished speech sessions. Use with attributes:
	//   attribute.String("state", ...), attribute.String("variant", ...)
	SessionOutcomes metric.Int64Counter

	// VoiceSelections counts voice picks by tier. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("variant", ...)
	VoiceSelections metric.Int64Counter

	// Messages counts chat messages appended to the log. Use with attribute:
	//   attribute.String("role", ...)
	Messages metric.Int64Counter

	// --- Error counters ---

	// AssistantErrors counts failed assistant calls. Use with attribute:
	//   attribute.String("backend", ...)
	AssistantErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a speech session is requesting or speaking.
	ActiveSessions metric.Int64UpDownCounter

	// EventSubscribers tracks connected event stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// engine dispatch and assistant round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDispatch, err = m.Float64Histogram("talkback.synthesis.dispatch.duration",
		metric.WithDescription("Latency until a synthesis engine accepts a request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssistantDuration, err = m.Float64Histogram("talkback.assistant.duration",
		metric.WithDescription("Latency of assistant replies."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthesisRequests, err = m.Int64Counter("talkback.synthesis.requests",
		metric.WithDescription("Total synthesis dispatches by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("talkback.session.outcomes",
		metric.WithDescription("Finished speech sessions by terminal state and variant."),
	); err != nil {
		return nil, err
	}
	if met.VoiceSelections, err = m.Int64Counter("talkback.voice.selections",
		metric.WithDescription("Voice selections by tier and variant."),
	); err != nil {
		return nil, err
	}
	if met.Messages, err = m.Int64Counter("talkback.messages",
		metric.WithDescription("Chat messages appended by role."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.AssistantErrors, err = m.Int64Counter("talkback.assistant.errors",
		metric.WithDescription("Failed assistant calls by backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("talkback.active_sessions",
		metric.WithDescription("Number of live speech sessions."),
	); err != nil {
		return nil, err
	}
	if met.EventSubscribers, err = m.Int64UpDownCounter("talkback.event_subscribers",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkback.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSynthesis records one engine dispatch and its latency.
func (m *Metrics) RecordSynthesis(ctx context.Context, engine, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	)
	m.SynthesisRequests.Add(ctx, 1, attrs)
	m.SynthesisDispatch.Record(ctx, d.Seconds(), attrs)
}

// RecordSessionOutcome records a session reaching a terminal state.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, state, variant string) {
	m.SessionOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("state", state),
			attribute.String("variant", variant),
		),
	)
}

// RecordVoiceSelection records which tier produced a voice.
func (m *Metrics) RecordVoiceSelection(ctx context.Context, tier, variant string) {
	m.VoiceSelections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("variant", variant),
		),
	)
}

// RecordMessage records a chat message append.
func (m *Metrics) RecordMessage(ctx context.Context, role string) {
	m.Messages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordAssistant records an assistant round trip. A non-nil err also
// increments [Metrics.AssistantErrors].
func (m *Metrics) RecordAssistant(ctx context.Context, backend string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.AssistantErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("backend", backend)),
		)
	}
	m.AssistantDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}
