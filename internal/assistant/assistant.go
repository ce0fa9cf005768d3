// Package assistant exchanges chat messages with the remote conversational
// backend.
//
// The default backend is an HTTP [Webhook] that accepts
// {"message", "sessionId"} and answers with a JSON document. An [LLM]
// backend talks to any provider supported by pkg/provider/llm and is
// usually configured as the fallback of a [Failover].
package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/pkg/types"
)

// NoResponse is the reply used when the backend answered without any text.
const NoResponse = "No response received"

// ErrEmptyMessage is returned for blank input.
var ErrEmptyMessage = errors.New("assistant: empty message")

// Request is one user turn sent to the backend.
type Request struct {
	// SessionID identifies the conversation on the backend.
	SessionID string

	// Text is the user's message.
	Text string

	// History holds earlier messages, oldest first. It does not include Text.
	History []types.Message
}

// Assistant produces the reply to a user message.
type Assistant interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to [Assistant].
type Func func(ctx context.Context, req Request) (string, error)

// Reply calls f.
func (f Func) Reply(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Failover tries a chain of assistants, each behind a circuit breaker, and
// records latency and errors per serving backend.
type Failover struct {
	group   *resilience.FallbackGroup[Assistant]
	metrics *observe.Metrics
}

var _ Assistant = (*Failover)(nil)

// FailoverOption configures a [Failover].
type FailoverOption func(*failoverConfig)

type failoverConfig struct {
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
}

// WithBreaker sets the circuit breaker template used for every backend.
func WithBreaker(cfg resilience.CircuitBreakerConfig) FailoverOption {
	return func(c *failoverConfig) { c.breaker = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) FailoverOption {
	return func(c *failoverConfig) { c.metrics = m }
}

// NewFailover creates a [Failover] with primary as the preferred backend.
func NewFailover(primary Assistant, primaryName string, opts ...FailoverOption) *Failover {
	cfg := failoverConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	return &Failover{
		group: resilience.NewFallbackGroup(primary, primaryName, resilience.FallbackConfig{
			CircuitBreaker: cfg.breaker,
			Final:          func(err error) bool { return errors.Is(err, ErrEmptyMessage) },
		}),
		metrics: cfg.metrics,
	}
}

// AddFallback appends a backend tried after the previous ones.
func (f *Failover) AddFallback(name string, a Assistant) {
	f.group.AddFallback(name, a)
}

// Backends returns the backend names in failover order.
func (f *Failover) Backends() []string { return f.group.Names() }

// Reply asks the first healthy backend for a reply.
func (f *Failover) Reply(ctx context.Context, req Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.reply")
	defer span.End()

	start := time.Now()
	reply, served, err := resilience.ExecuteWithResult(ctx, f.group, func(ctx context.Context, a Assistant) (string, error) {
		return a.Reply(ctx, req)
	})
	if served == "" {
		served = "none"
	}
	f.metrics.RecordAssistant(ctx, served, time.Since(start), err)
	span.SetAttributes(observe.AttrBackend.String(served))

	if err != nil {
		observe.Fail(span, err)
		return "", err
	}
	if served != f.group.Names()[0] {
		observe.Logger(ctx).Warn("assistant reply served by fallback", "backend", served)
	}
	return reply, nil
}
