// Package notify fans out talkback events to live subscribers (the
// WebSocket stream) and to external publishers such as a NATS subject.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/pkg/types"
)

// Kind discriminates [Event] payloads.
type Kind string

const (
	// KindSession carries a speaking session transition.
	KindSession Kind = "session"
	// KindMessage carries a new conversation message.
	KindMessage Kind = "message"
	// KindVariant carries a change of the default variant.
	KindVariant Kind = "variant"
)

// Event is the wire form of everything the hub distributes.
type Event struct {
	Kind     Kind           `json:"kind"`
	Token    uint64         `json:"token,omitempty"`
	State    string         `json:"state,omitempty"`
	Variant  string         `json:"variant,omitempty"`
	Fallback bool           `json:"fallback,omitempty"`
	Error    string         `json:"error,omitempty"`
	Message  *types.Message `json:"message,omitempty"`
	At       time.Time      `json:"at"`
}

// FromSession converts a session transition.
func FromSession(e session.Event) Event {
	out := Event{
		Kind:     KindSession,
		Token:    uint64(e.Token),
		State:    e.State.String(),
		Variant:  string(e.Variant),
		Fallback: e.Fallback,
		At:       e.At,
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return out
}

// FromMessage converts a stored conversation message.
func FromMessage(m types.Message) Event {
	return Event{Kind: KindMessage, Message: &m, At: m.CreatedAt}
}

// Publisher forwards events outside the process.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Subscription is a live feed of events. Receive from C until it is closed.
type Subscription struct {
	C <-chan Event

	hub  *Hub
	ch   chan Event
	once sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub distributes events. Slow subscribers lose events rather than block
// the publisher.
type Hub struct {
	metrics    *observe.Metrics
	publishers []Publisher

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Option configures a [Hub].
type Option func(*Hub)

// WithPublisher adds an external publisher.
func WithPublisher(p Publisher) Option {
	return func(h *Hub) {
		if p != nil {
			h.publishers = append(h.publishers, p)
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty [Hub].
func NewHub(opts ...Option) *Hub {
	h := &Hub{subs: make(map[*Subscription]struct{})}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Subscribe registers a new subscriber with the given queue length. A
// non-positive buffer uses [DefaultBuffer]. Subscribing to a closed hub
// returns an already closed subscription.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, hub: h, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		s.once.Do(func() {})
		return s
	}
	h.subs[s] = struct{}{}
	h.metrics.EventSubscribers.Add(context.Background(), 1)
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	h.metrics.EventSubscribers.Add(context.Background(), -1)
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers e to every subscriber and publisher. It never blocks on
// a subscriber; publisher errors are logged.
func (h *Hub) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.Lock()
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			slog.Debug("event dropped for slow subscriber", "kind", e.Kind)
		}
	}
	h.mu.Unlock()

	for _, p := range h.publishers {
		if err := p.Publish(ctx, e); err != nil {
			observe.Logger(ctx).Warn("event publish failed", "kind", e.Kind, "err", err)
		}
	}
}

// SessionListener adapts the hub to a session listener.
func (h *Hub) SessionListener() session.Listener {
	return func(e session.Event) {
		h.Publish(context.Background(), FromSession(e))
	}
}

// Close closes every subscription. Later subscriptions are closed
// immediately; Publish keeps feeding publishers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
		h.metrics.EventSubscribers.Add(context.Background(), -1)
	}
}
