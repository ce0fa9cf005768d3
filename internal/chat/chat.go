// Package chat runs the conversation loop: it stores the user's message,
// asks the assistant for a reply, stores that, and optionally speaks it.
//
// The [Service] owns the current default [speech.Variant]. Every speak
// request it issues passes that variant explicitly.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkback/internal/assistant"
	"github.com/MrWong99/talkback/internal/history"
	"github.com/MrWong99/talkback/internal/notify"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/pkg/types"
)

// ConnectionError is stored and spoken in place of a reply when the
// assistant could not be reached.
const ConnectionError = "❌ Connection error. Please check your connection and try again."

// ErrEmptyInput is returned by [Service.Send] and [Service.SpeakText] for
// blank text. Callers normally ignore it.
var ErrEmptyInput = errors.New("chat: empty input")

// ErrSpeechDisabled is returned when speech was requested from a
// [Service] built without a [Speaker].
var ErrSpeechDisabled = errors.New("chat: speech is disabled")

// Speaker starts and interrupts speech. *session.Orchestrator satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text string, v speech.Variant) (session.Token, error)
	Stop(ctx context.Context) bool
}

// Events receives conversation notifications. *notify.Hub satisfies it.
type Events interface {
	Publish(ctx context.Context, e notify.Event)
}

// Exchange is the outcome of one [Service.Send].
type Exchange struct {
	User  types.Message `json:"user"`
	Reply types.Message `json:"reply"`

	// Token identifies the speaking session of the reply. Zero when the
	// reply was not spoken.
	Token session.Token `json:"token,omitempty"`

	// AssistantError describes why the reply is [ConnectionError].
	AssistantError string `json:"assistant_error,omitempty"`
}

// Service is the conversation loop. It is safe for concurrent use; sends
// are processed one at a time.
type Service struct {
	assistant assistant.Assistant
	store     history.Store
	speaker   Speaker
	events    Events
	metrics   *observe.Metrics

	sessionID     string
	historyWindow int

	sendMu sync.Mutex

	mu        sync.RWMutex
	variant   speech.Variant
	autoSpeak bool
}

// Option configures a [Service].
type Option func(*Service)

// WithSpeaker enables speech. Without one, replies are only stored.
func WithSpeaker(s Speaker) Option {
	return func(svc *Service) { svc.speaker = s }
}

// WithEvents sets the notification sink.
func WithEvents(e Events) Option {
	return func(svc *Service) { svc.events = e }
}

// WithSessionID sets the conversation id sent to the assistant and used as
// the history key. Defaults to [assistant.DefaultSessionID].
func WithSessionID(id string) Option {
	return func(svc *Service) {
		if id != "" {
			svc.sessionID = id
		}
	}
}

// WithHistoryWindow sets how many earlier messages accompany each request.
// Zero sends none.
func WithHistoryWindow(n int) Option {
	return func(svc *Service) {
		if n >= 0 {
			svc.historyWindow = n
		}
	}
}

// WithVariant sets the initial default variant.
func WithVariant(v speech.Variant) Option {
	return func(svc *Service) {
		if v.IsValid() {
			svc.variant = v
		}
	}
}

// WithAutoSpeak controls whether replies are spoken. Defaults to true.
func WithAutoSpeak(on bool) Option {
	return func(svc *Service) { svc.autoSpeak = on }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// New creates a [Service].
func New(a assistant.Assistant, store history.Store, opts ...Option) *Service {
	svc := &Service{
		assistant:     a,
		store:         store,
		sessionID:     assistant.DefaultSessionID,
		historyWindow: assistant.DefaultHistoryWindow,
		variant:       speech.Primary,
		autoSpeak:     true,
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.metrics == nil {
		svc.metrics = observe.DefaultMetrics()
	}
	return svc
}

// SessionID returns the conversation id.
func (s *Service) SessionID() string { return s.sessionID }

// Send runs one exchange. An unreachable assistant is not an error: the
// reply becomes [ConnectionError]. Errors are returned for blank input and
// for history store failures.
func (s *Service) Send(ctx context.Context, text string) (Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return Exchange{}, ErrEmptyInput
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ctx, span := observe.StartSpan(ctx, "chat.send",
		trace.WithAttributes(observe.AttrSession.String(s.sessionID)))
	defer span.End()
	log := observe.Logger(ctx)

	var earlier []types.Message
	if s.historyWindow > 0 {
		var err error
		earlier, err = s.store.Recent(ctx, s.sessionID, s.historyWindow)
		if err != nil {
			return Exchange{}, fmt.Errorf("chat: load history: %w", err)
		}
	}

	user, err := s.append(ctx, types.RoleUser, text)
	if err != nil {
		return Exchange{}, err
	}
	ex := Exchange{User: user}

	reply, err := s.assistant.Reply(ctx, assistant.Request{
		SessionID: s.sessionID,
		Text:      text,
		History:   earlier,
	})
	if err != nil {
		log.Warn("assistant unreachable", "session_id", s.sessionID, "err", err)
		observe.Fail(span, err)
		reply = ConnectionError
		ex.AssistantError = err.Error()
	}

	ex.Reply, err = s.append(ctx, types.RoleAssistant, reply)
	if err != nil {
		return ex, err
	}

	if s.AutoSpeak() && s.speaker != nil {
		tok, err := s.speaker.Speak(ctx, reply, s.Variant())
		if err != nil {
			log.Warn("speaking reply failed", "err", err)
		} else {
			ex.Token = tok
			span.SetAttributes(observe.AttrToken.Int64(int64(tok)))
		}
	}
	return ex, nil
}

func (s *Service) append(ctx context.Context, role types.Role, content string) (types.Message, error) {
	m, err := s.store.Append(ctx, s.sessionID, types.Message{Role: role, Content: content})
	if err != nil {
		return types.Message{}, fmt.Errorf("chat: store %s message: %w", role, err)
	}
	s.metrics.RecordMessage(ctx, string(role))
	s.publish(ctx, notify.FromMessage(m))
	return m, nil
}

func (s *Service) publish(ctx context.Context, e notify.Event) {
	if s.events != nil {
		s.events.Publish(ctx, e)
	}
}

// Messages returns up to limit most recent messages, oldest first. A
// non-positive limit returns the whole log.
func (s *Service) Messages(ctx context.Context, limit int) ([]types.Message, error) {
	msgs, err := s.store.Recent(ctx, s.sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	return msgs, nil
}

// SpeakText speaks arbitrary text with the current default variant.
func (s *Service) SpeakText(ctx context.Context, text string) (session.Token, error) {
	return s.SpeakAs(ctx, text, s.Variant())
}

// SpeakAs speaks text with an explicit variant, leaving the default alone.
func (s *Service) SpeakAs(ctx context.Context, text string, v speech.Variant) (session.Token, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyInput
	}
	if s.speaker == nil {
		return 0, ErrSpeechDisabled
	}
	return s.speaker.Speak(ctx, text, v)
}

// Stop interrupts the live speaking session, if any.
func (s *Service) Stop(ctx context.Context) bool {
	if s.speaker == nil {
		return false
	}
	return s.speaker.Stop(ctx)
}

// Variant returns the current default variant.
func (s *Service) Variant() speech.Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.variant
}

// SetVariant changes the default variant. It reports whether the value
// changed; unknown variants are rejected.
func (s *Service) SetVariant(ctx context.Context, v speech.Variant) (bool, error) {
	if !v.IsValid() {
		return false, fmt.Errorf("chat: set variant %q: %w", v, speech.ErrUnknownVariant)
	}
	s.mu.Lock()
	changed := s.variant != v
	s.variant = v
	s.mu.Unlock()

	if changed {
		observe.Logger(ctx).Info("default variant changed", "variant", v)
		s.publish(ctx, notify.Event{Kind: notify.KindVariant, Variant: string(v)})
	}
	return changed, nil
}

// AutoSpeak reports whether replies are spoken.
func (s *Service) AutoSpeak() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoSpeak
}

// SetAutoSpeak toggles speaking of replies.
func (s *Service) SetAutoSpeak(on bool) {
	s.mu.Lock()
	s.autoSpeak = on
	s.mu.Unlock()
}
