// Package session coordinates one speaking session at a time: it queries the
// engine's voice catalogue, normalises the text, picks a voice, dispatches
// the utterance, and tracks the outcome.
//
// Every session gets a [Token]. Engine callbacks are bound to the token they
// were issued for, so a late callback from a superseded session can never
// move the state of the current one. Each token receives exactly one terminal
// [Event].
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/normalize"
	"github.com/MrWong99/talkback/internal/speech/voice"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// ErrEmptyText is returned by [Orchestrator.Speak] for blank input.
var ErrEmptyText = errors.New("session: empty text")

const (
	// DefaultStopTimeout bounds the best-effort engine stop.
	DefaultStopTimeout = 2 * time.Second

	// DefaultCatalogTimeout bounds the catalogue query.
	DefaultCatalogTimeout = 3 * time.Second
)

// Normalizer rewrites text for a variant. [*normalize.Engine] satisfies it.
type Normalizer interface {
	Normalize(raw string, v speech.Variant) string
}

// Selector picks a voice. [*voice.Selector] satisfies it.
type Selector interface {
	Select(catalog []tts.Voice, v speech.Variant) (voice.Match, bool)
}

var (
	_ Normalizer = (*normalize.Engine)(nil)
	_ Selector   = (*voice.Selector)(nil)
)

// live is the mutable record of the current session.
type live struct {
	sess   Session
	ctx    context.Context
	cancel context.CancelFunc
}

// Orchestrator runs speaking sessions against a [tts.Engine]. At most one
// session is live at a time; starting a new one stops the previous one.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	engine         tts.Engine
	engineName     string
	catalog        voice.Lister
	normalizer     Normalizer
	selector       Selector
	listeners      []Listener
	metrics        *observe.Metrics
	stopTimeout    time.Duration
	catalogTimeout time.Duration

	// opMu serialises Stop and the supersede step of Speak, including the
	// engine stop, so a stop can never land on a session minted after it.
	opMu sync.Mutex

	// emitMu serialises listener delivery so events arrive in transition
	// order. It is acquired before mu is released.
	emitMu sync.Mutex

	mu        sync.Mutex
	next      Token
	cur       *live
	last      Session
	preferred string
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithListener registers a listener. May be given more than once.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithCatalog overrides the catalogue source, typically with a
// [voice.Cache] around the engine. Defaults to the engine itself.
func WithCatalog(c voice.Lister) Option {
	return func(o *Orchestrator) {
		o.catalog = c
	}
}

// WithNormalizer overrides the text normaliser. Defaults to
// normalize.New(nil).
func WithNormalizer(n Normalizer) Option {
	return func(o *Orchestrator) {
		o.normalizer = n
	}
}

// WithSelector overrides the voice selector. Defaults to voice.NewSelector().
func WithSelector(s Selector) Option {
	return func(o *Orchestrator) {
		o.selector = s
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithEngineName sets the engine label used in metrics and logs.
func WithEngineName(name string) Option {
	return func(o *Orchestrator) {
		o.engineName = name
	}
}

// WithStopTimeout bounds every engine stop. Non-positive values are ignored.
func WithStopTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithCatalogTimeout bounds every catalogue query. Non-positive values are
// ignored.
func WithCatalogTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.catalogTimeout = d
		}
	}
}

// WithPreferredVoice sets the initial preferred voice name. See
// [Orchestrator.SetPreferredVoice].
func WithPreferredVoice(name string) Option {
	return func(o *Orchestrator) {
		o.preferred = name
	}
}

// New creates an Orchestrator speaking through engine.
func New(engine tts.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:         engine,
		engineName:     "tts",
		stopTimeout:    DefaultStopTimeout,
		catalogTimeout: DefaultCatalogTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.catalog == nil {
		o.catalog = engine
	}
	if o.normalizer == nil {
		o.normalizer = normalize.New(nil)
	}
	if o.selector == nil {
		o.selector = voice.NewSelector()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SetPreferredVoice sets a voice name that, when it resolves against the
// catalogue, overrides the tiered selection. An empty name clears it.
// Applies from the next session on.
func (o *Orchestrator) SetPreferredVoice(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preferred = strings.TrimSpace(name)
}

// PreferredVoice returns the configured preferred voice name.
func (o *Orchestrator) PreferredVoice() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.preferred
}

// Speak starts a session for text in variant v and returns its token once
// the engine has been dispatched to (or the session has ended). It does not
// wait for playback.
//
// A live session is stopped first. The only errors returned are for invalid
// input; everything else is reported through [Event]s. ctx bounds the call
// but not the session: the utterance keeps playing after ctx ends and is
// interrupted only by [Orchestrator.Stop] or a later Speak.
func (o *Orchestrator) Speak(ctx context.Context, text string, v speech.Variant) (Token, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}
	if !v.IsValid() {
		return 0, fmt.Errorf("session: speak: %w %q", speech.ErrUnknownVariant, v)
	}

	ctx, span := observe.StartSpan(ctx, "session.speak",
		trace.WithAttributes(observe.AttrVariant.String(string(v))))
	defer span.End()
	log := observe.Logger(ctx)

	o.opMu.Lock()
	o.mu.Lock()
	var events []Event
	superseded := o.cur != nil
	if superseded {
		events = append(events, o.finishLocked(Stopped, nil))
	}
	o.next++
	tok := o.next
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cur = &live{
		sess: Session{
			Token:     tok,
			State:     Requesting,
			Variant:   v,
			Text:      text,
			StartedAt: time.Now(),
		},
		ctx:    sctx,
		cancel: cancel,
	}
	preferred := o.preferred
	o.metrics.ActiveSessions.Add(ctx, 1)
	events = append(events, o.eventLocked(Requesting, nil, false))
	o.unlockAndEmit(events...)

	span.SetAttributes(observe.AttrToken.Int64(int64(tok)))
	if superseded {
		o.stopEngine(ctx)
	}
	o.opMu.Unlock()

	catalog := o.fetchCatalog(sctx)
	normalized := o.normalizer.Normalize(text, v)

	var (
		match voice.Match
		found bool
	)
	if preferred != "" {
		if pv, ok := voice.Resolve(catalog, preferred, 0); ok {
			match, found = voice.Match{Voice: pv, Tier: voice.TierPreferred}, true
		}
	}
	if !found {
		match, found = o.selector.Select(catalog, v)
	}

	profile := speech.ProfileFor(v)
	opts := tts.Options{
		Locale:  profile.Locale,
		Pitch:   profile.Prosody.Pitch,
		Rate:    profile.Prosody.Rate,
		Quality: profile.Quality,
	}
	if found {
		opts.VoiceID = match.Voice.ID
		o.metrics.RecordVoiceSelection(ctx, match.Tier.String(), string(v))
		span.SetAttributes(observe.AttrVoice.String(match.Voice.ID), observe.AttrTier.String(match.Tier.String()))
	}

	o.mu.Lock()
	if !o.isCurrentLocked(tok) {
		o.mu.Unlock()
		log.Debug("session superseded before dispatch", "token", tok)
		return tok, nil
	}
	o.cur.sess.NormalizedText = normalized
	o.cur.sess.Prosody = profile.Prosody
	if found {
		chosen := match.Voice
		o.cur.sess.Voice = &chosen
		o.cur.sess.Tier = match.Tier
	}
	o.cur.sess.State = Speaking
	o.unlockAndEmit(o.eventLocked(Speaking, nil, false))

	err := o.dispatch(ctx, sctx, tok, normalized, opts)
	if err == nil {
		return tok, nil
	}
	if errors.Is(err, tts.ErrPermission) {
		err = fmt.Errorf("session: dispatch: %w", err)
		observe.Fail(span, err)
		o.fail(tok, err)
		return tok, nil
	}

	log.Warn("synthesis dispatch failed, retrying with fallback request",
		"token", tok, "err", err)

	o.mu.Lock()
	if !o.isCurrentLocked(tok) {
		o.mu.Unlock()
		return tok, nil
	}
	o.cur.sess.Voice = nil
	o.cur.sess.Tier = voice.TierNone
	o.cur.sess.Prosody = speech.DefaultProsody
	o.cur.sess.Fallback = true
	o.unlockAndEmit(o.eventLocked(Speaking, nil, true))

	fallback := tts.Options{
		Pitch: speech.DefaultProsody.Pitch,
		Rate:  speech.DefaultProsody.Rate,
	}
	span.SetAttributes(attribute.Bool("talkback.session.fallback", true))
	if err := o.dispatch(ctx, sctx, tok, normalized, fallback); err != nil {
		err = fmt.Errorf("session: fallback dispatch: %w", err)
		observe.Fail(span, err)
		o.fail(tok, err)
	}
	return tok, nil
}

// Stop interrupts the live session. It returns false when there was
// nothing to stop. The session is Stopped whether or not the engine
// acknowledges the stop within the stop timeout.
func (o *Orchestrator) Stop(ctx context.Context) bool {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.Lock()
	if o.cur == nil {
		o.mu.Unlock()
		return false
	}
	ev := o.finishLocked(Stopped, nil)
	o.unlockAndEmit(ev)

	o.stopEngine(ctx)
	return true
}

// Current returns a snapshot of the live session. The second result is
// false when the orchestrator is idle.
func (o *Orchestrator) Current() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return Session{}, false
	}
	return o.cur.sess, true
}

// Last returns a snapshot of the most recently finished session.
func (o *Orchestrator) Last() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.last.Token != 0
}

// State returns the current state, Idle when no session is live.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur == nil {
		return Idle
	}
	return o.cur.sess.State
}

// Close stops any live session.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.Stop(ctx)
	return nil
}

// dispatch issues one engine request bound to tok. A nil return means the
// engine owns the outcome from here on.
func (o *Orchestrator) dispatch(ctx, sctx context.Context, tok Token, text string, opts tts.Options) error {
	start := time.Now()
	err := o.engine.Speak(sctx, text, opts, o.callbacks(tok))
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordSynthesis(ctx, o.engineName, status, time.Since(start))
	return err
}

// callbacks binds engine outcomes to tok.
func (o *Orchestrator) callbacks(tok Token) tts.Callbacks {
	return tts.Callbacks{
		OnDone:    func() { o.settle(tok, Completed, nil) },
		OnStopped: func() { o.settle(tok, Stopped, nil) },
		OnError: func(err error) {
			o.settle(tok, Failed, fmt.Errorf("session: playback: %w", err))
		},
	}
}

// settle applies an engine callback. Callbacks for a superseded token or a
// session that is not Speaking are dropped.
func (o *Orchestrator) settle(tok Token, state State, err error) {
	o.mu.Lock()
	if !o.isCurrentLocked(tok) || o.cur.sess.State != Speaking {
		o.mu.Unlock()
		return
	}
	ev := o.finishLocked(state, err)
	o.unlockAndEmit(ev)
}

// fail ends tok as Failed if it is still current.
func (o *Orchestrator) fail(tok Token, err error) {
	o.mu.Lock()
	if !o.isCurrentLocked(tok) {
		o.mu.Unlock()
		return
	}
	ctx := o.cur.ctx
	ev := o.finishLocked(Failed, err)
	o.unlockAndEmit(ev)
	observe.Logger(ctx).Error("speech session failed", "token", tok, "err", err)
}

func (o *Orchestrator) fetchCatalog(ctx context.Context) []tts.Voice {
	ctx, cancel := context.WithTimeout(ctx, o.catalogTimeout)
	defer cancel()
	catalog, err := o.catalog.ListVoices(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("voice catalogue unavailable, using engine default voice", "err", err)
		return nil
	}
	return catalog
}

func (o *Orchestrator) stopEngine(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stopTimeout)
	defer cancel()
	if err := o.engine.Stop(ctx); err != nil {
		observe.Logger(ctx).Warn("engine stop not acknowledged", "err", err)
	}
}

func (o *Orchestrator) isCurrentLocked(tok Token) bool {
	return o.cur != nil && o.cur.sess.Token == tok
}

// eventLocked builds an event for the current session.
func (o *Orchestrator) eventLocked(state State, err error, fallback bool) Event {
	return Event{
		Token:    o.cur.sess.Token,
		State:    state,
		Variant:  o.cur.sess.Variant,
		Err:      err,
		Fallback: fallback,
		At:       time.Now(),
	}
}

// finishLocked moves the current session to a terminal state, cancels its
// context, and returns the terminal event. o.cur is nil afterwards.
func (o *Orchestrator) finishLocked(state State, err error) Event {
	ev := o.eventLocked(state, err, false)
	cur := o.cur
	cur.sess.State = state
	cur.sess.Err = err
	cur.sess.EndedAt = ev.At
	cur.cancel()
	o.last = cur.sess
	o.cur = nil

	o.metrics.ActiveSessions.Add(cur.ctx, -1)
	o.metrics.RecordSessionOutcome(cur.ctx, state.String(), string(cur.sess.Variant))
	return ev
}

// unlockAndEmit releases o.mu and delivers events to the listeners. Must be
// called with o.mu held.
func (o *Orchestrator) unlockAndEmit(events ...Event) {
	o.emitMu.Lock()
	o.mu.Unlock()
	defer o.emitMu.Unlock()
	for _, ev := range events {
		for _, l := range o.listeners {
			l(ev)
		}
	}
}
