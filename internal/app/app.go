// Package app wires all talkback subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context ends, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithAssistant, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/assistant"
	"github.com/MrWong99/talkback/internal/chat"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/history"
	"github.com/MrWong99/talkback/internal/notify"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/internal/server"
	"github.com/MrWong99/talkback/internal/speech/normalize"
	"github.com/MrWong99/talkback/internal/speech/rules"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/internal/speech/voice"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// DefaultListenAddr is used when server.listen_addr is empty.
const DefaultListenAddr = ":8080"

// ErrNoEngine is returned by [New] when no synthesis engine was provided.
var ErrNoEngine = errors.New("app: a synthesis engine is required")

// Providers holds the constructed backends. Populated by main via the config
// registry. Fallback and LLM may be nil.
type Providers struct {
	Engine       tts.Engine
	EngineName   string
	Fallback     tts.Engine
	FallbackName string
	LLM          llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	engine     tts.Engine
	catalog    *voice.Cache
	normalizer *normalize.Engine
	orch       *session.Orchestrator
	assistant  assistant.Assistant
	history    history.Store
	hub        *notify.Hub
	nats       *notify.NATSPublisher
	chat       *chat.Service
	server     *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of opening one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithAssistant injects an assistant instead of building the webhook/LLM
// failover chain from config.
func WithAssistant(as assistant.Assistant) Option {
	return func(a *App) { a.assistant = as }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler overrides the handler served on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel hands the app the level variable behind the process logger
// so that config reloads can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Engine == nil {
		return nil, ErrNoEngine
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Speech ────────────────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 2. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Events ────────────────────────────────────────────────────────
	if err := a.initEvents(); err != nil {
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 4. Orchestrator ──────────────────────────────────────────────────
	a.orch = session.New(a.engine,
		session.WithEngineName(a.engineName()),
		session.WithCatalog(a.catalog),
		session.WithNormalizer(a.normalizer),
		session.WithPreferredVoice(cfg.Speech.Voice),
		session.WithStopTimeout(cfg.Speech.StopTimeout),
		session.WithCatalogTimeout(cfg.Speech.CatalogTimeout),
		session.WithMetrics(a.metrics),
		session.WithListener(a.hub.SessionListener()),
	)

	// ── 5. Assistant + chat ──────────────────────────────────────────────
	if err := a.initAssistant(); err != nil {
		return nil, fmt.Errorf("app: init assistant: %w", err)
	}
	a.chat = chat.New(a.assistant, a.history,
		chat.WithSpeaker(a.orch),
		chat.WithEvents(a.hub),
		chat.WithSessionID(cfg.Assistant.SessionID),
		chat.WithHistoryWindow(historyWindow(cfg.Assistant)),
		chat.WithVariant(cfg.Variant()),
		chat.WithAutoSpeak(cfg.Speech.SpeaksReplies()),
		chat.WithMetrics(a.metrics),
	)

	// ── 6. HTTP API ──────────────────────────────────────────────────────
	a.server = server.New(a.chat, a.orch,
		server.WithVoices(a.catalog),
		server.WithNormalizer(a.normalizer),
		server.WithEvents(a.hub),
		server.WithHealth(health.New(a.healthChecks()...)),
		server.WithMetricsHandler(a.metricsHandler),
		server.WithMetrics(a.metrics),
		server.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSpeech builds the engine chain, the catalogue cache, and the text
// normaliser.
func (a *App) initSpeech() error {
	a.engine = a.providers.Engine
	if a.providers.Fallback != nil {
		fb := resilience.NewEngineFallback(a.providers.Engine, a.engineName(), resilience.FallbackConfig{})
		fb.AddFallback(a.providers.FallbackName, a.providers.Fallback)
		a.engine = fb
		slog.Info("speech fallback engine enabled", "primary", a.engineName(), "fallback", a.providers.FallbackName)
	}

	ttl := a.cfg.Speech.CatalogTTL
	if ttl == 0 {
		ttl = voice.DefaultCacheTTL
	}
	a.catalog = voice.NewCache(a.engine, ttl)

	reg, err := loadRules(a.cfg.Speech.RulesFiles)
	if err != nil {
		return err
	}
	a.normalizer = normalize.New(reg)
	return nil
}

// initHistory opens the configured conversation log or uses an injected one.
func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	store, err := history.Open(ctx, string(a.cfg.History.Backend), a.cfg.History.DSN)
	if err != nil {
		return err
	}
	a.history = store
	a.closers = append(a.closers, store.Close)
	slog.Info("history store opened", "backend", a.cfg.History.Backend)
	return nil
}

// initEvents creates the event hub and, when configured, its NATS publisher.
func (a *App) initEvents() error {
	hubOpts := []notify.Option{notify.WithMetrics(a.metrics)}
	if url := a.cfg.Events.NATSURL; url != "" {
		pub, err := notify.ConnectNATS(url, a.cfg.Events.Subject, 5*time.Second)
		if err != nil {
			return err
		}
		a.nats = pub
		hubOpts = append(hubOpts, notify.WithPublisher(pub))
		slog.Info("publishing events to nats", "url", url, "subject", a.cfg.Events.Subject)
	}
	a.hub = notify.NewHub(hubOpts...)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})
	if a.nats != nil {
		a.closers = append(a.closers, func() error {
			a.nats.Close()
			return nil
		})
	}
	return nil
}

// initAssistant builds the webhook-first failover chain. With no backend at
// all every reply fails, which the chat service turns into its connection
// error message.
func (a *App) initAssistant() error {
	if a.assistant != nil {
		return nil
	}
	ac := a.cfg.Assistant

	type backend struct {
		name string
		a    assistant.Assistant
	}
	var backends []backend
	if ac.Webhook.URL != "" {
		timeout := ac.Webhook.Timeout
		if timeout == 0 {
			timeout = assistant.DefaultWebhookTimeout
		}
		opts := []assistant.WebhookOption{assistant.WithTimeout(timeout)}
		if len(ac.Webhook.ReplyFields) > 0 {
			opts = append(opts, assistant.WithReplyFields(ac.Webhook.ReplyFields...))
		}
		wh, err := assistant.NewWebhook(ac.Webhook.URL, opts...)
		if err != nil {
			return err
		}
		backends = append(backends, backend{"webhook", wh})
	}
	if a.providers.LLM != nil {
		l, err := assistant.NewLLM(a.providers.LLM,
			assistant.WithSystemPrompt(ac.SystemPrompt),
			assistant.WithHistoryWindow(historyWindow(ac)),
			assistant.WithMaxTokens(ac.MaxTokens),
		)
		if err != nil {
			return err
		}
		backends = append(backends, backend{"llm/" + ac.LLM.Name, l})
	}

	if len(backends) == 0 {
		a.assistant = assistant.Func(func(context.Context, assistant.Request) (string, error) {
			return "", errors.New("no assistant backend configured")
		})
		return nil
	}

	f := assistant.NewFailover(backends[0].a, backends[0].name, assistant.WithMetrics(a.metrics))
	for _, b := range backends[1:] {
		f.AddFallback(b.name, b.a)
	}
	a.assistant = f
	slog.Info("assistant ready", "backends", f.Backends())
	return nil
}

func (a *App) healthChecks() []health.Checker {
	checks := []health.Checker{
		health.Catalog(a.catalog),
		health.Ping("history", a.history),
	}
	if a.nats != nil {
		checks = append(checks, health.Connected("nats", a.nats.Healthy))
	}
	return checks
}

// historyWindow treats an unset window as the default.
func historyWindow(ac config.AssistantConfig) int {
	if ac.HistoryWindow == 0 {
		return assistant.DefaultHistoryWindow
	}
	return ac.HistoryWindow
}

func (a *App) engineName() string {
	if a.providers.EngineName == "" {
		return "tts"
	}
	return a.providers.EngineName
}

// loadRules returns the built-in rule set extended by the given rule files.
func loadRules(files []string) (*rules.Registry, error) {
	reg := rules.Default()
	for _, path := range files {
		if err := reg.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load rules %q: %w", path, err)
		}
		slog.Info("loaded speech rules", "path", path)
	}
	return reg, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Chat returns the chat service.
func (a *App) Chat() *chat.Service { return a.chat }

// Orchestrator returns the speaking session orchestrator.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Events returns the event hub.
func (a *App) Events() *notify.Hub { return a.hub }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. On cancellation Run returns the context error.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Serve(gctx, addr)
	})
	g.Go(func() error {
		// Warm the catalogue so the first utterance does not pay for it.
		if _, err := a.catalog.ListVoices(gctx); err != nil {
			slog.Warn("voice catalog unavailable at startup", "err", err)
		}
		return nil
	})

	slog.Info("app running", "addr", addr, "variant", a.chat.Variant())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Silence the speaker before the hub and stores go away.
		if err := a.orch.Close(ctx); err != nil {
			slog.Warn("orchestrator close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
