// Package server exposes the conversation and speech controls over HTTP.
//
// Routes:
//
//	GET  /v1/messages      conversation log
//	POST /v1/messages      send a message, returns the exchange
//	POST /v1/speak         speak arbitrary text
//	POST /v1/stop          interrupt the live session
//	GET  /v1/session       current and last speaking session
//	GET  /v1/voices        voice catalog
//	GET  /v1/voice         preferred voice; PUT to change it
//	GET  /v1/variant       default variant; PUT to change it
//	POST /v1/normalize     normalization trace
//	GET  /v1/events        WebSocket event stream
//	GET  /healthz, /readyz probes
//	GET  /metrics          Prometheus scrape endpoint
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/talkback/internal/chat"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/notify"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/normalize"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/internal/speech/voice"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxBodyBytes      = 1 << 20
)

// Sessions reports speaking session state. *session.Orchestrator satisfies
// it.
type Sessions interface {
	Current() (session.Session, bool)
	Last() (session.Session, bool)
	State() session.State
	PreferredVoice() string
	SetPreferredVoice(name string)
}

// Normalizer traces a normalization. *normalize.Engine satisfies it.
type Normalizer interface {
	Trace(raw string, v speech.Variant) (string, []normalize.Step)
}

// Server is the HTTP front end.
type Server struct {
	chat       *chat.Service
	sessions   Sessions
	voices     voice.Lister
	normalizer Normalizer
	hub        *notify.Hub
	health     *health.Handler
	scrape     http.Handler
	metrics    *observe.Metrics
	origins    []string

	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithVoices enables GET /v1/voices.
func WithVoices(l voice.Lister) Option {
	return func(s *Server) { s.voices = l }
}

// WithNormalizer enables POST /v1/normalize.
func WithNormalizer(n Normalizer) Option {
	return func(s *Server) { s.normalizer = n }
}

// WithEvents enables the /v1/events stream.
func WithEvents(h *notify.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithMetrics sets the metrics sink of the request middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// New creates a [Server].
func New(c *chat.Service, sessions Sessions, opts ...Option) *Server {
	s := &Server{chat: c, sessions: sessions}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/messages", s.handleListMessages)
	mux.HandleFunc("POST /v1/messages", s.handleSendMessage)
	mux.HandleFunc("POST /v1/speak", s.handleSpeak)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/session", s.handleSession)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("GET /v1/voice", s.handleGetVoice)
	mux.HandleFunc("PUT /v1/voice", s.handlePutVoice)
	mux.HandleFunc("GET /v1/variant", s.handleGetVariant)
	mux.HandleFunc("PUT /v1/variant", s.handlePutVariant)
	mux.HandleFunc("POST /v1/normalize", s.handleNormalize)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}
