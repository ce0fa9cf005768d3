// Package config provides the configuration schema, loader, provider
// registry, and hot-reload watcher for talkback.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HistoryBackend selects where the conversation log is stored.
type HistoryBackend string

const (
	HistoryMemory   HistoryBackend = "memory"
	HistorySQLite   HistoryBackend = "sqlite"
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b HistoryBackend) IsValid() bool {
	switch b {
	case HistoryMemory, HistorySQLite, HistoryPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Speech    SpeechConfig    `yaml:"speech"`
	Assistant AssistantConfig `yaml:"assistant"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address (e.g. ":8080"). Empty disables
	// the HTTP API.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns accepted for cross-origin
	// WebSocket clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProviderEntry is the common configuration block of every provider. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "coqui",
	// "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if it has one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For coqui it is
	// the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g. "tts-1", "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// SpeechConfig configures normalization, voice selection, and synthesis.
type SpeechConfig struct {
	// Variant is the default variant name or alias ("american",
	// "filipino", "ph", ...). Defaults to american.
	Variant string `yaml:"variant"`

	// Engine is the primary synthesis engine. Defaults to the "command"
	// engine.
	Engine ProviderEntry `yaml:"engine"`

	// FallbackEngine is tried when the primary engine cannot dispatch.
	FallbackEngine ProviderEntry `yaml:"fallback_engine"`

	// Voice names a preferred voice, matched fuzzily against the catalog.
	Voice string `yaml:"voice"`

	// RulesFiles are YAML rule files layered over the built-in rules, in
	// order.
	RulesFiles []string `yaml:"rules_files"`

	// Player is the audio player command line for engines that return
	// audio clips. Empty selects the platform default.
	Player string `yaml:"player"`

	CatalogTTL     time.Duration `yaml:"catalog_ttl"`
	CatalogTimeout time.Duration `yaml:"catalog_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`

	// AutoSpeak speaks every assistant reply. Defaults to true.
	AutoSpeak *bool `yaml:"auto_speak"`
}

// SpeaksReplies resolves [SpeechConfig.AutoSpeak].
func (s SpeechConfig) SpeaksReplies() bool {
	return s.AutoSpeak == nil || *s.AutoSpeak
}

// AssistantConfig configures the remote conversational backend.
type AssistantConfig struct {
	// SessionID is sent to the webhook and keys the history. Defaults to
	// "1".
	SessionID string `yaml:"session_id"`

	Webhook WebhookConfig `yaml:"webhook"`

	// LLM is an optional model backend, used as the webhook's fallback or
	// alone when no webhook is configured.
	LLM ProviderEntry `yaml:"llm"`

	SystemPrompt  string `yaml:"system_prompt"`
	HistoryWindow int    `yaml:"history_window"`
	MaxTokens     int    `yaml:"max_tokens"`
}

// WebhookConfig configures the HTTP webhook backend.
type WebhookConfig struct {
	URL string `yaml:"url"`

	// ReplyFields are gjson paths read from the response, first non-empty
	// wins. Defaults to output, message.
	ReplyFields []string `yaml:"reply_fields"`

	Timeout time.Duration `yaml:"timeout"`
}

// HistoryConfig selects the conversation log store.
type HistoryConfig struct {
	Backend HistoryBackend `yaml:"backend"`

	// DSN is the SQLite file path or the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// EventsConfig configures the external event publisher.
type EventsConfig struct {
	// NATSURL enables publishing to NATS when set.
	NATSURL string `yaml:"nats_url"`

	// Subject prefix. Defaults to "talkback.events".
	Subject string `yaml:"subject"`
}
