package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/talkback/internal/speech"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside these lists.
var ValidProviderNames = map[string][]string{
	"tts": {"command", "espeak-ng", "say", "coqui", "openai"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result. An
// empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns every failure found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Speech.Variant != "" {
		if _, err := speech.ParseVariant(cfg.Speech.Variant); err != nil {
			errs = append(errs, fmt.Errorf("speech.variant %q is invalid; valid values: american, filipino", cfg.Speech.Variant))
		}
	}
	validateProviderName("tts", cfg.Speech.Engine.Name)
	validateProviderName("tts", cfg.Speech.FallbackEngine.Name)
	if cfg.Speech.FallbackEngine.Configured() && !cfg.Speech.Engine.Configured() {
		errs = append(errs, errors.New("speech.fallback_engine requires speech.engine"))
	}
	if cfg.Speech.Engine.Name == "coqui" && cfg.Speech.Engine.BaseURL == "" {
		errs = append(errs, errors.New("speech.engine.base_url is required for coqui"))
	}
	if cfg.Speech.FallbackEngine.Name == "coqui" && cfg.Speech.FallbackEngine.BaseURL == "" {
		errs = append(errs, errors.New("speech.fallback_engine.base_url is required for coqui"))
	}
	for name, d := range map[string]int64{
		"speech.catalog_ttl":        int64(cfg.Speech.CatalogTTL),
		"speech.catalog_timeout":    int64(cfg.Speech.CatalogTimeout),
		"speech.stop_timeout":       int64(cfg.Speech.StopTimeout),
		"assistant.webhook.timeout": int64(cfg.Assistant.Webhook.Timeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	validateProviderName("llm", cfg.Assistant.LLM.Name)
	if cfg.Assistant.LLM.Configured() && cfg.Assistant.LLM.Model == "" {
		errs = append(errs, errors.New("assistant.llm.model is required when assistant.llm.name is set"))
	}
	if cfg.Assistant.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("assistant.history_window %d must not be negative", cfg.Assistant.HistoryWindow))
	}
	if cfg.Assistant.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", cfg.Assistant.MaxTokens))
	}
	if cfg.Assistant.Webhook.URL == "" && !cfg.Assistant.LLM.Configured() {
		slog.Warn("no assistant backend configured; every message will get the connection error reply")
	}

	if cfg.History.Backend != "" && !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, sqlite, postgres", cfg.History.Backend))
	}
	if (cfg.History.Backend == HistorySQLite || cfg.History.Backend == HistoryPostgres) && cfg.History.DSN == "" {
		errs = append(errs, fmt.Errorf("history.dsn is required for backend %q", cfg.History.Backend))
	}

	if cfg.Events.Subject != "" && cfg.Events.NATSURL == "" {
		slog.Warn("events.subject is set but events.nats_url is empty; events stay local")
	}

	return errors.Join(errs...)
}

// Variant resolves the configured default variant.
func (c *Config) Variant() speech.Variant {
	v, err := speech.ParseVariant(c.Speech.Variant)
	if err != nil {
		return speech.Primary
	}
	return v
}

// validateProviderName logs a warning if name is set and not built in.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
