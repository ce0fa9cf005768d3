package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkback/internal/app"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/pkg/audio/player"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/llm/anyllm"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/provider/tts/command"
	"github.com/MrWong99/talkback/pkg/provider/tts/coqui"
	"github.com/MrWong99/talkback/pkg/provider/tts/openai"
)

// defaultEngine is used when speech.engine is not configured.
const defaultEngine = "command"

// registerBuiltinProviders wires all built-in provider factories into reg.
// Engines that produce audio clips play them through the player command
// configured in speech.player.
func registerBuiltinProviders(reg *config.Registry, speech config.SpeechConfig) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every hosted backend shares the same pattern: optional APIKey and
	// optional BaseURL. ollama and the llama servers simply leave the key out.
	for _, providerName := range config.ValidProviderNames["llm"] {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	commandEngine := func(flavor command.Flavor) func(config.ProviderEntry) (tts.Engine, error) {
		return func(entry config.ProviderEntry) (tts.Engine, error) {
			f := flavor
			if opt := entry.StringOption("flavor"); opt != "" {
				f = command.Flavor(opt)
			}
			e, err := command.New(f, command.WithCommandLine(entry.StringOption("command_line")))
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	reg.RegisterTTS("command", commandEngine(""))
	reg.RegisterTTS("espeak-ng", commandEngine(command.FlavorEspeak))
	reg.RegisterTTS("say", commandEngine(command.FlavorSay))

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Engine, error) {
		p, err := newPlayer(speech.Player)
		if err != nil {
			return nil, err
		}
		opts := []coqui.Option{coqui.WithPlayer(p)}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.StringOption("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d, err := durationOption(entry, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		e, err := coqui.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Engine, error) {
		p, err := newPlayer(speech.Player)
		if err != nil {
			return nil, err
		}
		opts := []openai.Option{openai.WithPlayer(p)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if s := entry.StringOption("instructions"); s != "" {
			opts = append(opts, openai.WithInstructions(s))
		}
		if d, err := durationOption(entry, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		e, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	})

	slog.Debug("registered providers", "tts", reg.TTSNames(), "llm", reg.LLMNames())
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary := speechEngine(cfg.Speech)
	e, err := reg.CreateTTS(primary)
	if err != nil {
		return nil, fmt.Errorf("create tts engine %q: %w", primary.Name, err)
	}
	ps.Engine, ps.EngineName = e, primary.Name
	slog.Info("provider created", "kind", "tts", "name", primary.Name)

	if fb := cfg.Speech.FallbackEngine; fb.Configured() {
		e, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback tts engine %q: %w", fb.Name, err)
		}
		ps.Fallback, ps.FallbackName = e, fb.Name
		if ps.FallbackName == ps.EngineName {
			ps.FallbackName += "-fallback"
		}
		slog.Info("provider created", "kind", "tts-fallback", "name", fb.Name)
	}

	if entry := cfg.Assistant.LLM; entry.Configured() {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not available, skipping", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
		}
	}

	return ps, nil
}

// speechEngine returns the configured engine entry, defaulting to the
// platform's command-line synthesiser.
func speechEngine(s config.SpeechConfig) config.ProviderEntry {
	if s.Engine.Configured() {
		return s.Engine
	}
	return config.ProviderEntry{Name: defaultEngine}
}

func newPlayer(cmdline string) (player.Player, error) {
	p, err := player.NewCommand(cmdline)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// durationOption parses a duration from a provider option such as "20s".
func durationOption(entry config.ProviderEntry, key string) (time.Duration, error) {
	s := entry.StringOption(key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return d, nil
}
