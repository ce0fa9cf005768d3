package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/talkback/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Speech: config.SpeechConfig{Variant: "american", Voice: "Samantha"},
	}
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("Changed() = true for identical configs: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %q, want none", d.RestartRequired)
	}
}

func TestDiff_VariantAliasIsNotAChange(t *testing.T) {
	t.Parallel()
	old := &config.Config{Speech: config.SpeechConfig{Variant: "filipino"}}
	new := &config.Config{Speech: config.SpeechConfig{Variant: "ph"}}

	if d := config.Diff(old, new); d.VariantChanged {
		t.Errorf("VariantChanged = true for alias, want false")
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	off := false
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Speech: config.SpeechConfig{Voice: "Samantha"},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug},
		Speech: config.SpeechConfig{
			Variant:    "filipino",
			Voice:      "Daniel",
			RulesFiles: []string{"extra.yaml"},
			AutoSpeak:  &off,
		},
	}

	d := config.Diff(old, new)
	if !d.Changed() {
		t.Fatal("Changed() = false, want true")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.VariantChanged || d.NewVariant != "filipino" {
		t.Errorf("variant diff = %v %q", d.VariantChanged, d.NewVariant)
	}
	if !d.VoiceChanged || d.NewVoice != "Daniel" {
		t.Errorf("voice diff = %v %q", d.VoiceChanged, d.NewVoice)
	}
	if !d.RulesChanged || !slices.Equal(d.NewRulesFiles, []string{"extra.yaml"}) {
		t.Errorf("rules diff = %v %q", d.RulesChanged, d.NewRulesFiles)
	}
	if !d.AutoSpeakChanged || d.NewAutoSpeak {
		t.Errorf("auto speak diff = %v %v", d.AutoSpeakChanged, d.NewAutoSpeak)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %q, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:  config.ServerConfig{ListenAddr: ":8080"},
		Speech:  config.SpeechConfig{Engine: config.ProviderEntry{Name: "say"}},
		History: config.HistoryConfig{Backend: config.HistoryMemory},
	}
	new := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":9090"},
		Speech:    config.SpeechConfig{Engine: config.ProviderEntry{Name: "coqui", BaseURL: "http://tts:5002"}},
		Assistant: config.AssistantConfig{Webhook: config.WebhookConfig{URL: "http://n8n/webhook"}},
		History:   config.HistoryConfig{Backend: config.HistorySQLite, DSN: "h.db"},
		Events:    config.EventsConfig{NATSURL: "nats://localhost:4222"},
	}

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "speech.engine", "assistant", "history", "events"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %q, want %q", d.RestartRequired, want)
	}
	if d.Changed() {
		t.Errorf("Changed() = true, want false for restart-only changes")
	}
}
