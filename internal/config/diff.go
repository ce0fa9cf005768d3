package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked; everything else needs one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VariantChanged bool
	NewVariant     string

	VoiceChanged bool
	NewVoice     string

	RulesChanged  bool
	NewRulesFiles []string

	AutoSpeakChanged bool
	NewAutoSpeak     bool

	// RestartRequired lists changed sections that are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VariantChanged || d.VoiceChanged || d.RulesChanged || d.AutoSpeakChanged
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Variant() != new.Variant() {
		d.VariantChanged = true
		d.NewVariant = string(new.Variant())
	}
	if old.Speech.Voice != new.Speech.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Speech.Voice
	}
	if !slices.Equal(old.Speech.RulesFiles, new.Speech.RulesFiles) {
		d.RulesChanged = true
		d.NewRulesFiles = slices.Clone(new.Speech.RulesFiles)
	}
	if old.Speech.SpeaksReplies() != new.Speech.SpeaksReplies() {
		d.AutoSpeakChanged = true
		d.NewAutoSpeak = new.Speech.SpeaksReplies()
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameEntry(old.Speech.Engine, new.Speech.Engine) || !sameEntry(old.Speech.FallbackEngine, new.Speech.FallbackEngine) {
		d.RestartRequired = append(d.RestartRequired, "speech.engine")
	}
	if old.Assistant.Webhook.URL != new.Assistant.Webhook.URL || !sameEntry(old.Assistant.LLM, new.Assistant.LLM) {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Events != new.Events {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	return d
}

// sameEntry compares the scalar fields of two provider entries.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
