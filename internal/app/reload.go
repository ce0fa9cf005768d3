package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/speech"
)

// Reload applies the hot-reloadable parts of a config change: log level,
// default variant, preferred voice, speech rules, and auto-speak. Sections
// that are only read at startup are logged and otherwise ignored. It is
// meant to be used as a [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	ctx := context.Background()
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.VariantChanged {
		v, err := speech.ParseVariant(d.NewVariant)
		if err == nil {
			if _, err = a.chat.SetVariant(ctx, v); err == nil {
				slog.Info("default variant changed", "variant", v)
			}
		}
		if err != nil {
			slog.Warn("variant reload failed", "variant", d.NewVariant, "err", err)
		}
	}

	if d.VoiceChanged {
		a.orch.SetPreferredVoice(d.NewVoice)
		// The new name may refer to a voice installed since the last query.
		a.catalog.Invalidate()
		slog.Info("preferred voice changed", "voice", d.NewVoice)
	}

	if d.RulesChanged {
		reg, err := loadRules(d.NewRulesFiles)
		if err != nil {
			slog.Warn("speech rules reload failed, keeping previous rules", "err", err)
		} else {
			a.normalizer.SetRules(reg)
			slog.Info("speech rules reloaded", "files", len(d.NewRulesFiles))
		}
	}

	if d.AutoSpeakChanged {
		a.chat.SetAutoSpeak(d.NewAutoSpeak)
		slog.Info("auto speak changed", "enabled", d.NewAutoSpeak)
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}
