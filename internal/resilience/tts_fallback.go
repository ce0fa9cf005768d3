package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// voiceSep separates the engine name from the voice ID in merged catalogues.
const voiceSep = "/"

// stopTimeout bounds stopping an engine that lost the active slot.
const stopTimeout = 2 * time.Second

type namedEngine struct {
	name   string
	engine tts.Engine
}

// EngineFallback implements [tts.Engine] with failover across several
// synthesis engines, each behind its own circuit breaker.
//
// ListVoices merges the catalogues of all reachable engines. Voices of the
// primary keep their IDs; voices of fallback engines are namespaced as
// "<engine>/<id>" so Speak can route them back. A dispatch with a voice of
// one engine that falls over to another engine uses that engine's default
// voice.
type EngineFallback struct {
	group   *FallbackGroup[namedEngine]
	primary string

	mu     sync.Mutex
	active tts.Engine
}

var _ tts.Engine = (*EngineFallback)(nil)

// NewEngineFallback creates an [EngineFallback] with primary as the
// preferred engine.
func NewEngineFallback(primary tts.Engine, primaryName string, cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{
		group:   NewFallbackGroup(namedEngine{name: primaryName, engine: primary}, primaryName, cfg),
		primary: primaryName,
	}
}

// AddFallback registers an additional engine. Names must not contain "/".
func (f *EngineFallback) AddFallback(name string, engine tts.Engine) {
	f.group.AddFallback(name, namedEngine{name: name, engine: engine})
}

// ListVoices returns the merged catalogue. It fails only when no engine
// produced a catalogue.
func (f *EngineFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var (
		out []tts.Voice
		ok  bool
	)
	err := f.group.Each(func(name string, ne namedEngine) error {
		voices, err := ne.engine.ListVoices(ctx)
		if err != nil {
			return err
		}
		ok = true
		for _, v := range voices {
			if name != f.primary {
				v.ID = name + voiceSep + v.ID
			}
			out = append(out, v)
		}
		return nil
	})
	if !ok {
		if err == nil {
			err = errors.New("no engines")
		}
		return nil, errors.Join(ErrAllFailed, err)
	}
	return out, nil
}

// Speak dispatches to the engine owning opts.VoiceID first and fails over
// to the others in registration order.
func (f *EngineFallback) Speak(ctx context.Context, text string, opts tts.Options, cb tts.Callbacks) error {
	owner, voiceID := f.route(opts.VoiceID)
	_, _, err := ExecuteFrom(ctx, f.group, owner, func(ctx context.Context, ne namedEngine) (struct{}, error) {
		o := opts
		o.VoiceID = ""
		if ne.name == owner {
			o.VoiceID = voiceID
		}
		if err := ne.engine.Speak(ctx, text, o, cb); err != nil {
			return struct{}{}, err
		}
		f.setActive(ne.engine)
		return struct{}{}, nil
	})
	return err
}

// Stop halts the engine that accepted the last utterance.
func (f *EngineFallback) Stop(ctx context.Context) error {
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Stop(ctx)
}

func (f *EngineFallback) setActive(e tts.Engine) {
	f.mu.Lock()
	prev := f.active
	f.active = e
	f.mu.Unlock()
	if prev != nil && prev != e {
		// The previous engine may still be playing.
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = prev.Stop(ctx)
	}
}

// route splits a namespaced voice ID into its engine and engine-local ID.
func (f *EngineFallback) route(voiceID string) (owner, id string) {
	if name, rest, ok := strings.Cut(voiceID, voiceSep); ok {
		for _, n := range f.group.Names() {
			if n == name && n != f.primary {
				return name, rest
			}
		}
	}
	return f.primary, voiceID
}
