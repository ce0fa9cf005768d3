// Package tts defines the Engine interface for text-to-speech backends.
//
// An engine wraps a speech synthesiser (a local command such as espeak-ng or
// macOS say, a Coqui TTS server, or the OpenAI speech API) and presents a
// fire-and-forget speaking interface. Speak dispatches an utterance and
// returns as soon as playback has started. The outcome arrives later through
// exactly one of the [Callbacks].
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrPermission marks failures caused by missing rights: a rejected API key,
// a sandbox denying audio output, or an unauthorised voice. Engines wrap it so
// callers can tell permission problems from transient engine errors with
// [errors.Is].
var ErrPermission = errors.New("tts: permission denied")

// Engine is the abstraction over any TTS backend.
type Engine interface {
	// ListVoices returns the engine's voice catalogue in the engine's own
	// order. The list may change between calls.
	ListVoices(ctx context.Context) ([]Voice, error)

	// Speak dispatches text for synthesis and playback. It returns once the
	// utterance is under way; a non-nil error means nothing was started and
	// no callback will fire.
	//
	// When Speak returns nil, exactly one of cb.OnDone, cb.OnStopped, or
	// cb.OnError is invoked later, from an engine goroutine. Cancelling ctx
	// stops the utterance and results in OnStopped.
	//
	// Starting a new utterance while another is playing stops the old one.
	Speak(ctx context.Context, text string, opts Options, cb Callbacks) error

	// Stop halts the current utterance, if any. It is best-effort: it
	// returns when playback has ended or ctx is done, whichever comes first.
	Stop(ctx context.Context) error
}
