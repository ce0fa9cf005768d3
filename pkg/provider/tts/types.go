package tts

// Voice describes one voice offered by an engine. Catalogues are read-only:
// nothing downstream of ListVoices modifies a Voice.
type Voice struct {
	// ID is the engine-specific voice identifier passed back in
	// [Options.VoiceID].
	ID string `json:"id"`

	// Name is the human-readable voice name, e.g. "Daniel (Enhanced)".
	Name string `json:"name"`

	// Locale is a BCP 47-ish locale tag. Engines are inconsistent here:
	// "en-US", "en_US", "fil-PH", and bare "en" all occur.
	Locale string `json:"locale"`

	// Quality is the engine's quality tier. Known values include "default",
	// "compact", "enhanced", "premium", and "neural". May be empty.
	Quality string `json:"quality,omitempty"`
}

// Options carries the per-utterance synthesis parameters.
type Options struct {
	// Locale is the language tag to speak in.
	Locale string

	// Pitch and Rate are relative to the engine's neutral voice; 1.0 is
	// neutral for both, lower values are deeper or slower.
	Pitch float64
	Rate  float64

	// Quality is a hint; engines that cannot honour it ignore it.
	Quality string

	// VoiceID selects a voice from the catalogue. Empty means the engine's
	// default voice.
	VoiceID string
}

// Callbacks receive the outcome of an utterance. Nil fields are skipped.
type Callbacks struct {
	OnDone    func()
	OnStopped func()
	OnError   func(error)
}

func (c Callbacks) done() {
	if c.OnDone != nil {
		c.OnDone()
	}
}

func (c Callbacks) stopped() {
	if c.OnStopped != nil {
		c.OnStopped()
	}
}

func (c Callbacks) failed(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
