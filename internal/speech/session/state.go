package session

import (
	"time"

	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/voice"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// State is the lifecycle state of a speaking session.
type State int

const (
	// Idle means no session is live.
	Idle State = iota
	// Requesting covers the catalogue query, normalisation, and selection.
	Requesting
	// Speaking means the engine accepted the request.
	Speaking
	// Completed is terminal: the engine finished playback.
	Completed
	// Stopped is terminal: the session was interrupted or superseded.
	Stopped
	// Failed is terminal: dispatch (after the fallback retry) or playback
	// failed.
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Requesting: "requesting",
	Speaking:   "speaking",
	Completed:  "completed",
	Stopped:    "stopped",
	Failed:     "failed",
}

// String implements [fmt.Stringer].
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name so events serialise readably.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == Completed || s == Stopped || s == Failed
}

// Live reports whether s belongs to a session that can still be stopped.
func (s State) Live() bool {
	return s == Requesting || s == Speaking
}

// Token identifies one speaking session. Tokens increase monotonically and
// are never reused within an [Orchestrator].
type Token uint64

// Event is a state transition notification.
type Event struct {
	Token   Token          `json:"token"`
	State   State          `json:"state"`
	Variant speech.Variant `json:"variant"`

	// Err is set on Failed events.
	Err error `json:"-"`

	// Fallback marks a Speaking event produced by the fallback retry.
	Fallback bool `json:"fallback,omitempty"`

	At time.Time `json:"at"`
}

// Listener receives events in transition order. It runs on the goroutine
// that caused the transition and must not call back into the
// [Orchestrator].
type Listener func(Event)

// Session is a snapshot of one speaking session.
type Session struct {
	Token   Token          `json:"token"`
	State   State          `json:"state"`
	Variant speech.Variant `json:"variant"`

	// Text is the caller's input; NormalizedText is what was sent to the
	// engine.
	Text           string `json:"text"`
	NormalizedText string `json:"normalized_text,omitempty"`

	// Voice is nil when the catalogue was empty or the fallback request
	// was used.
	Voice   *tts.Voice     `json:"voice,omitempty"`
	Tier    voice.Tier     `json:"-"`
	Prosody speech.Prosody `json:"prosody"`

	Fallback bool  `json:"fallback,omitempty"`
	Err      error `json:"-"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}
