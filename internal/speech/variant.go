// Package speech holds the locale variants shared by the normalization,
// voice selection, and session packages.
//
// A [Variant] is always passed explicitly to every entry point of the speech
// pipeline. Nothing in this tree reads a process-wide "current variant".
package speech

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownVariant is returned for variant names that are neither a known
// variant nor an alias of one.
var ErrUnknownVariant = errors.New("speech: unknown variant")

// Variant selects which rewrite rules, voice affinity lists, and prosody
// preset apply to an utterance.
type Variant string

const (
	// American is the primary variant: US English with a casual male persona.
	American Variant = "american"

	// Filipino is the secondary variant: Filipino-accented English with
	// Taglish idioms.
	Filipino Variant = "filipino"
)

// Primary and Secondary alias the two variants by role.
const (
	Primary   = American
	Secondary = Filipino
)

// Variants lists every known variant in declaration order.
func Variants() []Variant { return []Variant{American, Filipino} }

// IsValid reports whether v is a known variant.
func (v Variant) IsValid() bool {
	switch v {
	case American, Filipino:
		return true
	}
	return false
}

// String implements [fmt.Stringer].
func (v Variant) String() string { return string(v) }

// ParseVariant resolves a variant name or alias. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "american", "primary", "us", "en-us", "en_us":
		return American, nil
	case "filipino", "secondary", "ph", "tl", "fil", "en-ph", "tagalog":
		return Filipino, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownVariant, s)
}

// Prosody is a pitch/rate pair passed to the synthesis engine. 1.0 is the
// engine's neutral value for both fields.
type Prosody struct {
	Pitch float64 `json:"pitch"`
	Rate  float64 `json:"rate"`
}

// DefaultProsody is the neutral preset used by fallback requests.
var DefaultProsody = Prosody{Pitch: 1.0, Rate: 1.0}

// Profile describes the synthesis-facing settings of a variant.
type Profile struct {
	Variant Variant

	// Locale is the locale tag sent with every synthesis request. Both
	// variants speak through an English voice.
	Locale string

	// Quality is the quality hint sent with every synthesis request.
	Quality string

	// Prosody biases the voice toward a deeper register.
	Prosody Prosody
}

var profiles = map[Variant]Profile{
	American: {
		Variant: American,
		Locale:  "en-US",
		Quality: "enhanced",
		Prosody: Prosody{Pitch: 0.80, Rate: 0.85},
	},
	Filipino: {
		Variant: Filipino,
		Locale:  "en-US",
		Quality: "enhanced",
		Prosody: Prosody{Pitch: 0.85, Rate: 0.78},
	},
}

// ProfileFor returns the synthesis profile of v. Unknown variants fall back
// to the primary profile so callers never build a request without prosody.
func ProfileFor(v Variant) Profile {
	if p, ok := profiles[v]; ok {
		return p
	}
	return profiles[Primary]
}
