// Package voice picks a synthesis voice for a [speech.Variant] out of an
// engine's voice catalogue.
//
// Catalogues are unordered, heterogeneous, and carry inconsistent metadata:
// locale tags come as "en-US", "en_US", or "fil-PH"; quality may live in its
// own field or only in the display name. The query helpers in this file
// normalise those differences. [Selector] layers a tiered heuristic on top,
// and [Resolve] matches a user-supplied voice name.
//
// Nothing in this package mutates a catalogue passed to it.
package voice

import (
	"strings"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// elevatedQualities are quality tiers (and name fragments) that mark a
// higher-fidelity voice.
var elevatedQualities = []string{"enhanced", "neural", "premium"}

// Locale is a parsed locale tag.
type Locale struct {
	// Language is the lower-case primary language subtag, e.g. "en", "fil".
	Language string
	// Region is the lower-case two-letter region subtag, e.g. "us", "ph".
	// Empty when the tag has none.
	Region string
}

// ParseLocale splits a locale tag. It accepts both "-" and "_" separators
// and skips four-letter script subtags ("zh-Hant-TW").
func ParseLocale(tag string) Locale {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "_", "-")
	parts := strings.Split(tag, "-")

	loc := Locale{Language: parts[0]}
	for _, p := range parts[1:] {
		if len(p) == 2 {
			loc.Region = p
			break
		}
	}
	return loc
}

// IsElevated reports whether v is an enhanced/neural/premium voice, either
// by its quality field or by its name.
func IsElevated(v tts.Voice) bool {
	q := strings.ToLower(v.Quality)
	name := strings.ToLower(v.Name)
	for _, e := range elevatedQualities {
		if q == e || strings.Contains(name, e) {
			return true
		}
	}
	return false
}

// Filter returns the voices matching pred in catalogue order. The result is
// a new slice; catalog is not modified.
func Filter(catalog []tts.Voice, pred func(tts.Voice) bool) []tts.Voice {
	var out []tts.Voice
	for _, v := range catalog {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// Affinity matches voice names against allow and deny lists of lower-case
// name fragments.
type Affinity struct {
	Allow []string
	Deny  []string
}

// Matches reports whether name contains an allowed fragment and no denied
// one. Matching is case-insensitive.
func (a Affinity) Matches(name string) bool {
	name = strings.ToLower(name)
	for _, d := range a.Deny {
		if strings.Contains(name, d) {
			return false
		}
	}
	for _, f := range a.Allow {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// Prefer returns the first voice in candidates whose name matches a.
func (a Affinity) Prefer(candidates []tts.Voice) (tts.Voice, bool) {
	for _, v := range candidates {
		if a.Matches(v.Name) {
			return v, true
		}
	}
	return tts.Voice{}, false
}
