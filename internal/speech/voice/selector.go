package voice

import (
	"strings"

	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// Tier records which stage of the heuristic produced a selection.
type Tier int

const (
	TierNone Tier = iota
	// TierExactLocale is the first exact-locale voice in catalogue order.
	TierExactLocale
	// TierLocaleAffinity is an exact-locale voice whose name matched the
	// variant's affinity list.
	TierLocaleAffinity
	// TierQuality is the first elevated-quality voice of the base language.
	TierQuality
	// TierQualityAffinity is an elevated-quality voice whose name matched.
	TierQualityAffinity
	// TierUniversalAffinity is any voice whose name matched the universal
	// affinity list.
	TierUniversalAffinity
	// TierFirst is the first voice of the catalogue, the last resort.
	TierFirst
	// TierPreferred is a voice picked by name through [Resolve].
	TierPreferred
)

var tierNames = [...]string{
	TierNone:              "none",
	TierExactLocale:       "exact_locale",
	TierLocaleAffinity:    "locale_affinity",
	TierQuality:           "quality",
	TierQualityAffinity:   "quality_affinity",
	TierUniversalAffinity: "universal_affinity",
	TierFirst:             "first",
	TierPreferred:         "preferred",
}

// String implements [fmt.Stringer].
func (t Tier) String() string {
	if t >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "unknown"
}

// Match is the result of a selection.
type Match struct {
	Voice tts.Voice
	Tier  Tier
}

// Profile is the per-variant input of the heuristic.
type Profile struct {
	// Locale reports whether a voice belongs to the variant's exact
	// language/region family.
	Locale func(tts.Voice) bool

	// Family is the base language subtag used by the quality fallback.
	Family string

	// Affinity ranks exact-locale voices.
	Affinity Affinity

	// QualityAffinity ranks quality-fallback voices.
	QualityAffinity Affinity
}

// deny keeps "male" and "man" from matching "female" and "woman".
var deny = []string{"female", "woman"}

// DefaultProfiles returns the built-in profile of every variant.
func DefaultProfiles() map[speech.Variant]Profile {
	deepMale := []string{"alex", "daniel", "fred", "thomas", "ryan", "male"}
	american := []string{"alex", "daniel", "fred", "thomas", "ryan", "aaron", "male"}
	return map[speech.Variant]Profile{
		speech.American: {
			Locale: func(v tts.Voice) bool {
				l := ParseLocale(v.Locale)
				return l.Language == "en" && l.Region == "us"
			},
			Family:          "en",
			Affinity:        Affinity{Allow: american, Deny: deny},
			QualityAffinity: Affinity{Allow: american, Deny: deny},
		},
		speech.Filipino: {
			Locale: func(v tts.Voice) bool {
				l := ParseLocale(v.Locale)
				if l.Language == "tl" || l.Language == "fil" || l.Region == "ph" {
					return true
				}
				name := strings.ToLower(v.Name)
				return strings.Contains(name, "filipino") || strings.Contains(name, "tagalog")
			},
			Family:          "en",
			Affinity:        Affinity{Allow: []string{"male", "man", "boy", "angelo", "carlos"}, Deny: deny},
			QualityAffinity: Affinity{Allow: deepMale, Deny: deny},
		},
	}
}

// DefaultUniversal is the affinity list of the catalogue-wide fallback.
func DefaultUniversal() Affinity {
	return Affinity{Allow: []string{"male", "man", "alex", "daniel", "fred", "thomas"}, Deny: deny}
}

// Selector picks a voice with a tiered heuristic. Tiers are evaluated top
// down and the first non-empty tier wins:
//
//  1. Exact-locale voices. Among them, the first whose name matches the
//     variant's affinity list (tier 2), else the first in catalogue order.
//  2. Elevated-quality voices of the base language family, with the same
//     affinity preference.
//  3. Any voice whose name matches the universal affinity list.
//  4. The first voice of the catalogue.
//
// A Selector is immutable after construction and safe for concurrent use.
type Selector struct {
	profiles  map[speech.Variant]Profile
	universal Affinity
}

// Option is a functional option for configuring a [Selector].
type Option func(*Selector)

// WithProfile overrides the profile of one variant.
func WithProfile(v speech.Variant, p Profile) Option {
	return func(s *Selector) {
		s.profiles[v] = p
	}
}

// NewSelector returns a Selector using [DefaultProfiles] unless overridden.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		profiles:  DefaultProfiles(),
		universal: DefaultUniversal(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Select picks a voice for v from catalog. It returns false only when the
// catalogue is empty.
func (s *Selector) Select(catalog []tts.Voice, v speech.Variant) (Match, bool) {
	if len(catalog) == 0 {
		return Match{}, false
	}
	p, ok := s.profiles[v]
	if !ok {
		p = s.profiles[speech.Primary]
	}

	if p.Locale != nil {
		if local := Filter(catalog, p.Locale); len(local) > 0 {
			if m, ok := p.Affinity.Prefer(local); ok {
				return Match{Voice: m, Tier: TierLocaleAffinity}, true
			}
			return Match{Voice: local[0], Tier: TierExactLocale}, true
		}
	}

	quality := Filter(catalog, func(x tts.Voice) bool {
		return ParseLocale(x.Locale).Language == p.Family && IsElevated(x)
	})
	if len(quality) > 0 {
		if m, ok := p.QualityAffinity.Prefer(quality); ok {
			return Match{Voice: m, Tier: TierQualityAffinity}, true
		}
		return Match{Voice: quality[0], Tier: TierQuality}, true
	}

	if m, ok := s.universal.Prefer(catalog); ok {
		return Match{Voice: m, Tier: TierUniversalAffinity}, true
	}
	return Match{Voice: catalog[0], Tier: TierFirst}, true
}
