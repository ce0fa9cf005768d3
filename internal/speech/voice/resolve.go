package voice

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// DefaultResolveThreshold is the minimum Jaro-Winkler similarity for a
// fuzzy name match in [Resolve].
const DefaultResolveThreshold = 0.85

// Resolve finds the catalogue voice a user meant by name. An ID or name that
// matches case-insensitively wins outright. Otherwise the voice whose name is
// most similar by Jaro-Winkler is returned if it scores at least threshold.
// Ties keep catalogue order.
//
// A threshold <= 0 uses [DefaultResolveThreshold].
func Resolve(catalog []tts.Voice, name string, threshold float64) (tts.Voice, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(catalog) == 0 {
		return tts.Voice{}, false
	}
	if threshold <= 0 {
		threshold = DefaultResolveThreshold
	}

	for _, v := range catalog {
		if strings.ToLower(v.ID) == name || strings.ToLower(v.Name) == name {
			return v, true
		}
	}

	var (
		best      tts.Voice
		bestScore float64
	)
	for _, v := range catalog {
		score := matchr.JaroWinkler(name, strings.ToLower(v.Name), false)
		if score > bestScore {
			best, bestScore = v, score
		}
	}
	if bestScore < threshold {
		return tts.Voice{}, false
	}
	return best, true
}
