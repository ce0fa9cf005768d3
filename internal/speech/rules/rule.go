// Package rules defines the text-rewrite rules applied before speech
// synthesis and the [Registry] that keeps them in their load-bearing order.
//
// A rule is a compiled pattern plus a pure replacement function. Rules are
// grouped into two stages: the variant stage (persona idioms, phonetic
// respellings, greetings) and the common stage (markup stripping, pauses,
// acronyms, symbols, pictographs, whitespace). The variant stage always runs
// first and rules within a stage run in declaration order, so later rules see
// the output of earlier ones.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/talkback/internal/speech"
)

// ErrInvalidRule is returned when a rule is missing its name, pattern, or
// replacement.
var ErrInvalidRule = errors.New("rules: invalid rule")

// Stage is the pass a rule belongs to.
type Stage int

const (
	// StageVariant rules are specific to one variant and run first.
	StageVariant Stage = iota

	// StageCommon rules apply to every variant and run after the variant
	// stage.
	StageCommon
)

// String implements [fmt.Stringer].
func (s Stage) String() string {
	switch s {
	case StageVariant:
		return "variant"
	case StageCommon:
		return "common"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// ParseStage resolves a stage name as used in rule files.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "variant", "variant-specific":
		return StageVariant, nil
	case "common", "":
		return StageCommon, nil
	}
	return 0, fmt.Errorf("rules: unknown stage %q", s)
}

// Category classifies what a rule does. The registry uses it to keep
// whitespace normalisation at the tail of the common stage.
type Category string

const (
	CategoryPhonetic     Category = "phonetic"
	CategoryGreeting     Category = "greeting"
	CategoryIdiom        Category = "idiom"
	CategoryRhythm       Category = "rhythm"
	CategoryAbbreviation Category = "abbreviation"
	CategorySymbol       Category = "symbol"
	CategoryMarkup       Category = "markup"
	CategoryPictograph   Category = "pictograph"
	CategoryWhitespace   Category = "whitespace"
)

// Match is one occurrence of a rule's pattern in the text being rewritten.
type Match struct {
	re  *regexp.Regexp
	src string
	loc []int
}

// Text returns the whole matched text.
func (m Match) Text() string { return m.src[m.loc[0]:m.loc[1]] }

// Group returns the i-th capture group, or "" when it did not participate.
func (m Match) Group(i int) string {
	if 2*i+1 >= len(m.loc) || m.loc[2*i] < 0 {
		return ""
	}
	return m.src[m.loc[2*i]:m.loc[2*i+1]]
}

// Expand substitutes $1 / ${name} references in template with the match's
// capture groups, using [regexp.Regexp.ExpandString] semantics.
func (m Match) Expand(template string) string {
	return string(m.re.ExpandString(nil, template, m.src, m.loc))
}

// Replacer produces the substitute for a single match. It must be a pure
// function of the match.
type Replacer func(Match) string

// Literal returns a Replacer that always yields s.
func Literal(s string) Replacer {
	return func(Match) string { return s }
}

// Template returns a Replacer that expands $n references in tmpl.
func Template(tmpl string) Replacer {
	return func(m Match) string { return m.Expand(tmpl) }
}

// Rule is a named matcher/replacement pair.
type Rule struct {
	// Name identifies the rule in logs and rule files, e.g.
	// "filipino/phonetic/tayo".
	Name string

	Category Category

	Pattern *regexp.Regexp

	Replace Replacer

	// Only restricts a common-stage rule to a single variant. Empty means
	// the rule applies to every variant. Used for symbols and pictographs
	// whose spoken form differs per variant.
	Only speech.Variant
}

// Validate reports whether r can be registered.
func (r Rule) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	case r.Pattern == nil:
		return fmt.Errorf("%w: %q has no pattern", ErrInvalidRule, r.Name)
	case r.Replace == nil:
		return fmt.Errorf("%w: %q has no replacement", ErrInvalidRule, r.Name)
	case r.Only != "" && !r.Only.IsValid():
		return fmt.Errorf("%w: %q restricted to unknown variant %q", ErrInvalidRule, r.Name, r.Only)
	}
	return nil
}

// AppliesTo reports whether r runs for variant v.
func (r Rule) AppliesTo(v speech.Variant) bool {
	return r.Only == "" || r.Only == v
}

// Apply rewrites every non-overlapping match of r.Pattern in s.
func (r Rule) Apply(s string) string {
	locs := r.Pattern.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, loc := range locs {
		b.WriteString(s[last:loc[0]])
		b.WriteString(r.Replace(Match{re: r.Pattern, src: s, loc: loc}))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// ── Constructors ─────────────────────────────────────────────────────────────

// New compiles expr and returns a rule. Use it for patterns that come from
// user input; the Must* helpers below are for built-in tables.
func New(name string, cat Category, expr string, repl Replacer) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: compile %q: %w", name, err)
	}
	r := Rule{Name: name, Category: cat, Pattern: re, Replace: repl}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Word matches phrase as a whole word (or words), case-insensitively.
func Word(name string, cat Category, phrase, replacement string) Rule {
	return Rule{
		Name:     name,
		Category: cat,
		Pattern:  regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`),
		Replace:  Literal(replacement),
	}
}

// Anchored matches phrase only at the very start of the text,
// case-insensitively.
func Anchored(name string, cat Category, phrase, replacement string) Rule {
	return Rule{
		Name:     name,
		Category: cat,
		Pattern:  regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(phrase) + `\b`),
		Replace:  Literal(replacement),
	}
}

// Exact matches s literally and case-sensitively, anywhere in the text.
func Exact(name string, cat Category, s, replacement string) Rule {
	return Rule{
		Name:     name,
		Category: cat,
		Pattern:  regexp.MustCompile(regexp.QuoteMeta(s)),
		Replace:  Literal(replacement),
	}
}

// Acronym matches an upper-case token as a whole word, case-sensitively, so
// that ordinary words such as "ai" in other languages are left alone.
func Acronym(name, acronym, spoken string) Rule {
	return Rule{
		Name:     name,
		Category: CategoryAbbreviation,
		Pattern:  regexp.MustCompile(`\b` + regexp.QuoteMeta(acronym) + `\b`),
		Replace:  Literal(spoken),
	}
}

// Regexp compiles expr and expands tmpl for each match. It panics on an
// invalid pattern.
func Regexp(name string, cat Category, expr, tmpl string) Rule {
	return Rule{
		Name:     name,
		Category: cat,
		Pattern:  regexp.MustCompile(expr),
		Replace:  Template(tmpl),
	}
}

// For returns a copy of r restricted to variant v.
func (r Rule) For(v speech.Variant) Rule {
	r.Only = v
	return r
}
