package rules

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/talkback/internal/speech"
)

// FileRule is one entry of a YAML rule file.
//
//	rules:
//	  - name: kubectl
//	    stage: common
//	    category: phonetic
//	    kind: word
//	    match: kubectl
//	    replace: kube control
type FileRule struct {
	Name     string `yaml:"name"`
	Stage    string `yaml:"stage"`
	Variant  string `yaml:"variant"`
	Category string `yaml:"category"`

	// Kind is one of "word" (default), "greeting", "exact", or "regex".
	Kind string `yaml:"kind"`

	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// File is the top-level document of a rule file.
type File struct {
	Rules []FileRule `yaml:"rules"`
}

// LoadFile parses the rule file at path and adds its rules to r.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rules: open %q: %w", path, err)
	}
	defer f.Close()

	if err := r.Load(f); err != nil {
		return fmt.Errorf("rules: load %q: %w", path, err)
	}
	return nil
}

// Load parses a rule document from rd and adds its rules to r. Either every
// rule in the document is added or none is.
func (r *Registry) Load(rd io.Reader) error {
	var doc File
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("rules: decode: %w", err)
	}

	var (
		out  []stagedRule
		errs []error
	)
	for i, fr := range doc.Rules {
		s, err := fr.compile()
		if err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
			continue
		}
		out = append(out, s)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	// Every rule compiled and validated, so the insert below cannot fail
	// half-way.
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range out {
		if s.stage == StageVariant {
			r.variant[s.variant] = append(r.variant[s.variant], s.rule)
			continue
		}
		r.insertCommon(s.rule)
	}
	return nil
}

type stagedRule struct {
	stage   Stage
	variant speech.Variant
	rule    Rule
}

func (fr FileRule) compile() (stagedRule, error) {
	var zero stagedRule

	stage, err := ParseStage(fr.Stage)
	if err != nil {
		return zero, err
	}
	var v speech.Variant
	if fr.Variant != "" {
		v, err = speech.ParseVariant(fr.Variant)
		if err != nil {
			return zero, err
		}
	}
	if stage == StageVariant && v == "" {
		return zero, fmt.Errorf("%w: %q is a variant rule without a variant", ErrInvalidRule, fr.Name)
	}
	if fr.Match == "" {
		return zero, fmt.Errorf("%w: %q has an empty match", ErrInvalidRule, fr.Name)
	}

	cat := Category(fr.Category)
	if cat == "" {
		cat = CategoryIdiom
	}
	if cat == CategoryWhitespace {
		return zero, fmt.Errorf("%w: %q: whitespace rules are built in", ErrInvalidRule, fr.Name)
	}

	var expr string
	switch fr.Kind {
	case "", "word":
		expr = `(?i)\b` + regexp.QuoteMeta(fr.Match) + `\b`
	case "greeting":
		expr = `(?i)^` + regexp.QuoteMeta(fr.Match) + `\b`
	case "exact":
		expr = regexp.QuoteMeta(fr.Match)
	case "regex":
		expr = fr.Match
	default:
		return zero, fmt.Errorf("%w: %q has unknown kind %q", ErrInvalidRule, fr.Name, fr.Kind)
	}

	repl := Literal(fr.Replace)
	if fr.Kind == "regex" {
		repl = Template(fr.Replace)
	}
	rule, err := New(fr.Name, cat, expr, repl)
	if err != nil {
		return zero, err
	}
	if stage == StageCommon {
		rule.Only = v
	}

	return stagedRule{stage: stage, variant: v, rule: rule}, nil
}
