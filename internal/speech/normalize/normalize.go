// Package normalize rewrites assistant text into a form that reads naturally
// when spoken aloud in a given [speech.Variant].
//
// The [Engine] threads the input through the ordered rule chain of a
// [rules.Registry]: the variant stage first, then the common stage, each
// rule's output becoming the next rule's input. Normalisation is total. It
// never returns an error, and empty or whitespace-only input comes back
// unchanged.
//
// The engine never blocks on I/O and is safe for concurrent use. The rule
// source can be swapped at runtime with [Engine.SetRules], which is how rule
// files are hot-reloaded.
package normalize

import (
	"strings"
	"sync/atomic"

	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/rules"
)

// RuleSource yields the ordered rule chain for a variant.
// [*rules.Registry] satisfies it.
type RuleSource interface {
	Rules(v speech.Variant) []rules.Rule
}

var _ RuleSource = (*rules.Registry)(nil)

// Step records a single rule application that changed the text.
type Step struct {
	// Rule is the name of the rule that fired.
	Rule string

	Category rules.Category

	// Before and After are the full text around the rule application.
	Before string
	After  string
}

// Engine applies rewrite rules in order.
type Engine struct {
	src atomic.Pointer[sourceBox]
}

// sourceBox lets the atomic pointer hold an interface value.
type sourceBox struct{ RuleSource }

// New returns an Engine reading its rules from src. A nil src uses
// [rules.Default].
func New(src RuleSource) *Engine {
	if src == nil {
		src = rules.Default()
	}
	e := &Engine{}
	e.src.Store(&sourceBox{src})
	return e
}

// SetRules atomically replaces the rule source. Calls to Normalize that are
// already running finish with the old source.
func (e *Engine) SetRules(src RuleSource) {
	if src == nil {
		return
	}
	e.src.Store(&sourceBox{src})
}

// Normalize returns the speakable form of raw for variant v.
func (e *Engine) Normalize(raw string, v speech.Variant) string {
	out, _ := e.run(raw, v, false)
	return out
}

// Trace is like Normalize but also returns every rule application that
// changed the text, in order.
func (e *Engine) Trace(raw string, v speech.Variant) (string, []Step) {
	return e.run(raw, v, true)
}

func (e *Engine) run(raw string, v speech.Variant, trace bool) (string, []Step) {
	if strings.TrimSpace(raw) == "" {
		return raw, nil
	}

	var steps []Step
	text := raw
	for _, r := range e.src.Load().Rules(v) {
		next := r.Apply(text)
		if trace && next != text {
			steps = append(steps, Step{Rule: r.Name, Category: r.Category, Before: text, After: next})
		}
		text = next
	}
	return text, steps
}
