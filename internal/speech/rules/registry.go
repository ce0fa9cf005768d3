package rules

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/talkback/internal/speech"
)

// Registry holds the ordered rule lists for every variant plus the common
// stage. It is safe for concurrent use.
//
// Ordering guarantees:
//   - [Registry.Rules] returns the variant stage followed by the common stage.
//   - Within each stage, rules keep the order in which they were added.
//   - Whitespace rules always form the tail of the common stage. Common rules
//     of any other category are inserted in front of them, so whitespace
//     normalisation stays the last thing that happens to the text.
type Registry struct {
	mu      sync.RWMutex
	variant map[speech.Variant][]Rule
	common  []Rule
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{variant: make(map[speech.Variant][]Rule)}
}

// Add registers rules in the given stage. For [StageVariant], v selects the
// variant and must be valid. For [StageCommon], v is ignored; use
// [Rule.Only] to restrict a common rule to one variant.
func (r *Registry) Add(stage Stage, v speech.Variant, rs ...Rule) error {
	var errs []error
	for _, rule := range rs {
		if err := rule.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if stage == StageVariant && !v.IsValid() {
		errs = append(errs, fmt.Errorf("rules: unknown variant %q", v))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch stage {
	case StageVariant:
		r.variant[v] = append(r.variant[v], rs...)
	case StageCommon:
		for _, rule := range rs {
			r.insertCommon(rule)
		}
	default:
		return fmt.Errorf("rules: unknown stage %v", stage)
	}
	return nil
}

// AddVariant is shorthand for Add(StageVariant, v, rs...).
func (r *Registry) AddVariant(v speech.Variant, rs ...Rule) error {
	return r.Add(StageVariant, v, rs...)
}

// AddCommon is shorthand for Add(StageCommon, "", rs...).
func (r *Registry) AddCommon(rs ...Rule) error {
	return r.Add(StageCommon, "", rs...)
}

// insertCommon places rule before the whitespace tail unless it is itself a
// whitespace rule. Caller must hold r.mu.
func (r *Registry) insertCommon(rule Rule) {
	if rule.Category == CategoryWhitespace {
		r.common = append(r.common, rule)
		return
	}
	i := slices.IndexFunc(r.common, func(c Rule) bool { return c.Category == CategoryWhitespace })
	if i < 0 {
		r.common = append(r.common, rule)
		return
	}
	r.common = slices.Insert(r.common, i, rule)
}

// Rules returns the full ordered rule chain for v: the variant stage, then
// the common rules that apply to v. The returned slice is a copy.
func (r *Registry) Rules(v speech.Variant) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.variant[v])+len(r.common))
	out = append(out, r.variant[v]...)
	for _, rule := range r.common {
		if rule.AppliesTo(v) {
			out = append(out, rule)
		}
	}
	return out
}

// Stage returns a copy of one stage's rules for v.
func (r *Registry) Stage(stage Stage, v speech.Variant) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if stage == StageVariant {
		return slices.Clone(r.variant[v])
	}
	out := make([]Rule, 0, len(r.common))
	for _, rule := range r.common {
		if rule.AppliesTo(v) {
			out = append(out, rule)
		}
	}
	return out
}

// Clone returns an independent copy of the registry. Rules themselves are
// immutable and shared.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := NewRegistry()
	for v, rs := range r.variant {
		c.variant[v] = slices.Clone(rs)
	}
	c.common = slices.Clone(r.common)
	return c
}

// Len returns the total number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.common)
	for _, rs := range r.variant {
		n += len(rs)
	}
	return n
}
