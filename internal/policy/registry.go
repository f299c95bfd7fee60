package policy

import (
	"github.com/nomor/memclear/internal/domain"
)

// Registry holds the exclusion rules in evaluation order.
// It is the PolicyFilter: the only place that decides eligibility.
type Registry struct {
	rules []Rule
}

// NewFilter creates a registry with the default rules:
// own package, critical-system set, whitelist and configured patterns.
func NewFilter(self string, whitelist WhitelistReader, patterns []string) *Registry {
	r := &Registry{}
	r.Register(NewSelfRule(self))
	r.Register(NewCriticalSystemRule())
	r.Register(NewWhitelistRule(whitelist))
	if len(patterns) > 0 {
		r.Register(NewPatternRule(patterns))
	}
	return r
}

// NewRegistryWithRules creates a registry with custom rules (for testing).
func NewRegistryWithRules(rules ...Rule) *Registry {
	r := &Registry{}
	for _, rule := range rules {
		r.Register(rule)
	}
	return r
}

// Register adds a rule. A rule with an existing ID replaces it in place.
func (r *Registry) Register(rule Rule) {
	for i, existing := range r.rules {
		if existing.ID() == rule.ID() {
			r.rules[i] = rule
			return
		}
	}
	r.rules = append(r.rules, rule)
}

// Get returns a rule by ID.
func (r *Registry) Get(id string) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.ID() == id {
			return rule, true
		}
	}
	return nil, false
}

// List returns all rule IDs in evaluation order.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		ids = append(ids, rule.ID())
	}
	return ids
}

// IsEligible reports whether packageID may be force-stopped.
func (r *Registry) IsEligible(packageID string) bool {
	_, excluded := r.ExcludedBy(packageID)
	return !excluded
}

// ExcludedBy returns the ID of the first rule excluding packageID.
// Empty identifiers are always excluded.
func (r *Registry) ExcludedBy(packageID string) (string, bool) {
	if packageID == "" {
		return "empty", true
	}
	for _, rule := range r.rules {
		if rule.Excludes(packageID) {
			return rule.ID(), true
		}
	}
	return "", false
}

// Ensure Registry implements domain.Eligibility.
var _ domain.Eligibility = (*Registry)(nil)
