// Package policy implements the exclusion rules that decide which packages
// may be force-stopped. Each rule is a strategy; the Registry combines them.
package policy

import (
	"strings"

	"github.com/IGLOU-EU/go-wildcard"
)

// CriticalSystemPrefixes are never force-stopped.
// A prefix matches the package itself and any dotted sub-package.
var CriticalSystemPrefixes = []string{
	"android",
	"com.android.systemui",
	"com.android.launcher3",
	"com.google.android.gms",
	"com.android.phone",
	"com.android.settings",
	"com.android.inputmethod",
}

// Rule excludes packages from force-stop.
type Rule interface {
	// ID returns unique identifier (e.g., "self", "critical").
	ID() string

	// Excludes reports whether the rule forbids stopping packageID.
	Excludes(packageID string) bool
}

// WhitelistReader is the read side of the persistent whitelist.
type WhitelistReader interface {
	Contains(packageID string) bool
}

// MatchesPrefix reports whether packageID equals prefix or is a dotted child of it.
// "com.android.phone" matches "com.android.phone.foo" but not "com.android.phones".
func MatchesPrefix(packageID, prefix string) bool {
	if packageID == prefix {
		return true
	}
	return strings.HasPrefix(packageID, prefix+".")
}

// SelfRule excludes the application's own package.
type SelfRule struct {
	self string
}

// NewSelfRule creates a rule for the given own identifier.
func NewSelfRule(self string) *SelfRule {
	return &SelfRule{self: self}
}

func (r *SelfRule) ID() string { return "self" }

func (r *SelfRule) Excludes(packageID string) bool {
	return r.self != "" && packageID == r.self
}

// CriticalSystemRule excludes the fixed critical-system set.
type CriticalSystemRule struct {
	prefixes []string
}

// NewCriticalSystemRule uses CriticalSystemPrefixes.
func NewCriticalSystemRule() *CriticalSystemRule {
	return &CriticalSystemRule{prefixes: CriticalSystemPrefixes}
}

func (r *CriticalSystemRule) ID() string { return "critical" }

func (r *CriticalSystemRule) Excludes(packageID string) bool {
	for _, p := range r.prefixes {
		if MatchesPrefix(packageID, p) {
			return true
		}
	}
	return false
}

// WhitelistRule excludes user-whitelisted packages. Read on every call.
type WhitelistRule struct {
	whitelist WhitelistReader
}

// NewWhitelistRule wraps a whitelist reader.
func NewWhitelistRule(w WhitelistReader) *WhitelistRule {
	return &WhitelistRule{whitelist: w}
}

func (r *WhitelistRule) ID() string { return "whitelist" }

func (r *WhitelistRule) Excludes(packageID string) bool {
	return r.whitelist != nil && r.whitelist.Contains(packageID)
}

// PatternRule excludes packages matching configured wildcard patterns
// such as "com.mybank.*".
type PatternRule struct {
	patterns []string
}

// NewPatternRule creates a rule from wildcard patterns. Empty patterns are ignored.
func NewPatternRule(patterns []string) *PatternRule {
	kept := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return &PatternRule{patterns: kept}
}

func (r *PatternRule) ID() string { return "pattern" }

func (r *PatternRule) Excludes(packageID string) bool {
	for _, p := range r.patterns {
		if wildcard.Match(p, packageID) {
			return true
		}
	}
	return false
}

// Ensure rules implement Rule.
var (
	_ Rule = (*SelfRule)(nil)
	_ Rule = (*CriticalSystemRule)(nil)
	_ Rule = (*WhitelistRule)(nil)
	_ Rule = (*PatternRule)(nil)
)
