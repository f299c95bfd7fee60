package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticWhitelist map[string]bool

func (w staticWhitelist) Contains(p string) bool { return w[p] }

func TestMatchesPrefix(t *testing.T) {
	tests := []struct {
		pkg, prefix string
		want        bool
	}{
		{"com.android.phone", "com.android.phone", true},
		{"com.android.phone.foo", "com.android.phone", true},
		{"com.android.phones", "com.android.phone", false},
		{"android", "android", true},
		{"android.process.media", "android", true},
		{"androidx.test", "android", false},
		{"com.example.music", "com.android.phone", false},
	}

	for _, tt := range tests {
		t.Run(tt.pkg+"/"+tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesPrefix(tt.pkg, tt.prefix))
		})
	}
}

func TestFilter_IsEligible(t *testing.T) {
	f := NewFilter("com.nomor.memoryclear", staticWhitelist{"com.example.bank": true}, []string{"com.corp.*"})

	tests := []struct {
		name   string
		pkg    string
		want   bool
		ruleID string
	}{
		{name: "user app", pkg: "com.example.music", want: true},
		{name: "self", pkg: "com.nomor.memoryclear", ruleID: "self"},
		{name: "critical exact", pkg: "com.android.systemui", ruleID: "critical"},
		{name: "critical child", pkg: "com.google.android.gms.persistent", ruleID: "critical"},
		{name: "critical lookalike", pkg: "com.android.settingsx", want: true},
		{name: "whitelisted", pkg: "com.example.bank", ruleID: "whitelist"},
		{name: "pattern", pkg: "com.corp.mail", ruleID: "pattern"},
		{name: "empty", pkg: "", ruleID: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsEligible(tt.pkg))
			id, excluded := f.ExcludedBy(tt.pkg)
			assert.Equal(t, !tt.want, excluded)
			assert.Equal(t, tt.ruleID, id)
		})
	}
}

func TestFilter_WhitelistIsReadPerCall(t *testing.T) {
	wl := staticWhitelist{}
	f := NewFilter("self.pkg", wl, nil)

	assert.True(t, f.IsEligible("com.example.chat"))
	wl["com.example.chat"] = true
	assert.False(t, f.IsEligible("com.example.chat"))
	delete(wl, "com.example.chat")
	assert.True(t, f.IsEligible("com.example.chat"))
}

func TestRegistry_RegisterReplacesByID(t *testing.T) {
	r := NewRegistryWithRules(NewSelfRule("a.b"), NewCriticalSystemRule())
	r.Register(NewSelfRule("c.d"))

	assert.Equal(t, []string{"self", "critical"}, r.List())
	assert.True(t, r.IsEligible("a.b"))
	assert.False(t, r.IsEligible("c.d"))

	rule, ok := r.Get("critical")
	assert.True(t, ok)
	assert.True(t, rule.Excludes("android"))

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestPatternRule_IgnoresBlankPatterns(t *testing.T) {
	r := NewPatternRule([]string{"", "  ", "com.game.*"})
	assert.True(t, r.Excludes("com.game.chess"))
	assert.False(t, r.Excludes("com.example.music"))
}
