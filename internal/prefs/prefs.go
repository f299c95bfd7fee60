// Package prefs provides typed accessors over the persistent keyed store.
package prefs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nomor/memclear/internal/domain"
)

// Persisted keys.
const (
	KeyWhitelist       = "whitelist"
	KeyScheduleEnabled = "scheduleEnabled"
	KeyScheduleTime    = "scheduleTime"
	KeyDockEnabled     = "dockEnabled"
	KeyFirstLaunch     = "firstLaunch"
	KeyPremiumActive   = "premiumActive"
	KeyPremiumExpiry   = "premiumExpiry"
	KeyLastBootTime    = "lastBootTime"
	KeyLastVersion     = "lastVersion"
	KeyErrorLogs       = "error_logs"
)

// Preferences wraps a domain.PreferencesStore.
// Reads go to the store on every call.
type Preferences struct {
	store domain.PreferencesStore
}

// New creates Preferences backed by store.
func New(store domain.PreferencesStore) *Preferences {
	return &Preferences{store: store}
}

// Store returns the underlying keyed store.
func (p *Preferences) Store() domain.PreferencesStore {
	return p.store
}

// Whitelist returns the persistent whitelist view.
func (p *Preferences) Whitelist() *Whitelist {
	return NewWhitelist(p.store)
}

// Schedule returns the persisted schedule, falling back to domain.DefaultSchedule.
func (p *Preferences) Schedule() (domain.Schedule, error) {
	s := domain.DefaultSchedule

	enabled, err := p.bool(KeyScheduleEnabled, s.Enabled)
	if err != nil {
		return s, err
	}
	s.Enabled = enabled

	raw, ok, err := p.store.Get(KeyScheduleTime)
	if err != nil {
		return s, err
	}
	if ok {
		h, m, err := ParseTime(raw)
		if err == nil {
			s.Hour, s.Minute = h, m
		}
	}
	return s, nil
}

// SetScheduleEnabled persists the enabled flag.
func (p *Preferences) SetScheduleEnabled(enabled bool) error {
	return p.store.Set(KeyScheduleEnabled, strconv.FormatBool(enabled))
}

// SetScheduleTime persists the time as HH:MM.
func (p *Preferences) SetScheduleTime(hour, minute int) error {
	if err := validateTime(hour, minute); err != nil {
		return err
	}
	return p.store.Set(KeyScheduleTime, FormatTime(hour, minute))
}

// DockEnabled reports whether the floating dock is on.
func (p *Preferences) DockEnabled() (bool, error) {
	return p.bool(KeyDockEnabled, false)
}

// SetDockEnabled persists the dock flag.
func (p *Preferences) SetDockEnabled(enabled bool) error {
	return p.store.Set(KeyDockEnabled, strconv.FormatBool(enabled))
}

// FirstLaunch reports whether onboarding has not completed yet.
func (p *Preferences) FirstLaunch() (bool, error) {
	return p.bool(KeyFirstLaunch, true)
}

// SetFirstLaunch persists the first-launch flag.
func (p *Preferences) SetFirstLaunch(first bool) error {
	return p.store.Set(KeyFirstLaunch, strconv.FormatBool(first))
}

// SetPremium stores the fast-mode flag and its expiry. A zero expiry never expires.
func (p *Preferences) SetPremium(active bool, expiry time.Time) error {
	if err := p.store.Set(KeyPremiumActive, strconv.FormatBool(active)); err != nil {
		return err
	}
	var ms int64
	if !expiry.IsZero() {
		ms = expiry.UnixMilli()
	}
	return p.store.Set(KeyPremiumExpiry, strconv.FormatInt(ms, 10))
}

// FastMode reports whether reduced delays apply at now.
func (p *Preferences) FastMode(now time.Time) (bool, error) {
	active, err := p.bool(KeyPremiumActive, false)
	if err != nil || !active {
		return false, err
	}
	raw, ok, err := p.store.Get(KeyPremiumExpiry)
	if err != nil {
		return false, err
	}
	if !ok || raw == "" {
		return true, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", KeyPremiumExpiry, err)
	}
	if ms == 0 {
		return true, nil
	}
	return now.Before(time.UnixMilli(ms)), nil
}

// LastBoot returns the recorded host boot time, zero if never recorded.
func (p *Preferences) LastBoot() (time.Time, error) {
	raw, ok, err := p.store.Get(KeyLastBootTime)
	if err != nil || !ok || raw == "" {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", KeyLastBootTime, err)
	}
	return time.Unix(sec, 0), nil
}

// SetLastBoot records the host boot time with second precision.
func (p *Preferences) SetLastBoot(t time.Time) error {
	return p.store.Set(KeyLastBootTime, strconv.FormatInt(t.Unix(), 10))
}

// LastVersion returns the daemon version that last started.
func (p *Preferences) LastVersion() (string, error) {
	v, _, err := p.store.Get(KeyLastVersion)
	return v, err
}

// SetLastVersion records the running daemon version.
func (p *Preferences) SetLastVersion(v string) error {
	return p.store.Set(KeyLastVersion, v)
}

func (p *Preferences) bool(key string, def bool) (bool, error) {
	raw, ok, err := p.store.Get(key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// ParseTime parses "HH:MM" with 0..23 hours and 0..59 minutes.
func ParseTime(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", domain.ErrInvalidTime, s)
	}
	h, ok := parseDigits(parts[0])
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", domain.ErrInvalidTime, s)
	}
	m, ok := parseDigits(parts[1])
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", domain.ErrInvalidTime, s)
	}
	if err := validateTime(h, m); err != nil {
		return 0, 0, err
	}
	return h, m, nil
}

// parseDigits accepts ASCII digits only; strconv.Atoi would also take a sign.
func parseDigits(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, s != ""
}

// FormatTime renders hour and minute as HH:MM.
func FormatTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func validateTime(hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", domain.ErrInvalidTime, hour, minute)
	}
	return nil
}
