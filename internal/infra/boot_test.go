package infra

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/prefs"
	"github.com/nomor/memclear/internal/store"
)

func newTestPrefs(t *testing.T) *prefs.Preferences {
	t.Helper()
	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "preferences.json"))
	require.NoError(t, err)
	return prefs.New(s)
}

func newTestBootDetector(p *prefs.Preferences, version string, boot *uint64) *BootDetector {
	d := NewBootDetector(p, version, zap.NewNop())
	d.bootTime = func() (uint64, error) { return *boot, nil }
	return d
}

func TestBootDetector(t *testing.T) {
	p := newTestPrefs(t)
	boot := uint64(1_777_870_000)

	first := newTestBootDetector(p, "1.0.0", &boot)
	event, err := first.Check()
	require.NoError(t, err)
	assert.True(t, event.Rebooted, "first start counts as boot")
	assert.False(t, event.Upgraded)
	assert.Equal(t, time.Unix(int64(boot), 0), event.BootTime)

	// Restart without reboot, same version
	event, err = first.Check()
	require.NoError(t, err)
	assert.False(t, event.Fired())

	// Jitter within skew
	boot++
	event, err = first.Check()
	require.NoError(t, err)
	assert.False(t, event.Rebooted)

	// Reboot
	boot += 3600
	event, err = first.Check()
	require.NoError(t, err)
	assert.True(t, event.Rebooted)
	assert.False(t, event.Upgraded)

	// Upgrade
	upgraded := newTestBootDetector(p, "1.1.0", &boot)
	event, err = upgraded.Check()
	require.NoError(t, err)
	assert.False(t, event.Rebooted)
	assert.True(t, event.Upgraded)

	v, err := p.LastVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v)
}

func TestBootDetector_BootTimeError(t *testing.T) {
	d := NewBootDetector(newTestPrefs(t), "1.0.0", zap.NewNop())
	d.bootTime = func() (uint64, error) { return 0, errors.New("no /proc") }

	_, err := d.Check()
	assert.ErrorContains(t, err, "failed to read host boot time")
}

func TestBootDetector_HostBootTime(t *testing.T) {
	d := NewBootDetector(newTestPrefs(t), "1.0.0", zap.NewNop())
	event, err := d.Check()
	if err != nil {
		t.Skipf("host boot time unavailable: %v", err)
	}
	assert.True(t, event.BootTime.Before(time.Now()))
}
