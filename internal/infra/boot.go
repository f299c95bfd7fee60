package infra

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/prefs"
)

// bootSkew absorbs jitter in the kernel-reported boot time between reads.
const bootSkew = 2 * time.Second

// BootEvent describes why the boot hook fired.
type BootEvent struct {
	Rebooted bool // host boot time differs from the recorded one
	Upgraded bool // daemon version differs from the recorded one
	BootTime time.Time
}

// Fired reports whether either condition holds.
func (e BootEvent) Fired() bool {
	return e.Rebooted || e.Upgraded
}

// BootDetector compares the host boot time and daemon version with the
// values recorded by the previous daemon start.
type BootDetector struct {
	prefs    *prefs.Preferences
	version  string
	bootTime func() (uint64, error)
	logger   *zap.Logger
}

// NewBootDetector creates a detector reading the boot time via gopsutil.
func NewBootDetector(p *prefs.Preferences, version string, logger *zap.Logger) *BootDetector {
	return &BootDetector{
		prefs:    p,
		version:  version,
		bootTime: host.BootTime,
		logger:   logger,
	}
}

// Check returns the boot event and records the current markers.
// The first ever start counts as a boot.
func (b *BootDetector) Check() (BootEvent, error) {
	secs, err := b.bootTime()
	if err != nil {
		return BootEvent{}, fmt.Errorf("failed to read host boot time: %w", err)
	}
	event := BootEvent{BootTime: time.Unix(int64(secs), 0)}

	last, err := b.prefs.LastBoot()
	if err != nil {
		b.logger.Warn("ignoring recorded boot time", zap.Error(err))
	}
	diff := event.BootTime.Sub(last)
	if diff < 0 {
		diff = -diff
	}
	event.Rebooted = last.IsZero() || diff > bootSkew

	lastVersion, err := b.prefs.LastVersion()
	if err != nil {
		return event, err
	}
	event.Upgraded = lastVersion != "" && lastVersion != b.version

	if err := b.prefs.SetLastBoot(event.BootTime); err != nil {
		return event, err
	}
	if err := b.prefs.SetLastVersion(b.version); err != nil {
		return event, err
	}

	if event.Fired() {
		b.logger.Info("boot hook",
			zap.Bool("rebooted", event.Rebooted),
			zap.Bool("upgraded", event.Upgraded),
			zap.String("previous_version", lastVersion),
			zap.String("version", b.version))
	}
	return event, nil
}
