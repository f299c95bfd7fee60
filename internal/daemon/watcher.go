// Package daemon implements the long-running memclear process that owns the
// event loop and the scheduler's alarms.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/infra"
)

// Loop is the event loop the daemon drives.
type Loop interface {
	domain.EventLoop
	Run(ctx context.Context) error
}

// Restorer re-arms the schedule from persisted state.
type Restorer interface {
	Restore() error
	OnAlarm(id domain.AlarmID)
}

// BootChecker reports whether the host rebooted or the daemon was upgraded.
type BootChecker interface {
	Check() (infra.BootEvent, error)
}

// InfoRecorder receives informational entries for the user-visible log.
type InfoRecorder interface {
	Info(tag, message string)
}

// Config holds daemon timings.
type Config struct {
	HealthInterval time.Duration // How often to check the device
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{HealthInterval: 60 * time.Second}
}

// Deps bundles the daemon's collaborators.
type Deps struct {
	Loop      Loop
	Alarms    *infra.TimerAlarms
	Scheduler Restorer
	Boot      BootChecker
	Monitor   *DeviceMonitor
	PIDFile   *infra.PIDFile
	Log       InfoRecorder
}

// Watcher is the memclear daemon.
// It runs the event loop, keeps the schedule armed across restarts, reboots
// and reloads, and tracks the device connection.
type Watcher struct {
	config Config
	deps   Deps
	reload chan struct{}
	logger *zap.Logger
}

// NewWatcher creates a new watcher daemon.
func NewWatcher(config Config, deps Deps, logger *zap.Logger) *Watcher {
	return &Watcher{
		config: config,
		deps:   deps,
		reload: make(chan struct{}, 1),
		logger: logger,
	}
}

// Reload asks the running daemon to re-read the persisted schedule.
// Safe to call from a signal handler goroutine.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Run starts the daemon loop.
// This blocks until context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.deps.PIDFile != nil {
		if err := w.deps.PIDFile.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := w.deps.PIDFile.Release(); err != nil {
				w.logger.Warn("failed to remove pidfile", zap.Error(err))
			}
		}()
	}

	w.deps.Alarms.SetHandler(w.deps.Scheduler.OnAlarm)

	loopDone := make(chan error, 1)
	go func() { loopDone <- w.deps.Loop.Run(ctx) }()

	w.logger.Info("watcher daemon started")

	w.runBootHook()
	w.restore("start")
	if w.deps.Monitor != nil {
		w.deps.Monitor.Check(ctx)
	}

	healthTicker := time.NewTicker(w.config.HealthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher daemon stopping")
			<-loopDone
			return ctx.Err()

		case <-w.reload:
			w.restore("reload")

		case <-healthTicker.C:
			if w.deps.Monitor != nil {
				w.deps.Monitor.Check(ctx)
			}
		}
	}
}

// runBootHook records a boot or upgrade in the user-visible log.
func (w *Watcher) runBootHook() {
	if w.deps.Boot == nil {
		return
	}
	event, err := w.deps.Boot.Check()
	if err != nil {
		w.logger.Warn("boot check failed", zap.Error(err))
		return
	}
	if w.deps.Log == nil {
		return
	}
	switch {
	case event.Upgraded:
		w.deps.Log.Info("BootReceiver", "Daemon upgraded, restoring schedule")
	case event.Rebooted:
		w.deps.Log.Info("BootReceiver", "Host boot detected, restoring schedule")
	}
}

func (w *Watcher) restore(reason string) {
	if err := w.deps.Scheduler.Restore(); err != nil {
		w.logger.Error("failed to restore schedule", zap.String("reason", reason), zap.Error(err))
		return
	}
	w.logger.Info("schedule restored", zap.String("reason", reason))
}
