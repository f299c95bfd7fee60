package domain

import (
	"context"
	"time"
)

// Clock provides wall-clock time.
type Clock interface {
	Now() time.Time
}

// EventLoop is the single cooperative scheduling context.
// All driver interactions, state-machine transitions and progress callbacks
// run on it in FIFO order. Implementation: internal/looper.
type EventLoop interface {
	Clock

	// Post enqueues fn to run on the loop.
	Post(fn func())

	// PostDelayed enqueues fn to run on the loop after d.
	// The returned function cancels the callback if it has not run yet.
	PostDelayed(d time.Duration, fn func()) (cancel func())

	// Background runs fn off the loop (blocking OS queries).
	// fn must Post back before touching loop-owned state.
	Background(fn func())
}

// PackageCatalog enumerates installed applications.
// Implementation: pm / dumpsys package over ADB.
type PackageCatalog interface {
	// InstalledApps returns every installed package with its system flag.
	InstalledApps(ctx context.Context) ([]InstalledApp, error)

	// AppInfo resolves a single package. Returns ErrPackageNotFound if gone.
	AppInfo(ctx context.Context, packageID string) (*InstalledApp, error)
}

// UsageStatsSource queries foreground-usage telemetry.
type UsageStatsSource interface {
	// QueryUsage returns per-package usage for the window [start, end].
	QueryUsage(ctx context.Context, start, end time.Time) ([]UsageRecord, error)
}

// ProcessSource lists running processes.
type ProcessSource interface {
	RunningProcesses(ctx context.Context) ([]ProcessInfo, error)
}

// ServiceSource lists running background services.
type ServiceSource interface {
	RunningServices(ctx context.Context) ([]ServiceInfo, error)
}

// PlatformInfo describes the host OS version.
type PlatformInfo interface {
	// RestrictsProcessList reports whether the OS hides other apps' processes,
	// which enables the extended recent-usage scan.
	RestrictsProcessList(ctx context.Context) bool
}

// Navigator issues intents to the host OS.
type Navigator interface {
	// OpenAppDetails opens the application details settings page.
	OpenAppDetails(ctx context.Context, packageID string) error

	// GoHome returns to the home screen.
	GoHome(ctx context.Context) error
}

// AccessibleNode is one node of the assistive-input tree.
type AccessibleNode interface {
	Text() string
	IsClickable() bool
	IsEnabled() bool
	Click(ctx context.Context) error

	// FindByText returns descendants whose visible text matches text.
	FindByText(text string) []AccessibleNode

	// Recycle releases the node. Must be called for every acquired node.
	Recycle()
}

// AccessibilityTree gives access to the active window's node tree.
type AccessibilityTree interface {
	// RootInActiveWindow returns the root node or ErrNoActiveWindow.
	RootInActiveWindow(ctx context.Context) (AccessibleNode, error)
}

// AuthorityChecker reports user-granted permissions.
type AuthorityChecker interface {
	HasAssistiveAuthority(ctx context.Context) bool
	HasUsageAuthority(ctx context.Context) bool
}

// AlarmFacility registers one-shot wake-capable alarms.
// Registering an id that is already armed replaces the previous registration.
type AlarmFacility interface {
	SetExact(id AlarmID, at time.Time) error
	Cancel(id AlarmID) error
}

// Notifier posts user-visible notifications on a low-importance channel.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// PreferencesStore is the persistent keyed map.
// Implementations: SQLCipher-encrypted database, JSON file.
type PreferencesStore interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores a value.
	Set(key, value string) error

	// Delete removes a key. Missing keys are not an error.
	Delete(key string) error

	// All returns a snapshot of every key.
	All() (map[string]string, error)

	// Update replaces the value of key with fn's result. The read and the
	// write are atomic with respect to every other writer of the store,
	// including other processes. An error from fn aborts the update.
	Update(key string, fn func(value string, ok bool) (string, error)) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// ErrorSink collects structured log entries in a bounded buffer.
type ErrorSink interface {
	Record(entry LogEntry)
	Entries() []LogEntry
	Clear() error
}

// Eligibility decides whether a package may be force-stopped.
type Eligibility interface {
	IsEligible(packageID string) bool
}

// DeviceInfoProvider describes the connected device for log entries.
type DeviceInfoProvider interface {
	DeviceInfo(ctx context.Context) (*DeviceInfo, error)
}

// BatchLock guards the device against concurrent force-stop batches from
// different processes. Implementation: infra.BatchLock.
type BatchLock interface {
	// TryLock takes the lock without blocking and reports whether it was free.
	TryLock() (bool, error)
	Unlock() error
}
