// Package domain contains core business entities and interfaces.
// This is the innermost layer - no dependencies on adapters or the host device.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrBusy is returned when a batch is submitted while another is running.
	ErrBusy = errors.New("force stop already in progress")

	// ErrPackageNotFound means the package is no longer installed on the device.
	ErrPackageNotFound = errors.New("package not found")

	// ErrNoActiveWindow means the accessible tree is empty (page not rendered yet).
	ErrNoActiveWindow = errors.New("no active window")

	// ErrMissingAuthority means a user-granted permission is not available.
	ErrMissingAuthority = errors.New("missing authority")

	// ErrInvalidTime is returned for malformed schedule times.
	ErrInvalidTime = errors.New("invalid schedule time")
)

// AppRecord describes one installed application as shown to the user.
// Two records are the same app when their PackageID matches.
type AppRecord struct {
	PackageID       string `json:"package_id"`
	DisplayName     string `json:"display_name"`
	Icon            []byte `json:"-"`
	IsUserInstalled bool   `json:"user_installed"`
	IsWhitelisted   bool   `json:"whitelisted"`
}

// InstalledApp is a row of the device's installed-apps table.
type InstalledApp struct {
	PackageID string
	Label     string
	IsSystem  bool
}

// UsageRecord is one package entry of the foreground-usage telemetry.
type UsageRecord struct {
	PackageID       string
	LastUsed        time.Time
	LastVisible     time.Time
	TotalForeground time.Duration
}

// Importance mirrors the host OS process importance scale.
// Lower values are more important.
type Importance int

const (
	ImportanceForeground Importance = 100
	ImportanceVisible    Importance = 200
	ImportanceService    Importance = 300
	ImportanceCached     Importance = 400
	ImportanceGone       Importance = 1000
)

// ProcessInfo is one entry of the running-processes list.
// A single process may host several packages.
type ProcessInfo struct {
	PID        int
	Name       string
	Importance Importance
	Packages   []string
}

// ServiceInfo is one entry of the running-services list.
type ServiceInfo struct {
	PackageID string
	ClassName string
}

// BatchPlan is an ordered list of packages to force-stop.
// Built by usecase.NewBatchPlan which removes duplicates and ineligible entries.
type BatchPlan struct {
	Packages []string
	FastMode bool
}

// Len returns the number of packages in the plan.
func (b BatchPlan) Len() int {
	return len(b.Packages)
}

// StopStepState is the per-package state of the force-stop state machine.
type StopStepState string

const (
	StepIdle           StopStepState = "idle"
	StepAwaitSettings  StopStepState = "await_settings"
	StepAwaitForceStop StopStepState = "await_force_stop"
	StepAwaitConfirm   StopStepState = "await_confirm"
	StepDone           StopStepState = "done"
	StepFailed         StopStepState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s StopStepState) Terminal() bool {
	return s == StepDone || s == StepFailed
}

// PackageOutcome records how one package of a batch ended.
type PackageOutcome struct {
	PackageID string
	State     StopStepState
	Reason    string
}

// BatchResult captures what happened during a single controller run.
type BatchResult struct {
	Outcomes   []PackageOutcome
	Total      int
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Stopped returns the packages that reached StepDone, in processing order.
func (r BatchResult) Stopped() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.State == StepDone {
			out = append(out, o.PackageID)
		}
	}
	return out
}

// Failed returns the packages that were skipped.
func (r BatchResult) Failed() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.State == StepFailed {
			out = append(out, o.PackageID)
		}
	}
	return out
}

// Schedule is the persisted daily force-stop time.
type Schedule struct {
	Enabled bool
	Hour    int
	Minute  int
}

// DefaultSchedule is disabled at 02:00.
var DefaultSchedule = Schedule{Enabled: false, Hour: 2, Minute: 0}

// AlarmID names one of the scheduler's one-shot alarms.
type AlarmID string

const (
	AlarmWarning AlarmID = "warning"
	AlarmExecute AlarmID = "execute"
)

// LogLevel is the severity of an ErrorSink entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// DeviceInfo is attached to warning and error log entries.
type DeviceInfo struct {
	Manufacturer   string `json:"manufacturer,omitempty"`
	Model          string `json:"model,omitempty"`
	Device         string `json:"device,omitempty"`
	AndroidVersion string `json:"androidVersion,omitempty"`
	APILevel       int    `json:"apiLevel,omitempty"`
	Brand          string `json:"brand,omitempty"`
}

// LogEntry is one structured record in the bounded error log.
type LogEntry struct {
	Timestamp        time.Time   `json:"timestamp"`
	Level            LogLevel    `json:"level"`
	Tag              string      `json:"tag"`
	Message          string      `json:"message"`
	ExceptionType    string      `json:"exceptionType,omitempty"`
	ExceptionMessage string      `json:"exceptionMessage,omitempty"`
	StackTrace       string      `json:"stackTrace,omitempty"`
	Device           *DeviceInfo `json:"device,omitempty"`
}
