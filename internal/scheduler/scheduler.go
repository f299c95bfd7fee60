// Package scheduler runs the daily force-stop at a persisted wall-clock time.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/prefs"
	"github.com/nomor/memclear/internal/usecase"
)

// Config holds scheduler timings.
type Config struct {
	WarningLead         time.Duration
	CompletionDelay     time.Duration
	FastCompletionDelay time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		WarningLead:         5 * time.Minute,
		CompletionDelay:     30 * time.Second,
		FastCompletionDelay: 8 * time.Second,
	}
}

// BatchStarter submits a batch without blocking.
type BatchStarter interface {
	Start(ctx context.Context, plan domain.BatchPlan, progress usecase.ProgressFunc) (<-chan domain.BatchResult, error)
}

// Lister is the detector surface the scheduler needs.
type Lister interface {
	List(ctx context.Context) []domain.AppRecord
}

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Loop       domain.EventLoop
	Alarms     domain.AlarmFacility
	Prefs      *prefs.Preferences
	Authority  domain.AuthorityChecker
	Detector   Lister
	Controller BatchStarter
	Filter     domain.Eligibility
	Notifier   domain.Notifier
}

// Scheduler arms a pre-warning alarm and an execute alarm for the next
// occurrence of the configured time.
type Scheduler struct {
	deps   Deps
	config Config
	logger *zap.Logger

	ctx context.Context
	mu  sync.Mutex // serialises persisted state changes from CLI and loop
}

// New creates a Scheduler. ctx bounds every host call made from alarms.
func New(ctx context.Context, deps Deps, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		deps:   deps,
		config: config,
		logger: logger,
		ctx:    ctx,
	}
}

// NextFireTime returns the earliest instant strictly after now at hour:minute
// in now's location.
func NextFireTime(now time.Time, hour, minute int) time.Time {
	fire := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !fire.After(now) {
		fire = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return fire
}

// IsEnabled reports the persisted enabled flag.
func (s *Scheduler) IsEnabled() bool {
	sched, err := s.deps.Prefs.Schedule()
	if err != nil {
		s.logger.Warn("failed to read schedule", zap.Error(err))
	}
	return sched.Enabled
}

// Time returns the persisted hour and minute.
func (s *Scheduler) Time() (int, int) {
	sched, err := s.deps.Prefs.Schedule()
	if err != nil {
		s.logger.Warn("failed to read schedule", zap.Error(err))
	}
	return sched.Hour, sched.Minute
}

// Enable persists the enabled flag and arms both alarms, replacing any
// existing registration.
func (s *Scheduler) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Prefs.SetScheduleEnabled(true); err != nil {
		return fmt.Errorf("failed to persist schedule: %w", err)
	}
	return s.armLocked()
}

// Disable persists the disabled flag and cancels both alarms.
func (s *Scheduler) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Prefs.SetScheduleEnabled(false); err != nil {
		return fmt.Errorf("failed to persist schedule: %w", err)
	}
	return s.cancelLocked()
}

// SetTime persists hour:minute and re-arms when enabled.
// Out-of-range values are rejected with domain.ErrInvalidTime.
func (s *Scheduler) SetTime(hour, minute int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Prefs.SetScheduleTime(hour, minute); err != nil {
		return err
	}
	s.logger.Info("schedule time set", zap.String("time", prefs.FormatTime(hour, minute)))

	sched, err := s.deps.Prefs.Schedule()
	if err != nil {
		return err
	}
	if sched.Enabled {
		return s.armLocked()
	}
	return nil
}

// SetTimeString parses "HH:MM". A malformed value keeps the previous time.
func (s *Scheduler) SetTimeString(value string) error {
	h, m, err := prefs.ParseTime(value)
	if err != nil {
		s.logger.Warn("rejected schedule time", zap.String("value", value), zap.Error(err))
		return err
	}
	return s.SetTime(h, m)
}

// Restore re-arms the alarms if the schedule is enabled and cancels them
// otherwise. Called at process start, from the boot hook and on reload.
func (s *Scheduler) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.deps.Prefs.Schedule()
	if err != nil {
		return err
	}
	if !sched.Enabled {
		s.logger.Debug("schedule disabled, nothing to restore")
		return s.cancelLocked()
	}
	return s.armLocked()
}

// OnAlarm dispatches a fired alarm. Runs on the event loop.
func (s *Scheduler) OnAlarm(id domain.AlarmID) {
	switch id {
	case domain.AlarmWarning:
		s.notify("Scheduled Force Stop in 5 Minutes",
			"Apps will be force stopped automatically in 5 minutes")
	case domain.AlarmExecute:
		s.execute()
	default:
		s.logger.Warn("unknown alarm", zap.String("id", string(id)))
	}
}

func (s *Scheduler) armLocked() error {
	sched, err := s.deps.Prefs.Schedule()
	if err != nil {
		return err
	}
	now := s.deps.Loop.Now()
	fire := NextFireTime(now, sched.Hour, sched.Minute)
	warning := fire.Add(-s.config.WarningLead)

	if warning.After(now) {
		if err := s.deps.Alarms.SetExact(domain.AlarmWarning, warning); err != nil {
			return fmt.Errorf("failed to arm warning alarm: %w", err)
		}
	} else {
		// Too close to fire time for a warning
		if err := s.deps.Alarms.Cancel(domain.AlarmWarning); err != nil {
			return fmt.Errorf("failed to cancel warning alarm: %w", err)
		}
	}
	if err := s.deps.Alarms.SetExact(domain.AlarmExecute, fire); err != nil {
		return fmt.Errorf("failed to arm execute alarm: %w", err)
	}

	s.logger.Info("schedule armed",
		zap.Time("fire_at", fire),
		zap.Time("warning_at", warning))
	return nil
}

func (s *Scheduler) cancelLocked() error {
	var firstErr error
	for _, id := range []domain.AlarmID{domain.AlarmWarning, domain.AlarmExecute} {
		if err := s.deps.Alarms.Cancel(id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to cancel %s alarm: %w", id, err)
		}
	}
	s.logger.Info("schedule cancelled")
	return firstErr
}

func (s *Scheduler) execute() {
	s.logger.Info("executing scheduled force stop")

	if !s.deps.Authority.HasAssistiveAuthority(s.ctx) {
		s.logger.Warn("scheduled force stop aborted", zap.Error(domain.ErrMissingAuthority))
		s.notify("Schedule Failed", "Accessibility permission is required for scheduled force stopping")
		s.rearm()
		return
	}

	fast, err := s.deps.Prefs.FastMode(s.deps.Loop.Now())
	if err != nil {
		s.logger.Warn("failed to read fast mode, using normal delays", zap.Error(err))
		fast = false
	}

	s.deps.Loop.Background(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled detection panicked",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				s.deps.Loop.Post(func() {
					s.notify("Schedule Error", fmt.Sprintf("Error occurred during scheduled force stop: %v", r))
					s.rearm()
				})
			}
		}()

		apps := s.deps.Detector.List(s.ctx)
		s.deps.Loop.Post(func() {
			s.runBatch(apps, fast)
			s.rearm()
		})
	})
}

func (s *Scheduler) runBatch(apps []domain.AppRecord, fast bool) {
	plan := usecase.PlanFromRecords(s.deps.Filter, apps, fast)
	if plan.Len() == 0 {
		s.notify("No Apps to Stop", "No running apps found during scheduled force stop")
		return
	}

	if _, err := s.deps.Controller.Start(s.ctx, plan, nil); err != nil {
		s.logger.Warn("scheduled batch rejected", zap.Error(err))
		s.notify("Schedule Error", "Error occurred during scheduled force stop: "+err.Error())
		return
	}

	delay := s.config.CompletionDelay
	note := ""
	if fast {
		delay = s.config.FastCompletionDelay
		note = " (Premium Speed)"
	}
	size := plan.Len()
	s.deps.Loop.PostDelayed(delay, func() {
		s.notify("Scheduled Force Stop Completed"+note,
			fmt.Sprintf("Successfully force stopped %d apps%s", size, note))
	})
}

func (s *Scheduler) rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.deps.Prefs.Schedule()
	if err != nil {
		s.logger.Warn("failed to read schedule for re-arm", zap.Error(err))
		return
	}
	if !sched.Enabled {
		return
	}
	if err := s.armLocked(); err != nil {
		s.logger.Error("failed to re-arm schedule", zap.Error(err))
	}
}

func (s *Scheduler) notify(title, body string) {
	if err := s.deps.Notifier.Notify(s.ctx, title, body); err != nil {
		s.logger.Warn("failed to post notification",
			zap.String("title", title),
			zap.Error(err))
	}
}
