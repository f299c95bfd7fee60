// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/uidriver"
)

// DelayProfile is the set of inter-step waits for one package.
type DelayProfile struct {
	Settings time.Duration // open settings -> click force stop
	Confirm  time.Duration // click force stop -> click confirm
	Process  time.Duration // confirm -> next package
}

// ControllerConfig holds the normal and fast delay profiles.
type ControllerConfig struct {
	Normal DelayProfile
	Fast   DelayProfile
}

// DefaultControllerConfig returns delays calibrated against settings page render latency.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Normal: DelayProfile{
			Settings: 1500 * time.Millisecond,
			Confirm:  500 * time.Millisecond,
			Process:  2000 * time.Millisecond,
		},
		Fast: DelayProfile{
			Settings: 400 * time.Millisecond,
			Confirm:  150 * time.Millisecond,
			Process:  500 * time.Millisecond,
		},
	}
}

// Profile selects the profile for a batch.
func (c ControllerConfig) Profile(fast bool) DelayProfile {
	if fast {
		return c.Fast
	}
	return c.Normal
}

// ProgressFunc is called on the event loop after each package reaches StepDone.
type ProgressFunc func(packageID string, processed, total int)

// ForceStopController walks a BatchPlan through the per-package state machine.
// All state transitions run on the event loop; waits are delayed posts.
type ForceStopController struct {
	loop   domain.EventLoop
	nav    domain.Navigator
	driver uidriver.Clicker
	filter domain.Eligibility
	config ControllerConfig
	logger *zap.Logger
	lock   domain.BatchLock

	busy atomic.Bool

	// Loop-owned.
	generation uint64
	current    *batchRun
}

// batchRun is the state of one batch. Loop-owned.
type batchRun struct {
	ctx        context.Context
	generation uint64
	plan       domain.BatchPlan
	delays     DelayProfile
	progress   ProgressFunc
	index      int
	state      domain.StopStepState
	pending    func()
	result     domain.BatchResult
	done       chan domain.BatchResult
}

// ControllerOption configures a ForceStopController.
type ControllerOption func(*ForceStopController)

// WithBatchLock makes Start also take lock, so batches from other processes
// driving the same device are rejected with ErrBusy.
func WithBatchLock(lock domain.BatchLock) ControllerOption {
	return func(c *ForceStopController) { c.lock = lock }
}

// NewForceStopController creates a controller.
func NewForceStopController(
	loop domain.EventLoop,
	nav domain.Navigator,
	driver uidriver.Clicker,
	filter domain.Eligibility,
	config ControllerConfig,
	logger *zap.Logger,
	opts ...ControllerOption,
) *ForceStopController {
	c := &ForceStopController{
		loop:   loop,
		nav:    nav,
		driver: driver,
		filter: filter,
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsProcessing reports whether a batch is running.
func (c *ForceStopController) IsProcessing() bool {
	return c.busy.Load()
}

// Start submits plan and returns immediately. The channel receives the result
// once the batch finishes or is cancelled. A second Start while busy, here or
// in another process sharing the batch lock, is rejected with ErrBusy and
// does not disturb the running batch.
func (c *ForceStopController) Start(ctx context.Context, plan domain.BatchPlan, progress ProgressFunc) (<-chan domain.BatchResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		c.logger.Warn("force stop already in progress, rejecting batch",
			zap.Int("packages", plan.Len()))
		return nil, domain.ErrBusy
	}
	if c.lock != nil {
		ok, err := c.lock.TryLock()
		if err != nil {
			c.busy.Store(false)
			return nil, fmt.Errorf("failed to take batch lock: %w", err)
		}
		if !ok {
			c.busy.Store(false)
			c.logger.Warn("force stop running in another process, rejecting batch",
				zap.Int("packages", plan.Len()))
			return nil, domain.ErrBusy
		}
	}

	run := &batchRun{
		ctx:      ctx,
		plan:     plan,
		delays:   c.config.Profile(plan.FastMode),
		progress: progress,
		state:    domain.StepIdle,
		done:     make(chan domain.BatchResult, 1),
	}
	c.loop.Post(func() { c.begin(run) })
	return run.done, nil
}

// Run starts plan and waits for it. Cancelling ctx cancels the batch.
func (c *ForceStopController) Run(ctx context.Context, plan domain.BatchPlan, progress ProgressFunc) (domain.BatchResult, error) {
	done, err := c.Start(ctx, plan, progress)
	if err != nil {
		return domain.BatchResult{}, err
	}
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		c.Cancel()
		return <-done, ctx.Err()
	}
}

// Cancel drops the remainder of the running batch at the next callback
// boundary and returns to the home screen. Pending timers become stale.
func (c *ForceStopController) Cancel() {
	c.loop.Post(func() {
		run := c.current
		if run == nil {
			return
		}
		c.logger.Info("force stop cancelled",
			zap.Int("processed", run.index),
			zap.Int("total", run.plan.Len()))
		if run.index < run.plan.Len() && !run.state.Terminal() && run.state != domain.StepIdle {
			c.outcome(run, domain.StepFailed, "cancelled")
		}
		run.result.Cancelled = true
		c.finish(run)
	})
}

func (c *ForceStopController) begin(run *batchRun) {
	c.generation++
	run.generation = c.generation
	c.current = run
	run.result = domain.BatchResult{Total: run.plan.Len(), StartedAt: c.loop.Now()}

	c.logger.Info("force stop batch started",
		zap.Int("packages", run.plan.Len()),
		zap.Bool("fast_mode", run.plan.FastMode))
	c.step(run)
}

// schedule posts fn after d unless the run is stale by then.
func (c *ForceStopController) schedule(run *batchRun, d time.Duration, fn func()) {
	gen := run.generation
	run.pending = c.loop.PostDelayed(d, func() {
		if c.current != run || c.generation != gen {
			return
		}
		run.pending = nil
		fn()
	})
}

func (c *ForceStopController) step(run *batchRun) {
	if run.index >= run.plan.Len() {
		c.finish(run)
		return
	}
	pkg := run.plan.Packages[run.index]
	run.state = domain.StepIdle

	if !c.filter.IsEligible(pkg) {
		c.logger.Warn("skipping ineligible package", zap.String("package", pkg))
		c.outcome(run, domain.StepFailed, "not eligible")
		c.schedule(run, 0, func() { c.next(run) })
		return
	}

	run.state = domain.StepAwaitSettings
	if err := c.nav.OpenAppDetails(run.ctx, pkg); err != nil {
		c.logger.Warn("failed to open app settings",
			zap.String("package", pkg),
			zap.Error(err))
		c.outcome(run, domain.StepFailed, "open settings: "+err.Error())
		c.schedule(run, 0, func() { c.next(run) })
		return
	}
	c.schedule(run, run.delays.Settings, func() { c.clickForceStop(run) })
}

func (c *ForceStopController) clickForceStop(run *batchRun) {
	pkg := run.plan.Packages[run.index]
	run.state = domain.StepAwaitForceStop
	if !c.driver.ClickLabeled(run.ctx, uidriver.ForceStopLabels) {
		c.logger.Warn("force stop button not found", zap.String("package", pkg))
		c.outcome(run, domain.StepFailed, "force stop button not found")
		c.schedule(run, run.delays.Process, func() { c.next(run) })
		return
	}
	run.state = domain.StepAwaitConfirm
	c.schedule(run, run.delays.Confirm, func() { c.clickConfirm(run) })
}

func (c *ForceStopController) clickConfirm(run *batchRun) {
	pkg := run.plan.Packages[run.index]
	if !c.driver.ClickLabeled(run.ctx, uidriver.ConfirmLabels) {
		c.logger.Warn("confirm button not found", zap.String("package", pkg))
		c.outcome(run, domain.StepFailed, "confirm button not found")
		c.schedule(run, run.delays.Process, func() { c.next(run) })
		return
	}
	c.outcome(run, domain.StepDone, "")
	c.logger.Info("force stopped",
		zap.String("package", pkg),
		zap.Int("index", run.index+1),
		zap.Int("total", run.plan.Len()))
	if run.progress != nil {
		run.progress(pkg, run.index+1, run.plan.Len())
	}
	c.schedule(run, run.delays.Process, func() { c.next(run) })
}

func (c *ForceStopController) next(run *batchRun) {
	run.index++
	c.step(run)
}

func (c *ForceStopController) outcome(run *batchRun, state domain.StopStepState, reason string) {
	run.state = state
	run.result.Outcomes = append(run.result.Outcomes, domain.PackageOutcome{
		PackageID: run.plan.Packages[run.index],
		State:     state,
		Reason:    reason,
	})
}

func (c *ForceStopController) finish(run *batchRun) {
	if run.pending != nil {
		run.pending()
		run.pending = nil
	}
	// The run context may already be cancelled; going home must still happen.
	if err := c.nav.GoHome(context.WithoutCancel(run.ctx)); err != nil {
		c.logger.Warn("failed to return home", zap.Error(err))
	}

	run.result.FinishedAt = c.loop.Now()
	c.generation++
	c.current = nil
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("failed to release batch lock", zap.Error(err))
		}
	}
	c.busy.Store(false)

	c.logger.Info("force stop batch finished",
		zap.Int("stopped", len(run.result.Stopped())),
		zap.Int("failed", len(run.result.Failed())),
		zap.Bool("cancelled", run.result.Cancelled))
	run.done <- run.result
	close(run.done)
}
