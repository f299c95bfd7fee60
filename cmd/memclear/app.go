package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/adb"
	"github.com/nomor/memclear/internal/config"
	"github.com/nomor/memclear/internal/daemon"
	"github.com/nomor/memclear/internal/detector"
	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/errlog"
	"github.com/nomor/memclear/internal/infra"
	"github.com/nomor/memclear/internal/looper"
	"github.com/nomor/memclear/internal/policy"
	"github.com/nomor/memclear/internal/prefs"
	"github.com/nomor/memclear/internal/scheduler"
	"github.com/nomor/memclear/internal/store"
	"github.com/nomor/memclear/internal/uidriver"
	"github.com/nomor/memclear/internal/usecase"
)

// app is the object graph shared by every command.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      domain.PreferencesStore
	prefs      *prefs.Preferences
	sink       *errlog.Sink
	device     *adb.Device
	filter     *policy.Registry
	detector   *detector.Detector
	loop       *looper.Loop
	controller *usecase.ForceStopController
	pipeline   *usecase.StopPipeline
	pidfile    *infra.PIDFile

	closers []func() error
}

// loggerFactory builds the process logger once the sink exists.
type loggerFactory func(cfg *config.Config, sink *errlog.Sink) (*zap.Logger, func() error, error)

func cliLogger(cfg *config.Config, sink *errlog.Sink) (*zap.Logger, func() error, error) {
	return infra.NewCLILogger(verbose, sink), nil, nil
}

func daemonLogger(cfg *config.Config, sink *errlog.Sink) (*zap.Logger, func() error, error) {
	logger, closer, err := infra.NewDaemonLogger(cfg.LogConfig(), sink)
	if err != nil {
		return nil, nil, err
	}
	return logger, closer.Close, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serial != "" {
		cfg.Serial = serial
	}
	return cfg, nil
}

func newApp(newLogger loggerFactory) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	a := &app{cfg: cfg, store: st, prefs: prefs.New(st)}
	a.closers = append(a.closers, st.Close)

	a.sink, err = errlog.New(st)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load error log: %w", err)
	}

	logger, closeLog, err := newLogger(cfg, a.sink)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.logger = logger
	if closeLog != nil {
		a.closers = append(a.closers, closeLog)
	}

	a.loop = looper.New(logger.Named("EventLoop"), looper.WithPanicHandler(func(recovered any, stack []byte) {
		a.sink.ReportPanic("EventLoop", recovered, stack)
	}))

	runner := adb.NewClient(cfg.ADBPath, cfg.Serial, logger.Named("adb"))
	a.device = adb.NewDevice(runner, logger.Named("adb"))

	whitelist := a.prefs.Whitelist()
	a.filter = policy.NewFilter(cfg.SelfPackage, whitelist, cfg.Exclude)
	a.detector = detector.New(detector.Sources{
		Catalog:   a.device,
		Usage:     a.device,
		Processes: a.device,
		Services:  a.device,
		Platform:  a.device,
	}, a.filter, whitelist, a.loop, detector.DefaultConfig(), logger.Named("RunningAppsDetector"))

	driver := uidriver.New(a.device, logger.Named("AssistiveUIDriver"))
	a.controller = usecase.NewForceStopController(a.loop, a.device, driver, a.filter, cfg.Controller(),
		logger.Named("ForceStopController"), usecase.WithBatchLock(infra.NewBatchLock(cfg.Layout().BatchLock())))
	a.pipeline = usecase.NewStopPipeline(a.detector, a.controller, a.filter, logger.Named("StopPipeline"))
	a.pidfile = infra.NewPIDFile(cfg.Layout().PIDFile())
	return a, nil
}

// newScheduler builds a scheduler on alarms. The daemon passes its timer
// alarms; CLI commands pass daemon.RemoteAlarms.
func (a *app) newScheduler(ctx context.Context, alarms domain.AlarmFacility) *scheduler.Scheduler {
	return scheduler.New(ctx, scheduler.Deps{
		Loop:       a.loop,
		Alarms:     alarms,
		Prefs:      a.prefs,
		Authority:  a.device,
		Detector:   a.detector,
		Controller: a.controller,
		Filter:     a.filter,
		Notifier:   a.device,
	}, scheduler.DefaultConfig(), a.logger.Named("Scheduler"))
}

func (a *app) remoteAlarms() *daemon.RemoteAlarms {
	return daemon.NewRemoteAlarms(a.pidfile, a.logger)
}

// Close releases the store and log file.
func (a *app) Close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
