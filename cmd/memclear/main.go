// Package main is the CLI entry point for memclear.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/config"
	"github.com/nomor/memclear/internal/daemon"
	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/infra"
	"github.com/nomor/memclear/internal/prefs"
	"github.com/nomor/memclear/internal/scheduler"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memclear",
	Short: "Force-stop background Android apps over adb",
	Long: `memclear finds apps running in the background on an adb-connected
Android device and force-stops them through the Settings app, either on
demand or every day at a scheduled time.

Whitelisted apps, the companion app and core system packages are never stopped.`,
	Version:      Version,
	SilenceUsage: true,
}

var (
	configPath string
	serial     string
	verbose    bool
	jsonOutput bool
	refresh    bool
	fastFlag   bool
	fastFor    time.Duration
	startWait  time.Duration
	stopWait   time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&serial, "serial", "", "Device serial (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	listCmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the detection cache and use the short windows")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	countCmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the detection cache and use the short windows")
	installedCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	stopCmd.Flags().BoolVar(&fastFlag, "fast", false, "Use the reduced delays")
	whitelistListCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	logsShowCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	fastEnableCmd.Flags().DurationVar(&fastFor, "for", 0, "Expire after this long (0 never expires)")
	daemonStartCmd.Flags().DurationVar(&startWait, "wait", 5*time.Second, "How long to wait for the daemon to register")
	daemonStopCmd.Flags().DurationVar(&stopWait, "wait", 10*time.Second, "How long to wait for the daemon to exit")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	whitelistCmd.AddCommand(whitelistAddCmd, whitelistRemoveCmd, whitelistListCmd)
	scheduleCmd.AddCommand(scheduleShowCmd, scheduleSetCmd, scheduleEnableCmd, scheduleDisableCmd)
	daemonCmd.AddCommand(daemonRunCmd, daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonInstallCmd, daemonUninstallCmd)
	logsCmd.AddCommand(logsShowCmd, logsClearCmd, logsExportCmd)
	fastCmd.AddCommand(fastEnableCmd, fastDisableCmd)

	rootCmd.AddCommand(listCmd, countCmd, installedCmd, stopCmd, whitelistCmd, scheduleCmd,
		fastCmd, daemonCmd, logsCmd, versionCmd)
}

// withApp runs fn with a CLI app and a context canceled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cliLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printApps(apps []domain.AppRecord) {
	for _, r := range apps {
		mark := " "
		if r.IsWhitelisted {
			mark = "*"
		}
		fmt.Printf("  %s %-32s %s\n", mark, r.DisplayName, r.PackageID)
	}
}

// appLister is the part of the detector behind list and count.
type appLister interface {
	List(ctx context.Context) []domain.AppRecord
	ListForceRefresh(ctx context.Context) []domain.AppRecord
	Count(ctx context.Context) int
	CountForceRefresh(ctx context.Context) int
}

// runningApps runs exactly one detection pass.
func runningApps(ctx context.Context, d appLister, refresh bool) []domain.AppRecord {
	if refresh {
		return d.ListForceRefresh(ctx)
	}
	return d.List(ctx)
}

func runningCount(ctx context.Context, d appLister, refresh bool) int {
	if refresh {
		return d.CountForceRefresh(ctx)
	}
	return d.Count(ctx)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List apps running in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			apps := runningApps(ctx, a.detector, refresh)
			if jsonOutput {
				return printJSON(apps)
			}
			fmt.Printf("\n=== Running Apps (%d) ===\n", len(apps))
			printApps(apps)
			fmt.Println("=========================")
			return nil
		})
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of apps running in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			n := runningCount(ctx, a.detector, refresh)
			fmt.Println(n)
			return nil
		})
	},
}

var installedCmd = &cobra.Command{
	Use:   "installed",
	Short: "List user-installed apps (* marks whitelisted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			apps, err := a.detector.AllInstalled(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(apps)
			}
			fmt.Printf("\n=== Installed Apps (%d) ===\n", len(apps))
			printApps(apps)
			fmt.Println("===========================")
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [package...]",
	Short: "Force-stop running apps now",
	Long: `Detects running apps and force-stops every eligible one through the
Settings app. With package arguments only those packages are stopped.
Press Ctrl-C to cancel; the current package is abandoned and the device
returns to the home screen.`,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if !a.device.HasAssistiveAuthority(ctx) {
			return fmt.Errorf("%w: device is not connected or adb is not authorised", domain.ErrMissingAuthority)
		}

		fast := fastFlag
		if !cmd.Flags().Changed("fast") {
			var err error
			if fast, err = a.prefs.FastMode(time.Now()); err != nil {
				a.logger.Warn("failed to read fast mode", zap.Error(err))
			}
		}

		loopCtx, cancelLoop := context.WithCancel(context.Background())
		defer cancelLoop()
		go a.loop.Run(loopCtx)

		res, err := a.pipeline.Run(ctx, args, fast, func(pkg string, processed, total int) {
			fmt.Printf("  [%d/%d] stopped %s\n", processed, total, pkg)
		})
		if res == nil {
			return err
		}

		for _, o := range res.Batch.Outcomes {
			if o.State == domain.StepFailed {
				fmt.Printf("  skipped %s: %s\n", o.PackageID, o.Reason)
			}
		}
		switch {
		case err != nil:
			return err
		case res.Batch.Cancelled:
			fmt.Printf("\nCancelled after %d of %d apps\n", len(res.Batch.Stopped()), res.Batch.Total)
		case res.Plan.Len() == 0:
			fmt.Println("No apps to stop")
		default:
			fmt.Printf("\nStopped %d of %d apps, %d still running\n",
				len(res.Batch.Stopped()), res.Batch.Total, len(res.Remaining))
		}
		return nil
	})
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage apps that are never force-stopped",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <package>...",
	Short: "Whitelist packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, pkg := range args {
				if err := a.prefs.Whitelist().Add(pkg); err != nil {
					return err
				}
				fmt.Printf("whitelisted %s\n", pkg)
			}
			a.detector.ClearCache()
			return nil
		})
	},
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <package>...",
	Short: "Remove packages from the whitelist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, pkg := range args {
				if err := a.prefs.Whitelist().Remove(pkg); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", pkg)
			}
			a.detector.ClearCache()
			return nil
		})
	},
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List whitelisted apps, dropping uninstalled ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			apps, err := a.detector.Whitelisted(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(apps)
			}
			fmt.Printf("\n=== Whitelist (%d) ===\n", len(apps))
			printApps(apps)
			fmt.Println("======================")
			return nil
		})
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage the daily scheduled force-stop",
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			s := a.newScheduler(ctx, a.remoteAlarms())
			h, m := s.Time()

			fmt.Println("\n=== Schedule ===")
			fmt.Printf("Time: %s\n", prefs.FormatTime(h, m))
			if s.IsEnabled() {
				fmt.Println("Status: ENABLED")
				next := scheduler.NextFireTime(time.Now(), h, m)
				fmt.Printf("Next run: %s (in %s)\n", next.Format("Mon Jan 2 15:04"), time.Until(next).Round(time.Minute))
			} else {
				fmt.Println("Status: DISABLED")
			}
			if pid, ok := a.pidfile.Running(); ok {
				fmt.Printf("Daemon: running (pid %d)\n", pid)
			} else {
				fmt.Println("Daemon: NOT RUNNING (scheduled runs need 'memclear daemon start')")
			}
			fmt.Println("================")
			return nil
		})
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set HH:MM",
	Short: "Set the daily time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleChange(func(s *scheduler.Scheduler) error {
			if err := s.SetTimeString(args[0]); err != nil {
				return fmt.Errorf("%q: %w", args[0], err)
			}
			h, m := s.Time()
			fmt.Printf("schedule time set to %s\n", prefs.FormatTime(h, m))
			return nil
		})
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable the daily force-stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleChange(func(s *scheduler.Scheduler) error {
			if err := s.Enable(); err != nil {
				return err
			}
			h, m := s.Time()
			fmt.Printf("schedule enabled at %s\n", prefs.FormatTime(h, m))
			return nil
		})
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable the daily force-stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scheduleChange(func(s *scheduler.Scheduler) error {
			if err := s.Disable(); err != nil {
				return err
			}
			fmt.Println("schedule disabled")
			return nil
		})
	},
}

func scheduleChange(fn func(s *scheduler.Scheduler) error) error {
	return withApp(func(ctx context.Context, a *app) error {
		alarms := a.remoteAlarms()
		if err := fn(a.newScheduler(ctx, alarms)); err != nil {
			return err
		}
		if _, running := a.pidfile.Running(); !running {
			fmt.Println("note: the daemon is not running; start it with 'memclear daemon start'")
		} else if alarms.Delivered() {
			fmt.Println("daemon updated")
		}
		return nil
	})
}

var fastCmd = &cobra.Command{
	Use:   "fast",
	Short: "Manage fast mode (reduced delays)",
}

var fastEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable fast mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var expiry time.Time
			if fastFor > 0 {
				expiry = time.Now().Add(fastFor)
			}
			if err := a.prefs.SetPremium(true, expiry); err != nil {
				return err
			}
			if expiry.IsZero() {
				fmt.Println("fast mode enabled")
			} else {
				fmt.Printf("fast mode enabled until %s\n", expiry.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var fastDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable fast mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.prefs.SetPremium(false, time.Time{}); err != nil {
				return err
			}
			fmt.Println("fast mode disabled")
			return nil
		})
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or control the scheduling daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp(daemonLogger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alarms := infra.NewTimerAlarms(a.loop, logger.Named("Alarms"))
	watcher := daemon.NewWatcher(daemon.Config{HealthInterval: a.cfg.HealthInterval}, daemon.Deps{
		Loop:      a.loop,
		Alarms:    alarms,
		Scheduler: a.newScheduler(ctx, alarms),
		Boot:      infra.NewBootDetector(a.prefs, Version, logger.Named("BootReceiver")),
		Monitor:   daemon.NewDeviceMonitor(a.device, a.sink, logger.Named("DeviceMonitor")),
		PIDFile:   a.pidfile,
		Log:       a.sink,
	}, logger.Named("Daemon"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				logger.Info("received reload signal")
				watcher.Reload()
				continue
			}
			logger.Info("received shutdown signal")
			cancel()
			return
		}
	}()

	logger.Info("memclear daemon starting",
		zap.String("version", Version),
		zap.String("serial", a.cfg.Serial),
		zap.String("data_dir", a.cfg.DataDir))

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon failed", zap.Error(err))
		return err
	}
	return nil
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pidfile := infra.NewPIDFile(cfg.Layout().PIDFile())
		pid, err := daemon.StartDetached(pidfile, startWait, daemonFlags(cmd)...)
		if errors.Is(err, infra.ErrDaemonRunning) {
			fmt.Printf("daemon already running (pid %d)\n", pid)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to start daemon: %w (log: %s)", err, cfg.Log.File)
		}
		fmt.Printf("daemon started (pid %d)\nlog: %s\n", pid, cfg.Log.File)
		return nil
	},
}

// daemonFlags forwards the global flags the daemon child needs.
func daemonFlags(cmd *cobra.Command) []string {
	var args []string
	if cmd.Flags().Changed("config") {
		args = append(args, "--config", configPath)
	}
	if serial != "" {
		args = append(args, "--serial", serial)
	}
	return args
}

func newAutostart(cmd *cobra.Command, cfg *config.Config) (*infra.Autostart, error) {
	return infra.NewAutostart(cfg.Layout(), append([]string{"daemon", "run"}, daemonFlags(cmd)...)...)
}

var daemonInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Start the daemon automatically at login",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		autostart, err := newAutostart(cmd, cfg)
		if err != nil {
			return err
		}
		executable, err := os.Executable()
		if err != nil {
			return err
		}
		if err := autostart.Install(executable); err != nil {
			return fmt.Errorf("failed to install %s unit: %w", autostart.Kind(), err)
		}
		fmt.Printf("autostart installed (%s): %s\n", autostart.Kind(), autostart.Path())
		return nil
	},
}

var daemonUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the login autostart",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		autostart, err := newAutostart(cmd, cfg)
		if err != nil {
			return err
		}
		if err := autostart.Uninstall(); err != nil {
			return err
		}
		fmt.Println("autostart removed")
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		err = daemon.Stop(infra.NewPIDFile(cfg.Layout().PIDFile()), stopWait)
		if errors.Is(err, infra.ErrDaemonNotRunning) {
			fmt.Println("daemon not running")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println("daemon stopped")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if autostart, err := newAutostart(cmd, cfg); err == nil && autostart.IsInstalled() {
			fmt.Printf("Autostart: %s (%s)\n", autostart.Kind(), autostart.Path())
		}
		if pid, ok := infra.NewPIDFile(cfg.Layout().PIDFile()).Running(); ok {
			fmt.Printf("Status: RUNNING (pid %d)\nLog: %s\n", pid, cfg.Log.File)
			return nil
		}
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'memclear daemon start' to enable scheduled runs.")
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the error log",
}

var logsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show log entries, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			entries := a.sink.Entries()
			if jsonOutput {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("no log entries")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s %-7s %s: %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Level, e.Tag, e.Message)
				if e.ExceptionMessage != "" {
					line += " (" + e.ExceptionMessage + ")"
				}
				fmt.Println(strings.TrimSpace(line))
			}
			return nil
		})
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.sink.Clear(); err != nil {
				return err
			}
			fmt.Println("log cleared")
			return nil
		})
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the log as text to file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			text := a.sink.Format()
			if len(args) == 0 {
				fmt.Print(text)
				return nil
			}
			if err := os.WriteFile(args[0], []byte(text), 0600); err != nil {
				return fmt.Errorf("failed to export log: %w", err)
			}
			fmt.Printf("exported %d entries to %s\n", len(a.sink.Entries()), args[0])
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("memclear %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
