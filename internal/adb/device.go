package adb

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// restrictedProcessSDK is the first API level (Android 10) that hides other
// apps' processes from unprivileged callers.
const restrictedProcessSDK = 29

// Device implements the domain host ports for one adb-connected device.
type Device struct {
	runner Runner
	*Tree
	logger *zap.Logger

	mu   sync.Mutex
	sdk  int
	zone *time.Location
}

// NewDevice creates a Device over runner.
func NewDevice(runner Runner, logger *zap.Logger) *Device {
	return &Device{
		runner: runner,
		Tree:   NewTree(runner, logger),
		logger: logger,
	}
}

func (d *Device) shell(ctx context.Context, args ...string) (string, error) {
	return d.runner.Run(ctx, append([]string{"shell"}, args...)...)
}

// InstalledApps lists user and system packages.
func (d *Device) InstalledApps(ctx context.Context) ([]domain.InstalledApp, error) {
	user, err := d.shell(ctx, "pm", "list", "packages", "-3")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user packages")
	}
	system, err := d.shell(ctx, "pm", "list", "packages", "-s")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list system packages")
	}

	var apps []domain.InstalledApp
	for _, id := range parsePackageList(user) {
		apps = append(apps, domain.InstalledApp{PackageID: id, Label: humanizePackage(id)})
	}
	for _, id := range parsePackageList(system) {
		apps = append(apps, domain.InstalledApp{PackageID: id, Label: humanizePackage(id), IsSystem: true})
	}
	return apps, nil
}

// AppInfo resolves one package from `dumpsys package`.
func (d *Device) AppInfo(ctx context.Context, packageID string) (*domain.InstalledApp, error) {
	out, err := d.shell(ctx, "dumpsys", "package", packageID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query package %s", packageID)
	}
	return parsePackageDump(packageID, out)
}

// QueryUsage returns records with activity at or after start.
func (d *Device) QueryUsage(ctx context.Context, start, end time.Time) ([]domain.UsageRecord, error) {
	out, err := d.shell(ctx, "dumpsys", "usagestats")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}

	var records []domain.UsageRecord
	for _, r := range parseUsageStats(out, d.location(ctx)) {
		if r.LastUsed.Before(start) && r.LastVisible.Before(start) {
			continue
		}
		if r.LastUsed.After(end) && r.LastVisible.After(end) {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// RunningProcesses lists app processes with their importance.
func (d *Device) RunningProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	out, err := d.shell(ctx, "dumpsys", "activity", "processes")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list processes")
	}
	return parseProcesses(out), nil
}

// RunningServices lists running services and their owning packages.
func (d *Device) RunningServices(ctx context.Context) ([]domain.ServiceInfo, error) {
	out, err := d.shell(ctx, "dumpsys", "activity", "services")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list services")
	}
	return parseServices(out), nil
}

// RestrictsProcessList reports whether the device runs Android 10 or later.
func (d *Device) RestrictsProcessList(ctx context.Context) bool {
	return d.sdkLevel(ctx) >= restrictedProcessSDK
}

// OpenAppDetails opens the application details settings page.
func (d *Device) OpenAppDetails(ctx context.Context, packageID string) error {
	out, err := d.shell(ctx, "am", "start",
		"-a", "android.settings.APPLICATION_DETAILS_SETTINGS",
		"-d", shellQuote("package:"+packageID))
	if err != nil {
		return errors.Wrapf(err, "failed to open settings for %s", packageID)
	}
	if strings.Contains(out, "Error:") {
		return errors.Errorf("failed to open settings for %s: %s", packageID, strings.TrimSpace(out))
	}
	return nil
}

// GoHome sends the home key.
func (d *Device) GoHome(ctx context.Context) error {
	_, err := d.shell(ctx, "input", "keyevent", "KEYCODE_HOME")
	return errors.Wrap(err, "failed to go home")
}

// HasAssistiveAuthority reports whether the adb session is authorised.
func (d *Device) HasAssistiveAuthority(ctx context.Context) bool {
	out, err := runWithRetry(ctx, d.runner, "get-state")
	if err != nil {
		d.logger.Warn("device not available", zap.Error(err))
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// HasUsageAuthority is granted to the shell user whenever the session is authorised.
func (d *Device) HasUsageAuthority(ctx context.Context) bool {
	return d.HasAssistiveAuthority(ctx)
}

// Notify posts a notification on the device.
func (d *Device) Notify(ctx context.Context, title, body string) error {
	_, err := d.shell(ctx, "cmd", "notification", "post",
		"-S", "bigtext", "-t", shellQuote(title), "memclear", shellQuote(body))
	return errors.Wrap(err, "failed to post notification")
}

// DeviceInfo reads build properties.
func (d *Device) DeviceInfo(ctx context.Context) (*domain.DeviceInfo, error) {
	out, err := d.shell(ctx, "getprop")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read device properties")
	}
	props := parseGetprop(out)
	sdk, _ := strconv.Atoi(props["ro.build.version.sdk"])
	return &domain.DeviceInfo{
		Manufacturer:   props["ro.product.manufacturer"],
		Model:          props["ro.product.model"],
		Device:         props["ro.product.device"],
		AndroidVersion: props["ro.build.version.release"],
		APILevel:       sdk,
		Brand:          props["ro.product.brand"],
	}, nil
}

func (d *Device) sdkLevel(ctx context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sdk > 0 {
		return d.sdk
	}
	out, err := d.shell(ctx, "getprop", "ro.build.version.sdk")
	if err != nil {
		d.logger.Warn("failed to read sdk level", zap.Error(err))
		return 0
	}
	d.sdk, _ = strconv.Atoi(strings.TrimSpace(out))
	return d.sdk
}

// location returns the device's UTC offset as a fixed zone, used to read
// usagestats timestamps which are printed in device local time.
func (d *Device) location(ctx context.Context) *time.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.zone != nil {
		return d.zone
	}
	out, err := d.shell(ctx, "date", "+%z")
	if err != nil {
		d.logger.Warn("failed to read device timezone, using local", zap.Error(err))
		return time.Local
	}
	d.zone = parseZone(strings.TrimSpace(out))
	return d.zone
}

// parseZone parses "+0900" style offsets.
func parseZone(s string) *time.Location {
	t, err := time.Parse("-0700", s)
	if err != nil {
		return time.Local
	}
	_, offset := t.Zone()
	return time.FixedZone(s, offset)
}

var (
	_ domain.PackageCatalog     = (*Device)(nil)
	_ domain.UsageStatsSource   = (*Device)(nil)
	_ domain.ProcessSource      = (*Device)(nil)
	_ domain.ServiceSource      = (*Device)(nil)
	_ domain.PlatformInfo       = (*Device)(nil)
	_ domain.Navigator          = (*Device)(nil)
	_ domain.AccessibilityTree  = (*Device)(nil)
	_ domain.AuthorityChecker   = (*Device)(nil)
	_ domain.Notifier           = (*Device)(nil)
	_ domain.DeviceInfoProvider = (*Device)(nil)
)
