// Package detector finds the applications that are currently running by fusing
// several host signals, each of which the OS restricts in its own way.
package detector

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/nomor/memclear/internal/domain"
)

// Config holds detection windows and the cache TTL.
type Config struct {
	CacheTTL time.Duration

	// Usage sweep windows.
	UsageWindow        time.Duration
	RefreshUsageWindow time.Duration

	// Extended recent-usage scan windows.
	ExtendedWindow        time.Duration
	RefreshExtendedWindow time.Duration
}

// DefaultConfig returns the production windows.
func DefaultConfig() Config {
	return Config{
		CacheTTL:              3 * time.Second,
		UsageWindow:           10 * time.Minute,
		RefreshUsageWindow:    2 * time.Minute,
		ExtendedWindow:        5 * time.Minute,
		RefreshExtendedWindow: 1 * time.Minute,
	}
}

// Whitelist is the subset of the persistent whitelist the detector needs.
type Whitelist interface {
	Contains(packageID string) bool
	List() ([]string, error)
	Remove(packageID string) error
}

// Sources bundles the host signals.
type Sources struct {
	Catalog   domain.PackageCatalog
	Usage     domain.UsageStatsSource
	Processes domain.ProcessSource
	Services  domain.ServiceSource
	Platform  domain.PlatformInfo
}

// snapshot is the single cache slot. Never mutated after publication.
type snapshot struct {
	apps []domain.AppRecord
	at   time.Time
}

// Detector implements the running-apps fusion with a short-lived cache.
type Detector struct {
	src       Sources
	filter    domain.Eligibility
	whitelist Whitelist
	clock     domain.Clock
	config    Config
	cache     atomic.Pointer[snapshot]
	logger    *zap.Logger
}

// New creates a Detector.
func New(src Sources, filter domain.Eligibility, whitelist Whitelist, clock domain.Clock, config Config, logger *zap.Logger) *Detector {
	return &Detector{
		src:       src,
		filter:    filter,
		whitelist: whitelist,
		clock:     clock,
		config:    config,
		logger:    logger,
	}
}

// List returns the running apps, served from cache within CacheTTL.
func (d *Detector) List(ctx context.Context) []domain.AppRecord {
	if snap := d.cache.Load(); snap != nil && d.clock.Now().Sub(snap.at) < d.config.CacheTTL {
		d.logger.Debug("returning cached running apps", zap.Int("count", len(snap.apps)))
		return cloneRecords(snap.apps)
	}
	return d.detect(ctx, false)
}

// ListForceRefresh clears the cache and detects with the narrow post-stop windows.
func (d *Detector) ListForceRefresh(ctx context.Context) []domain.AppRecord {
	d.ClearCache()
	return d.detect(ctx, true)
}

// Count returns len(List).
func (d *Detector) Count(ctx context.Context) int {
	return len(d.List(ctx))
}

// CountForceRefresh returns len(ListForceRefresh).
func (d *Detector) CountForceRefresh(ctx context.Context) int {
	return len(d.ListForceRefresh(ctx))
}

// ClearCache drops the cached result.
func (d *Detector) ClearCache() {
	d.cache.Store(nil)
}

func (d *Detector) detect(ctx context.Context, refresh bool) []domain.AppRecord {
	now := d.clock.Now()
	c := &collector{d: d, ctx: ctx, seen: make(map[string]bool)}

	strategies := []struct {
		name string
		run  func(*collector, time.Time, bool) error
	}{
		{"usage", (*collector).fromUsage},
		{"processes", (*collector).fromProcesses},
		{"extended", (*collector).fromExtended},
		{"services", (*collector).fromServices},
	}
	for _, s := range strategies {
		before := len(c.apps)
		if err := s.run(c, now, refresh); err != nil {
			d.logger.Warn("detection strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err))
			continue
		}
		d.logger.Debug("detection strategy done",
			zap.String("strategy", s.name),
			zap.Int("added", len(c.apps)-before))
	}

	apps := sortByName(c.apps)
	d.cache.Store(&snapshot{apps: apps, at: d.clock.Now()})

	d.logger.Info("detected running apps",
		zap.Int("count", len(apps)),
		zap.Bool("force_refresh", refresh))
	return cloneRecords(apps)
}

// collector accumulates unique, eligible records in first-seen order.
type collector struct {
	d    *Detector
	ctx  context.Context
	apps []domain.AppRecord
	seen map[string]bool
}

func (c *collector) add(packageID string) {
	if packageID == "" || c.seen[packageID] {
		return
	}
	if !c.d.filter.IsEligible(packageID) {
		return
	}
	info, err := c.d.src.Catalog.AppInfo(c.ctx, packageID)
	if err != nil {
		if !errors.Is(err, domain.ErrPackageNotFound) {
			c.d.logger.Debug("failed to resolve package",
				zap.String("package", packageID),
				zap.Error(err))
		}
		return
	}
	c.seen[packageID] = true
	c.apps = append(c.apps, domain.AppRecord{
		PackageID:       packageID,
		DisplayName:     displayName(info),
		IsUserInstalled: !info.IsSystem,
	})
}

func (c *collector) fromUsage(now time.Time, refresh bool) error {
	window := c.d.config.UsageWindow
	if refresh {
		window = c.d.config.RefreshUsageWindow
	}
	start := now.Add(-window)

	records, err := c.d.src.Usage.QueryUsage(c.ctx, start, now)
	if err != nil {
		return err
	}
	for _, r := range records {
		var active bool
		if refresh {
			active = r.LastUsed.After(start) || r.LastVisible.After(start)
		} else {
			active = r.LastUsed.After(start) || r.TotalForeground > 0
		}
		if active {
			c.add(r.PackageID)
		}
	}
	return nil
}

func (c *collector) fromProcesses(now time.Time, refresh bool) error {
	procs, err := c.d.src.Processes.RunningProcesses(c.ctx)
	if err != nil {
		return err
	}
	for _, p := range procs {
		if p.Importance > domain.ImportanceVisible {
			continue
		}
		for _, pkg := range p.Packages {
			c.add(pkg)
		}
	}
	return nil
}

func (c *collector) fromExtended(now time.Time, refresh bool) error {
	if !c.d.src.Platform.RestrictsProcessList(c.ctx) {
		return nil
	}
	window := c.d.config.ExtendedWindow
	if refresh {
		window = c.d.config.RefreshExtendedWindow
	}
	start := now.Add(-window)

	installed, err := c.d.src.Catalog.InstalledApps(c.ctx)
	if err != nil {
		return err
	}
	records, err := c.d.src.Usage.QueryUsage(c.ctx, start, now)
	if err != nil {
		return err
	}
	byPackage := make(map[string]domain.UsageRecord, len(records))
	for _, r := range records {
		byPackage[r.PackageID] = r
	}

	for _, app := range installed {
		if app.IsSystem {
			continue
		}
		r, ok := byPackage[app.PackageID]
		if !ok {
			continue
		}
		used, visible := r.LastUsed.After(start), r.LastVisible.After(start)
		if (refresh && used && visible) || (!refresh && (used || visible)) {
			c.add(app.PackageID)
		}
	}
	return nil
}

func (c *collector) fromServices(now time.Time, refresh bool) error {
	services, err := c.d.src.Services.RunningServices(c.ctx)
	if err != nil {
		return err
	}
	for _, s := range services {
		c.add(s.PackageID)
	}
	return nil
}

func displayName(info *domain.InstalledApp) string {
	if info.Label != "" {
		return info.Label
	}
	return info.PackageID
}

// sortByName returns a copy stably sorted by case-folded display name.
func sortByName(apps []domain.AppRecord) []domain.AppRecord {
	fold := cases.Fold()
	keys := make(map[string]string, len(apps))
	for _, a := range apps {
		keys[a.PackageID] = fold.String(a.DisplayName)
	}
	out := cloneRecords(apps)
	sort.SliceStable(out, func(i, j int) bool {
		return keys[out[i].PackageID] < keys[out[j].PackageID]
	})
	return out
}

func cloneRecords(apps []domain.AppRecord) []domain.AppRecord {
	if apps == nil {
		return []domain.AppRecord{}
	}
	out := make([]domain.AppRecord, len(apps))
	copy(out, apps)
	return out
}
