package detector

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/policy"
)

const selfPackage = "com.nomor.memoryclear"

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeCatalog struct {
	apps map[string]domain.InstalledApp
	err  error
}

func (f *fakeCatalog) InstalledApps(ctx context.Context) ([]domain.InstalledApp, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.InstalledApp, 0, len(f.apps))
	for _, a := range f.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageID < out[j].PackageID })
	return out, nil
}

func (f *fakeCatalog) AppInfo(ctx context.Context, packageID string) (*domain.InstalledApp, error) {
	a, ok := f.apps[packageID]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return &a, nil
}

// fakeUsage returns records keyed by window length, or fallback for any window.
type fakeUsage struct {
	byWindow map[time.Duration][]domain.UsageRecord
	fallback []domain.UsageRecord
	err      error
	windows  []time.Duration
}

func (f *fakeUsage) QueryUsage(ctx context.Context, start, end time.Time) ([]domain.UsageRecord, error) {
	f.windows = append(f.windows, end.Sub(start))
	if f.err != nil {
		return nil, f.err
	}
	if recs, ok := f.byWindow[end.Sub(start)]; ok {
		return recs, nil
	}
	return f.fallback, nil
}

type fakeProcesses struct {
	procs []domain.ProcessInfo
	err   error
	calls int
}

func (f *fakeProcesses) RunningProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	f.calls++
	return f.procs, f.err
}

type fakeServices struct {
	services []domain.ServiceInfo
	err      error
}

func (f *fakeServices) RunningServices(ctx context.Context) ([]domain.ServiceInfo, error) {
	return f.services, f.err
}

type fakePlatform struct{ restricts bool }

func (f *fakePlatform) RestrictsProcessList(ctx context.Context) bool { return f.restricts }

type memWhitelist struct{ set map[string]bool }

func newMemWhitelist(ids ...string) *memWhitelist {
	w := &memWhitelist{set: map[string]bool{}}
	for _, id := range ids {
		w.set[id] = true
	}
	return w
}

func (w *memWhitelist) Contains(id string) bool { return w.set[id] }
func (w *memWhitelist) Remove(id string) error  { delete(w.set, id); return nil }
func (w *memWhitelist) List() ([]string, error) {
	out := make([]string, 0, len(w.set))
	for id := range w.set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

type fixture struct {
	clock     *fakeClock
	catalog   *fakeCatalog
	usage     *fakeUsage
	processes *fakeProcesses
	services  *fakeServices
	platform  *fakePlatform
	whitelist *memWhitelist
}

func newFixture() *fixture {
	return &fixture{
		clock:     &fakeClock{now: t0},
		catalog:   &fakeCatalog{apps: map[string]domain.InstalledApp{}},
		usage:     &fakeUsage{byWindow: map[time.Duration][]domain.UsageRecord{}},
		processes: &fakeProcesses{},
		services:  &fakeServices{},
		platform:  &fakePlatform{restricts: true},
		whitelist: newMemWhitelist(),
	}
}

func (f *fixture) install(id, label string) {
	f.catalog.apps[id] = domain.InstalledApp{PackageID: id, Label: label}
}

func (f *fixture) detector() *Detector {
	filter := policy.NewFilter(selfPackage, f.whitelist, nil)
	return New(Sources{
		Catalog:   f.catalog,
		Usage:     f.usage,
		Processes: f.processes,
		Services:  f.services,
		Platform:  f.platform,
	}, filter, f.whitelist, f.clock, DefaultConfig(), zap.NewNop())
}

func recent(id string, ago time.Duration) domain.UsageRecord {
	return domain.UsageRecord{PackageID: id, LastUsed: t0.Add(-ago), LastVisible: t0.Add(-ago)}
}

func packageIDs(apps []domain.AppRecord) []string {
	out := make([]string, len(apps))
	for i, a := range apps {
		out[i] = a.PackageID
	}
	return out
}

func TestList_FusesAllStrategies(t *testing.T) {
	f := newFixture()
	f.install("com.a", "Zebra Music")
	f.install("com.b", "alpha browser")
	f.install("com.c", "Camera Plus")
	f.install("com.d", "Diary")
	f.install("com.e", "email")
	f.install(selfPackage, "Memory Clear")

	f.usage.byWindow[10*time.Minute] = []domain.UsageRecord{recent("com.a", time.Minute), recent("com.b", time.Minute)}
	f.processes.procs = []domain.ProcessInfo{
		{PID: 1, Importance: domain.ImportanceForeground, Packages: []string{"com.b"}},
		{PID: 2, Importance: domain.ImportanceVisible, Packages: []string{"com.c"}},
	}
	f.usage.byWindow[5*time.Minute] = []domain.UsageRecord{
		recent("com.c", time.Minute), recent("com.d", time.Minute), recent(selfPackage, time.Minute),
	}
	f.services.services = []domain.ServiceInfo{{PackageID: "com.e", ClassName: ".SyncService"}}
	f.whitelist.set["com.d"] = true

	apps := f.detector().List(context.Background())

	assert.Equal(t, []string{"com.b", "com.c", "com.e", "com.a"}, packageIDs(apps))
	assert.Equal(t, "alpha browser", apps[0].DisplayName)
}

func TestList_NoDuplicatesAndSorted(t *testing.T) {
	f := newFixture()
	f.install("com.x", "beta")
	f.install("com.y", "Alpha")
	f.install("com.z", "alpha two")
	f.processes.procs = []domain.ProcessInfo{
		{PID: 1, Importance: domain.ImportanceForeground, Packages: []string{"com.x", "com.y"}},
		{PID: 2, Importance: domain.ImportanceForeground, Packages: []string{"com.y", "com.z", "com.x"}},
	}
	f.services.services = []domain.ServiceInfo{{PackageID: "com.x"}, {PackageID: "com.z"}}

	apps := f.detector().List(context.Background())

	assert.Equal(t, []string{"com.y", "com.z", "com.x"}, packageIDs(apps))
}

func TestList_ProcessImportanceCutoff(t *testing.T) {
	f := newFixture()
	f.install("com.fg", "Foreground")
	f.install("com.cached", "Cached")
	f.install("com.svc", "Service proc")
	f.processes.procs = []domain.ProcessInfo{
		{PID: 1, Importance: domain.ImportanceForeground, Packages: []string{"com.fg"}},
		{PID: 2, Importance: domain.ImportanceService, Packages: []string{"com.svc"}},
		{PID: 3, Importance: domain.ImportanceCached, Packages: []string{"com.cached"}},
	}

	apps := f.detector().List(context.Background())
	assert.Equal(t, []string{"com.fg"}, packageIDs(apps))
}

func TestList_StrategyFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.install("com.svc", "Sync")
	f.install("com.proc", "Proc")
	f.usage.err = errors.New("usage stats unavailable")
	f.processes.procs = []domain.ProcessInfo{{PID: 1, Importance: domain.ImportanceForeground, Packages: []string{"com.proc"}}}
	f.services.services = []domain.ServiceInfo{{PackageID: "com.svc"}}

	apps := f.detector().List(context.Background())
	assert.Equal(t, []string{"com.proc", "com.svc"}, packageIDs(apps))
}

func TestList_SkipsVanishedPackages(t *testing.T) {
	f := newFixture()
	f.install("com.here", "Here")
	f.services.services = []domain.ServiceInfo{{PackageID: "com.gone"}, {PackageID: "com.here"}}

	apps := f.detector().List(context.Background())
	assert.Equal(t, []string{"com.here"}, packageIDs(apps))
}

func TestList_ExtendedScanOnlyOnRestrictedPlatform(t *testing.T) {
	f := newFixture()
	f.install("com.recent", "Recent")
	f.platform.restricts = false
	f.usage.byWindow[5*time.Minute] = []domain.UsageRecord{recent("com.recent", time.Minute)}

	d := f.detector()
	assert.Empty(t, d.List(context.Background()))
	assert.Equal(t, []time.Duration{10 * time.Minute}, f.usage.windows)
}

func TestList_CacheWithinTTL(t *testing.T) {
	f := newFixture()
	f.install("com.music", "Music")
	f.processes.procs = []domain.ProcessInfo{{PID: 1, Importance: domain.ImportanceForeground, Packages: []string{"com.music"}}}
	d := f.detector()
	ctx := context.Background()

	l0 := d.List(ctx)
	require.Equal(t, 1, f.processes.calls)

	f.clock.now = t0.Add(2000 * time.Millisecond)
	l1 := d.List(ctx)
	assert.Equal(t, l0, l1)
	assert.Equal(t, 1, f.processes.calls)

	// Returned slices are copies
	l1[0].DisplayName = "mutated"
	assert.Equal(t, "Music", d.List(ctx)[0].DisplayName)

	f.clock.now = t0.Add(4000 * time.Millisecond)
	d.List(ctx)
	assert.Equal(t, 2, f.processes.calls)
}

func TestClearCache_ForcesRefetch(t *testing.T) {
	f := newFixture()
	d := f.detector()
	ctx := context.Background()

	d.List(ctx)
	d.ClearCache()
	d.List(ctx)
	assert.Equal(t, 2, f.processes.calls)
}

func TestListForceRefresh_NarrowWindow(t *testing.T) {
	f := newFixture()
	f.install("com.old", "Three minutes ago")
	rec := recent("com.old", 3*time.Minute)
	rec.TotalForeground = 5 * time.Minute
	f.usage.fallback = []domain.UsageRecord{rec}
	d := f.detector()
	ctx := context.Background()

	assert.Equal(t, []string{"com.old"}, packageIDs(d.List(ctx)))

	apps := d.ListForceRefresh(ctx)
	assert.Empty(t, apps)
	assert.Contains(t, f.usage.windows, 2*time.Minute)
	assert.Contains(t, f.usage.windows, 1*time.Minute)

	// Refresh result replaces the cache
	assert.Empty(t, d.List(ctx))
	assert.Equal(t, 0, d.Count(ctx))
}

func TestListForceRefresh_ExtendedRequiresUsedAndVisible(t *testing.T) {
	f := newFixture()
	f.install("com.both", "Both")
	f.install("com.usedonly", "Used only")
	usedOnly := domain.UsageRecord{PackageID: "com.usedonly", LastUsed: t0.Add(-30 * time.Second), LastVisible: t0.Add(-10 * time.Minute)}
	f.usage.byWindow[time.Minute] = []domain.UsageRecord{recent("com.both", 30*time.Second), usedOnly}

	apps := f.detector().ListForceRefresh(context.Background())
	assert.Equal(t, []string{"com.both"}, packageIDs(apps))
}

func TestList_NeverReturnsSelf(t *testing.T) {
	f := newFixture()
	f.install(selfPackage, "Memory Clear")
	f.install("com.android.systemui", "System UI")
	f.usage.fallback = []domain.UsageRecord{recent(selfPackage, time.Second)}
	f.processes.procs = []domain.ProcessInfo{{PID: 1, Importance: domain.ImportanceForeground, Packages: []string{selfPackage, "com.android.systemui"}}}
	f.services.services = []domain.ServiceInfo{{PackageID: selfPackage}}

	d := f.detector()
	assert.Empty(t, d.List(context.Background()))
	assert.Empty(t, d.ListForceRefresh(context.Background()))
}

func TestAllInstalled(t *testing.T) {
	f := newFixture()
	f.install("com.b", "banana")
	f.install("com.a", "Apple")
	f.catalog.apps["com.sys"] = domain.InstalledApp{PackageID: "com.sys", Label: "System", IsSystem: true}
	f.whitelist.set["com.b"] = true

	apps, err := f.detector().AllInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "com.a", apps[0].PackageID)
	assert.False(t, apps[0].IsWhitelisted)
	assert.Equal(t, "com.b", apps[1].PackageID)
	assert.True(t, apps[1].IsWhitelisted)
}

func TestAllInstalled_CatalogError(t *testing.T) {
	f := newFixture()
	f.catalog.err = errors.New("pm failed")

	_, err := f.detector().AllInstalled(context.Background())
	assert.Error(t, err)
}

func TestWhitelisted_PurgesVanished(t *testing.T) {
	f := newFixture()
	f.install("com.bank", "Bank")
	f.whitelist.set["com.bank"] = true
	f.whitelist.set["com.uninstalled"] = true

	apps, err := f.detector().Whitelisted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"com.bank"}, packageIDs(apps))
	assert.True(t, apps[0].IsWhitelisted)
	assert.False(t, f.whitelist.Contains("com.uninstalled"))
}
