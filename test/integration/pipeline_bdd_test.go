//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/adb"
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
	"github.com/nomor/memclear/test/fixtures"
)

const selfPackage = "com.nomor.memoryclear"

var quick = usecase.DelayProfile{
	Settings: time.Millisecond,
	Confirm:  time.Millisecond,
	Process:  time.Millisecond,
}

// harness wires the real components over a scripted device.
type harness struct {
	layout     infra.Layout
	phone      *fixtures.FakeDevice
	prefs      *prefs.Preferences
	sink       *errlog.Sink
	loop       *looper.Loop
	detector   *detector.Detector
	controller *usecase.ForceStopController
	pipeline   *usecase.StopPipeline
	alarms     *infra.TimerAlarms
	scheduler  *scheduler.Scheduler
}

func newHarness(phone *fixtures.FakeDevice) *harness {
	dir, err := os.MkdirTemp("", "memclear-integration-*")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)

	st, err := store.Open(store.KindFile, dir)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(st.Close)

	sink, err := errlog.New(st)
	Expect(err).NotTo(HaveOccurred())
	logger := zap.New(errlog.NewCore(sink, zap.WarnLevel))

	ctx, cancel := context.WithCancel(context.Background())
	DeferCleanup(cancel)

	h := &harness{layout: infra.Layout{DataDir: dir}, phone: phone, prefs: prefs.New(st), sink: sink}
	h.loop = looper.New(logger)
	go h.loop.Run(ctx)

	device := adb.NewDevice(phone, logger)
	whitelist := h.prefs.Whitelist()
	filter := policy.NewFilter(selfPackage, whitelist, []string{"com.example.keep*"})

	h.detector = detector.New(detector.Sources{
		Catalog:   device,
		Usage:     device,
		Processes: device,
		Services:  device,
		Platform:  device,
	}, filter, whitelist, h.loop, detector.DefaultConfig(), logger)

	h.controller = usecase.NewForceStopController(h.loop, device, uidriver.New(device, logger), filter,
		usecase.ControllerConfig{Normal: quick, Fast: quick}, logger,
		usecase.WithBatchLock(infra.NewBatchLock(h.layout.BatchLock())))
	h.pipeline = usecase.NewStopPipeline(h.detector, h.controller, filter, logger)

	h.alarms = infra.NewTimerAlarms(h.loop, logger)
	h.scheduler = scheduler.New(ctx, scheduler.Deps{
		Loop:       h.loop,
		Alarms:     h.alarms,
		Prefs:      h.prefs,
		Authority:  device,
		Detector:   h.detector,
		Controller: h.controller,
		Filter:     filter,
		Notifier:   device,
	}, scheduler.Config{
		WarningLead:         5 * time.Minute,
		CompletionDelay:     20 * time.Millisecond,
		FastCompletionDelay: 10 * time.Millisecond,
	}, logger)
	h.alarms.SetHandler(h.scheduler.OnAlarm)
	return h
}

func packageIDs(apps []domain.AppRecord) []string {
	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.PackageID)
	}
	return ids
}

func newPhone() *fixtures.FakeDevice {
	return fixtures.NewFakeDevice().
		Install("com.spotify.music", "com.whatsapp", "com.zhiliaoapp.musically", "com.example.keepalive", selfPackage).
		InstallSystem("com.android.systemui", "com.android.chrome", "com.google.android.gms").
		Launch("com.spotify.music", "com.whatsapp", "com.zhiliaoapp.musically", "com.example.keepalive",
			selfPackage, "com.android.systemui", "com.android.chrome", "com.google.android.gms")
}

var _ = Describe("Running app detection", func() {
	It("lists eligible running apps sorted by name", func() {
		h := newHarness(newPhone())
		Expect(h.prefs.Whitelist().Add("com.whatsapp")).To(Succeed())

		apps := h.detector.List(context.Background())

		// Self, critical system, configured pattern and whitelisted apps never show up
		Expect(packageIDs(apps)).To(Equal([]string{
			"com.android.chrome",
			"com.spotify.music",
			"com.zhiliaoapp.musically",
		}))
		Expect(apps[0].IsUserInstalled).To(BeFalse())
		Expect(apps[1].IsUserInstalled).To(BeTrue())
		Expect(h.detector.Count(context.Background())).To(Equal(3))
	})

	It("marks whitelisted apps in the installed listing and purges uninstalled ones", func() {
		phone := newPhone()
		h := newHarness(phone)
		wl := h.prefs.Whitelist()
		Expect(wl.Add("com.whatsapp")).To(Succeed())
		Expect(wl.Add("com.zhiliaoapp.musically")).To(Succeed())
		phone.Uninstall("com.zhiliaoapp.musically")

		installed, err := h.detector.AllInstalled(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(packageIDs(installed)).NotTo(ContainElement("com.android.chrome"))
		for _, app := range installed {
			Expect(app.IsWhitelisted).To(Equal(app.PackageID == "com.whatsapp"), app.PackageID)
		}

		whitelisted, err := h.detector.Whitelisted(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(packageIDs(whitelisted)).To(Equal([]string{"com.whatsapp"}))
		Expect(wl.List()).To(Equal([]string{"com.whatsapp"}))
	})
})

var _ = Describe("Stop pipeline", func() {
	It("force-stops every eligible app and returns home", func() {
		phone := newPhone()
		h := newHarness(phone)
		Expect(h.prefs.Whitelist().Add("com.whatsapp")).To(Succeed())

		var progress []int
		res, err := h.pipeline.Run(context.Background(), nil, false, func(pkg string, processed, total int) {
			progress = append(progress, processed)
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(phone.Stopped()).To(Equal([]string{
			"com.android.chrome",
			"com.spotify.music",
			"com.zhiliaoapp.musically",
		}))
		Expect(progress).To(Equal([]int{1, 2, 3}))
		Expect(res.Batch.Failed()).To(BeEmpty())
		Expect(res.Remaining).To(BeEmpty())
		Expect(phone.OnHomeScreen()).To(BeTrue())
		Expect(phone.Running()).To(ContainElements(selfPackage, "com.android.systemui", "com.example.keepalive"))
		Expect(h.controller.IsProcessing()).To(BeFalse())
	})

	It("skips a package whose settings page never renders and continues", func() {
		phone := newPhone()
		phone.Freeze("com.spotify.music")
		h := newHarness(phone)
		Expect(h.prefs.Whitelist().Add("com.whatsapp")).To(Succeed())

		res, err := h.pipeline.Run(context.Background(), nil, true, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Batch.Failed()).To(Equal([]string{"com.spotify.music"}))
		Expect(res.Batch.Stopped()).To(Equal([]string{"com.android.chrome", "com.zhiliaoapp.musically"}))
		Expect(packageIDs(res.Remaining)).To(Equal([]string{"com.spotify.music"}))
	})

	It("stops only the requested packages and never the protected ones", func() {
		phone := newPhone()
		h := newHarness(phone)

		res, err := h.pipeline.Run(context.Background(),
			[]string{"com.whatsapp", selfPackage, "com.android.systemui", "com.whatsapp"}, false, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Plan.Packages).To(Equal([]string{"com.whatsapp"}))
		Expect(phone.Stopped()).To(Equal([]string{"com.whatsapp"}))
	})

	It("rejects a second batch while one is running", func() {
		h := newHarness(newPhone())

		done, err := h.controller.Start(context.Background(), domain.BatchPlan{Packages: []string{"com.whatsapp"}}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = h.controller.Start(context.Background(), domain.BatchPlan{Packages: []string{"com.spotify.music"}}, nil)
		Expect(err).To(MatchError(domain.ErrBusy))

		Eventually(done).Should(Receive())
	})

	It("rejects a batch from another process sharing the data directory", func() {
		h := newHarness(newPhone())
		slow := usecase.DelayProfile{Settings: 200 * time.Millisecond, Confirm: time.Millisecond, Process: time.Millisecond}
		device := adb.NewDevice(h.phone, zap.NewNop())
		// A CLI invocation has its own controller and its own handle on the lock
		cli := usecase.NewForceStopController(h.loop, device, uidriver.New(device, zap.NewNop()),
			policy.NewFilter(selfPackage, nil, nil), usecase.ControllerConfig{Normal: slow, Fast: slow},
			zap.NewNop(), usecase.WithBatchLock(infra.NewBatchLock(h.layout.BatchLock())))

		done, err := cli.Start(context.Background(), domain.BatchPlan{Packages: []string{"com.whatsapp"}}, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = h.pipeline.Run(context.Background(), nil, false, nil)
		Expect(err).To(MatchError(domain.ErrBusy))
		Expect(h.controller.IsProcessing()).To(BeFalse())

		Eventually(done, 5*time.Second).Should(Receive())
		Expect(h.phone.Stopped()).To(Equal([]string{"com.whatsapp"}))

		_, err = h.pipeline.Run(context.Background(), nil, false, nil)
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Scheduled force stop", func() {
	It("runs the batch and posts the completion notification", func() {
		phone := newPhone()
		h := newHarness(phone)
		Expect(h.prefs.Whitelist().Add("com.whatsapp")).To(Succeed())
		Expect(h.scheduler.Enable()).To(Succeed())

		// Fire the execute alarm now instead of waiting for the wall clock
		Expect(h.alarms.SetExact(domain.AlarmExecute, time.Now())).To(Succeed())

		Eventually(phone.Notifications, 5*time.Second, 10*time.Millisecond).Should(ContainElement(fixtures.Notification{
			Title: "Scheduled Force Stop Completed",
			Body:  "Successfully force stopped 3 apps",
		}))
		Eventually(phone.Stopped, 5*time.Second, 10*time.Millisecond).Should(HaveLen(3))

		// Re-armed for the next day
		next, ok := h.alarms.Next(domain.AlarmExecute)
		Expect(ok).To(BeTrue())
		Expect(next).To(BeTemporally(">", time.Now()))
	})

	It("reports premium speed in fast mode", func() {
		phone := newPhone()
		h := newHarness(phone)
		Expect(h.prefs.Whitelist().Add("com.whatsapp")).To(Succeed())
		Expect(h.prefs.SetPremium(true, time.Now().Add(time.Hour))).To(Succeed())

		h.loop.Post(func() { h.scheduler.OnAlarm(domain.AlarmExecute) })

		Eventually(phone.Notifications, 5*time.Second, 10*time.Millisecond).Should(ContainElement(fixtures.Notification{
			Title: "Scheduled Force Stop Completed (Premium Speed)",
			Body:  "Successfully force stopped 3 apps (Premium Speed)",
		}))
	})

	It("tells the user when nothing is running", func() {
		phone := fixtures.NewFakeDevice().Install("com.spotify.music")
		h := newHarness(phone)

		h.loop.Post(func() { h.scheduler.OnAlarm(domain.AlarmExecute) })

		Eventually(phone.Notifications, 5*time.Second, 10*time.Millisecond).Should(ContainElement(fixtures.Notification{
			Title: "No Apps to Stop",
			Body:  "No running apps found during scheduled force stop",
		}))
		Expect(phone.Stopped()).To(BeEmpty())
	})
})

var _ = Describe("Error log", func() {
	It("records adapter warnings with the device details", func() {
		phone := newPhone()
		h := newHarness(phone)
		h.sink.SetDevice(&domain.DeviceInfo{Manufacturer: "Google", Model: "Pixel 8", APILevel: 34})

		phone.SetOnline(false)
		h.detector.ListForceRefresh(context.Background())

		entries := h.sink.Entries()
		Expect(entries).NotTo(BeEmpty())
		Expect(entries[0].Level).To(Equal(domain.LevelWarning))
		Expect(entries[0].Device).NotTo(BeNil())
		Expect(entries[0].Device.Model).To(Equal("Pixel 8"))
		Expect(h.sink.Format()).To(ContainSubstring("Pixel 8"))
	})

	It("persists entries across restarts", func() {
		dir := GinkgoT().TempDir()
		st, err := store.Open(store.KindFile, dir)
		Expect(err).NotTo(HaveOccurred())
		sink, err := errlog.New(st)
		Expect(err).NotTo(HaveOccurred())
		sink.Error("Scheduler", "schedule failed", os.ErrDeadlineExceeded)
		Expect(st.Close()).To(Succeed())

		reopened, err := store.Open(store.KindFile, dir)
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()
		sink, err = errlog.New(reopened)
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.Entries()).To(HaveLen(1))
		Expect(filepath.Join(dir, "preferences.json")).To(BeARegularFile())
	})
})
