// Package fixtures provides a scripted Android device for integration tests.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Screen coordinates of the simulated Settings pages.
const (
	forceStopBounds = "[540,1100][1080,1300]"
	okBounds        = "[600,1500][900,1600]"
	cancelBounds    = "[300,1500][600,1600]"
)

// Notification is one notification posted on the device.
type Notification struct {
	Title string
	Body  string
}

type page struct {
	kind string // "", "details", "confirm"
	pkg  string
}

// FakeDevice answers adb commands the way a connected phone would. It
// implements adb.Runner.
type FakeDevice struct {
	mu sync.Mutex

	installed map[string]bool // package -> system
	running   map[string]bool
	frozen    map[string]bool // settings page never renders
	online    bool
	sdk       int
	now       func() time.Time

	screen        page
	stopped       []string
	notifications []Notification
	homePresses   int
}

// NewFakeDevice creates an online device running Android 14.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		installed: make(map[string]bool),
		running:   make(map[string]bool),
		frozen:    make(map[string]bool),
		online:    true,
		sdk:       34,
		now:       time.Now,
	}
}

// Install adds a user package.
func (d *FakeDevice) Install(pkgs ...string) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pkgs {
		d.installed[p] = false
	}
	return d
}

// InstallSystem adds a system package.
func (d *FakeDevice) InstallSystem(pkgs ...string) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pkgs {
		d.installed[p] = true
	}
	return d
}

// Uninstall removes a package.
func (d *FakeDevice) Uninstall(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.installed, pkg)
	delete(d.running, pkg)
}

// Launch marks packages as recently used and running.
func (d *FakeDevice) Launch(pkgs ...string) *FakeDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range pkgs {
		d.running[p] = true
	}
	return d
}

// Freeze makes the settings page of pkg never render.
func (d *FakeDevice) Freeze(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frozen[pkg] = true
}

// SetOnline connects or disconnects the device.
func (d *FakeDevice) SetOnline(online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = online
}

// Running returns the running packages, sorted.
func (d *FakeDevice) Running() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedSet(d.running)
}

// Stopped returns force-stopped packages in order.
func (d *FakeDevice) Stopped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stopped...)
}

// Notifications returns posted notifications in order.
func (d *FakeDevice) Notifications() []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Notification(nil), d.notifications...)
}

// OnHomeScreen reports whether the last navigation was the home key.
func (d *FakeDevice) OnHomeScreen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screen.kind == "" && d.homePresses > 0
}

// Run implements adb.Runner.
func (d *FakeDevice) Run(ctx context.Context, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(args) == 1 && args[0] == "get-state" {
		if !d.online {
			return "", errors.New("error: no devices/emulators found")
		}
		return "device\n", nil
	}
	if !d.online {
		return "", errors.New("error: no devices/emulators found")
	}
	if len(args) < 2 || args[0] != "shell" {
		return "", fmt.Errorf("unsupported command: %v", args)
	}

	cmd := strings.Join(args[1:], " ")
	switch {
	case cmd == "getprop ro.build.version.sdk":
		return strconv.Itoa(d.sdk) + "\n", nil
	case cmd == "getprop":
		return fmt.Sprintf("[ro.product.manufacturer]: [Google]\n[ro.product.model]: [Pixel 8]\n"+
			"[ro.product.device]: [shiba]\n[ro.build.version.release]: [14]\n[ro.build.version.sdk]: [%d]\n", d.sdk), nil
	case cmd == "date +%z":
		return "+0000\n", nil
	case cmd == "pm list packages -3":
		return d.packageList(false), nil
	case cmd == "pm list packages -s":
		return d.packageList(true), nil
	case strings.HasPrefix(cmd, "dumpsys package "):
		return d.packageDump(strings.TrimPrefix(cmd, "dumpsys package ")), nil
	case cmd == "dumpsys usagestats":
		return d.usageStats(), nil
	case cmd == "dumpsys activity processes":
		return d.processes(), nil
	case cmd == "dumpsys activity services":
		return "ACTIVITY MANAGER SERVICES (dumpsys activity services)\n", nil
	case strings.HasPrefix(cmd, "am start -a android.settings.APPLICATION_DETAILS_SETTINGS -d "):
		data := unquote(strings.TrimPrefix(cmd, "am start -a android.settings.APPLICATION_DETAILS_SETTINGS -d "))
		return d.openDetails(strings.TrimPrefix(data, "package:")), nil
	case strings.HasPrefix(cmd, "uiautomator dump "):
		return d.dump(), nil
	case strings.HasPrefix(cmd, "input tap "):
		return "", d.tap(args[3:])
	case cmd == "input keyevent KEYCODE_HOME":
		d.screen = page{}
		d.homePresses++
		return "", nil
	case strings.HasPrefix(cmd, "rm -f "):
		return "", nil
	case strings.HasPrefix(cmd, "cmd notification post "):
		return "", d.notify(args[1:])
	}
	return "", fmt.Errorf("/system/bin/sh: %s: inaccessible or not found", args[1])
}

func (d *FakeDevice) packageList(system bool) string {
	var b strings.Builder
	for _, p := range sortedKeys(d.installed) {
		if d.installed[p] == system {
			b.WriteString("package:" + p + "\n")
		}
	}
	return b.String()
}

func (d *FakeDevice) packageDump(pkg string) string {
	system, ok := d.installed[pkg]
	if !ok {
		return "Unable to find package: " + pkg + "\n"
	}
	flags := "HAS_CODE ALLOW_CLEAR_USER_DATA"
	if system {
		flags = "SYSTEM " + flags
	}
	return fmt.Sprintf("Packages:\n  Package [%s] (1a2b3c):\n    userId=10123\n    flags=[ %s ]\n", pkg, flags)
}

func (d *FakeDevice) usageStats() string {
	ts := d.now().UTC().Add(-time.Minute).Format("2006-01-02 15:04:05")
	var b strings.Builder
	b.WriteString("User 0:\n  In-memory daily stats\n  packages\n")
	for _, p := range sortedSet(d.running) {
		fmt.Fprintf(&b, "        package=%s totalTimeUsed=\"05:00\" lastTimeUsed=\"%s\" totalTimeVisible=\"05:10\" lastTimeVisible=\"%s\"\n", p, ts, ts)
	}
	return b.String()
}

func (d *FakeDevice) processes() string {
	var b strings.Builder
	b.WriteString("ACTIVITY MANAGER RUNNING PROCESSES (dumpsys activity processes)\n  All known processes:\n")
	for i, p := range sortedSet(d.running) {
		pid := 4000 + i
		fmt.Fprintf(&b, "  *APP* UID %d ProcessRecord{%x %d:%s/u0a%d}\n", 10100+i, 0xabc000+i, pid, p, 100+i)
		fmt.Fprintf(&b, "    pkgList={%s}\n", p)
		b.WriteString("    oom adj: max=1001 curRaw=905 setRaw=905 cur=905 set=905\n")
	}
	return b.String()
}

func (d *FakeDevice) openDetails(pkg string) string {
	if _, ok := d.installed[pkg]; !ok {
		return "Starting: Intent { act=android.settings.APPLICATION_DETAILS_SETTINGS dat=package:" + pkg + " }\n" +
			"Error: Activity not started, unable to resolve Intent\n"
	}
	d.screen = page{kind: "details", pkg: pkg}
	return "Starting: Intent { act=android.settings.APPLICATION_DETAILS_SETTINGS dat=package:" + pkg + " }\n"
}

func (d *FakeDevice) dump() string {
	switch d.screen.kind {
	case "details":
		if d.frozen[d.screen.pkg] {
			return "ERROR: null root node returned by UiTestAutomationBridge.\n"
		}
		return hierarchy(
			node("App info", false, true, "[42,150][400,220]"),
			node(d.screen.pkg, false, true, "[42,300][1000,380]"),
			node("Uninstall", true, true, "[0,1100][540,1300]"),
			node("Force stop", true, d.running[d.screen.pkg], forceStopBounds),
		)
	case "confirm":
		return hierarchy(
			node("Force stop?", false, true, "[100,1200][980,1280]"),
			node("If you force stop an app, it may misbehave.", false, true, "[100,1300][980,1400]"),
			node("Cancel", true, true, cancelBounds),
			node("OK", true, true, okBounds),
		)
	}
	return hierarchy(
		node("Phone", true, true, "[0,2000][270,2200]"),
	)
}

func (d *FakeDevice) tap(coords []string) error {
	if len(coords) != 2 {
		return fmt.Errorf("usage: input tap <x> <y>")
	}
	x, errX := strconv.Atoi(coords[0])
	y, errY := strconv.Atoi(coords[1])
	if errX != nil || errY != nil {
		return fmt.Errorf("invalid tap coordinates: %v", coords)
	}

	switch d.screen.kind {
	case "details":
		if hit(forceStopBounds, x, y) && d.running[d.screen.pkg] {
			d.screen.kind = "confirm"
		}
	case "confirm":
		switch {
		case hit(okBounds, x, y):
			delete(d.running, d.screen.pkg)
			d.stopped = append(d.stopped, d.screen.pkg)
			d.screen.kind = "details"
		case hit(cancelBounds, x, y):
			d.screen.kind = "details"
		}
	}
	return nil
}

func (d *FakeDevice) notify(args []string) error {
	// cmd notification post -S bigtext -t <title> <tag> <body>
	if len(args) != 9 || args[5] != "-t" {
		return fmt.Errorf("bad notification args: %v", args)
	}
	d.notifications = append(d.notifications, Notification{
		Title: unquote(args[6]),
		Body:  unquote(args[8]),
	})
	return nil
}

func hierarchy(children ...string) string {
	return `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?><hierarchy rotation="0">` +
		`<node index="0" text="" class="android.widget.FrameLayout" package="com.android.settings" clickable="false" enabled="true" bounds="[0,0][1080,2400]">` +
		strings.Join(children, "") + `</node></hierarchy>`
}

func node(text string, clickable, enabled bool, bounds string) string {
	return fmt.Sprintf(`<node index="0" text="%s" class="android.widget.TextView" package="com.android.settings" clickable="%t" enabled="%t" bounds="%s" />`,
		text, clickable, enabled, bounds)
}

func hit(bounds string, x, y int) bool {
	var x1, y1, x2, y2 int
	if _, err := fmt.Sscanf(bounds, "[%d,%d][%d,%d]", &x1, &y1, &x2, &y2); err != nil {
		return false
	}
	return x >= x1 && x <= x2 && y >= y1 && y <= y2
}

func unquote(s string) string {
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSuffix(s, "'")
	return strings.ReplaceAll(s, `'\''`, "'")
}

func sortedSet(m map[string]bool) []string {
	var out []string
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
