package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

// AutostartLabel names the launchd job and the systemd unit.
const AutostartLabel = "com.nomor.memclear"

// LaunchAgent plist template (runs as user at login)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
{{- range .Args}}
        <string>{{.}}</string>
{{- end}}
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>Crashed</key>
        <true/>
    </dict>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`

// systemd user unit template
const systemdUnitTemplate = `[Unit]
Description=memclear scheduled force stop daemon
After=default.target

[Service]
ExecStart={{.ExecutablePath}}{{range .Args}} {{.}}{{end}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target
`

// AutostartKind selects the service manager.
type AutostartKind string

const (
	AutostartLaunchd AutostartKind = "launchd"
	AutostartSystemd AutostartKind = "systemd"
)

type autostartConfig struct {
	Label          string
	ExecutablePath string
	Args           []string
	ErrorLogPath   string
}

// CommandRunner runs a service manager command.
type CommandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Autostart registers the daemon with the user's service manager so it starts
// at login and the schedule survives host reboots.
type Autostart struct {
	kind    AutostartKind
	dir     string
	args    []string
	errLog  string
	execute CommandRunner
}

// NewAutostart picks launchd on macOS and systemd elsewhere. args are passed
// to the executable, e.g. "daemon", "run".
func NewAutostart(layout Layout, args ...string) (*Autostart, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	kind := AutostartSystemd
	dir := filepath.Join(home, ".config", "systemd", "user")
	if runtime.GOOS == "darwin" {
		kind = AutostartLaunchd
		dir = filepath.Join(home, "Library", "LaunchAgents")
	}
	return newAutostart(kind, dir, filepath.Join(layout.DataDir, "memclear.stderr.log"), runCommand, args...), nil
}

func newAutostart(kind AutostartKind, dir, errLog string, execute CommandRunner, args ...string) *Autostart {
	return &Autostart{kind: kind, dir: dir, args: args, errLog: errLog, execute: execute}
}

// Kind returns the service manager in use.
func (a *Autostart) Kind() AutostartKind {
	return a.kind
}

// Path returns the unit or plist path.
func (a *Autostart) Path() string {
	if a.kind == AutostartLaunchd {
		return filepath.Join(a.dir, AutostartLabel+".plist")
	}
	return filepath.Join(a.dir, AutostartLabel+".service")
}

// generate renders the unit or plist for execPath.
func (a *Autostart) generate(execPath string) ([]byte, error) {
	tmplStr := systemdUnitTemplate
	if a.kind == AutostartLaunchd {
		tmplStr = launchAgentTemplate
	}

	tmpl, err := template.New(string(a.kind)).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", a.kind, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, autostartConfig{
		Label:          AutostartLabel,
		ExecutablePath: execPath,
		Args:           a.args,
		ErrorLogPath:   a.errLog,
	}); err != nil {
		return nil, fmt.Errorf("failed to execute %s template: %w", a.kind, err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit and loads it. An existing unit with the same
// content is left alone.
func (a *Autostart) Install(execPath string) error {
	content, err := a.generate(execPath)
	if err != nil {
		return err
	}
	if current, err := os.ReadFile(a.Path()); err == nil && bytes.Equal(current, content) {
		return nil
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return err
	}
	// Unload first (ignore errors if not loaded)
	_ = a.unload()
	if err := os.WriteFile(a.Path(), content, 0644); err != nil {
		return err
	}
	return a.load()
}

// Uninstall unloads and removes the unit.
func (a *Autostart) Uninstall() error {
	_ = a.unload()
	if err := os.Remove(a.Path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if a.kind == AutostartSystemd {
		_ = a.execute("systemctl", "--user", "daemon-reload")
	}
	return nil
}

// IsInstalled reports whether the unit file exists.
func (a *Autostart) IsInstalled() bool {
	_, err := os.Stat(a.Path())
	return err == nil
}

func (a *Autostart) load() error {
	if a.kind == AutostartLaunchd {
		return a.execute("launchctl", "load", a.Path())
	}
	if err := a.execute("systemctl", "--user", "daemon-reload"); err != nil {
		return err
	}
	return a.execute("systemctl", "--user", "enable", "--now", AutostartLabel+".service")
}

func (a *Autostart) unload() error {
	if a.kind == AutostartLaunchd {
		return a.execute("launchctl", "unload", a.Path())
	}
	return a.execute("systemctl", "--user", "disable", "--now", AutostartLabel+".service")
}
