// Package infra implements host-side infrastructure: alarms, boot detection,
// daemon process tracking and logger construction.
package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ErrDaemonRunning is returned by Acquire when another live daemon holds the pidfile.
	ErrDaemonRunning = errors.New("daemon already running")

	// ErrDaemonNotRunning is returned when no live daemon is recorded.
	ErrDaemonNotRunning = errors.New("daemon not running")
)

// PIDFile tracks the running daemon by pid.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the pidfile location.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire writes the current pid. A stale file left by a dead process is replaced.
func (p *PIDFile) Acquire() error {
	if pid, ok := p.Running(); ok && pid != os.Getpid() {
		return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, pid)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600)
}

// Release removes the pidfile if it still names this process.
func (p *PIDFile) Release() error {
	pid, err := p.read()
	if err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running returns the recorded pid and whether that process is alive.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.read()
	if err != nil {
		return 0, false
	}
	return pid, IsRunning(pid)
}

// Signal delivers sig to the recorded daemon.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, ok := p.Running()
	if !ok {
		return ErrDaemonNotRunning
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return proc.SendSignal(sig)
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pidfile %s: %w", p.path, err)
	}
	return pid, nil
}

// IsRunning checks if a PID exists and is running.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
