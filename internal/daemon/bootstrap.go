package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/nomor/memclear/internal/infra"
)

// StartDetached spawns `<self> daemon run args...` in a new session and waits
// up to timeout for it to write its pidfile.
func StartDetached(pidfile *infra.PIDFile, timeout time.Duration, args ...string) (int, error) {
	if pid, ok := pidfile.Running(); ok {
		return pid, fmt.Errorf("%w (pid %d)", infra.ErrDaemonRunning, pid)
	}

	// Get our own executable path
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(executable, append([]string{"daemon", "run"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	return pid, waitForPID(pidfile, pid, exited, timeout)
}

func waitForPID(pidfile *infra.PIDFile, pid int, exited <-chan error, timeout time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		if got, ok := pidfile.Running(); ok && got == pid {
			return nil
		}
		select {
		case err := <-exited:
			return fmt.Errorf("daemon exited during startup (%v), see the log file", err)
		case <-deadline:
			return fmt.Errorf("daemon did not register within %s", timeout)
		case <-ticker.C:
		}
	}
}

// Stop sends SIGTERM to the recorded daemon and waits for it to exit.
func Stop(pidfile *infra.PIDFile, timeout time.Duration) error {
	pid, ok := pidfile.Running()
	if !ok {
		return infra.ErrDaemonNotRunning
	}
	if err := pidfile.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for infra.IsRunning(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon (pid %d) did not stop within %s", pid, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// NotifyReload asks a running daemon to re-read the schedule. Returns false
// when no daemon is running.
func NotifyReload(pidfile *infra.PIDFile) (bool, error) {
	if _, ok := pidfile.Running(); !ok {
		return false, nil
	}
	if err := pidfile.Signal(syscall.SIGHUP); err != nil {
		return false, err
	}
	return true, nil
}
