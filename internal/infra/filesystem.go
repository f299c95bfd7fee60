package infra

import (
	"os"
	"path/filepath"
	"strings"
)

// Layout names the files kept under the data directory.
type Layout struct {
	DataDir string
}

// PIDFile returns the daemon pidfile path.
func (l Layout) PIDFile() string {
	return filepath.Join(l.DataDir, "memclear.pid")
}

// LogFile returns the default daemon log path.
func (l Layout) LogFile() string {
	return filepath.Join(l.DataDir, "memclear.log")
}

// BatchLock returns the lock file held while a force-stop batch runs.
func (l Layout) BatchLock() string {
	return filepath.Join(l.DataDir, "batch.lock")
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return expandHome(path, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
