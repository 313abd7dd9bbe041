// Package pidlock enforces a single worker instance through a pid file
// held under the system temp directory.
package pidlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrAlreadyRunning reports that another live instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is a held single-instance lock.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the named system-wide lock. If the pid file exists and its
// recorded process is alive, ErrAlreadyRunning is returned and the caller
// must exit without side effects. A stale file from a dead process is
// reclaimed.
func Acquire(name string) (*Lock, error) {
	path := filepath.Join(os.TempDir(), name+".pid")

	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			alive, err := process.PidExists(int32(pid))
			if err == nil && alive && pid != os.Getpid() {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid file: %w", err)
	}

	if err := flock(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}

	return &Lock{path: path, f: f}, nil
}

// Release drops the lock and removes the pid file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	funlock(l.f)
	l.f.Close()
	l.f = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
