//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// socketPath places the socket in a per-user directory so only the owning
// session can connect.
func socketPath(endpoint string) (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		base = filepath.Join(os.TempDir(), fmt.Sprintf("fancontrol-%d", os.Getuid()))
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(base, endpoint+".sock"), nil
}

func listen(endpoint string) (net.Listener, error) {
	path, err := socketPath(endpoint)
	if err != nil {
		return nil, err
	}
	// Remove a stale socket from a previous run; the pid lock guarantees
	// no live instance owns it.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return net.Listen("unix", path)
}

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	path, err := socketPath(endpoint)
	if err != nil {
		return nil, err
	}
	return net.DialTimeout("unix", path, timeout)
}
