package pidlock

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	name := fmt.Sprintf("fancontrol-test-%d", os.Getpid())

	lock, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}

	// Reacquirable after release.
	lock2, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	lock2.Release()
}

func TestSecondAcquireFails(t *testing.T) {
	name := fmt.Sprintf("fancontrol-test2-%d", os.Getpid())

	lock, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if _, err := Acquire(name); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Acquire error = %v; want ErrAlreadyRunning", err)
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	name := fmt.Sprintf("fancontrol-test3-%d", os.Getpid())
	path := os.TempDir() + "/" + name + ".pid"

	// A pid nobody can hold reads as a dead previous instance.
	if err := os.WriteFile(path, []byte("1073741824"), 0o600); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}

	lock, err := Acquire(name)
	if err != nil {
		t.Fatalf("Acquire over stale lock failed: %v", err)
	}
	lock.Release()
}

func TestReleaseNilSafe(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release returned %v", err)
	}
}
