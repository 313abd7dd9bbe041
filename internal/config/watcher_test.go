package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fancontrol/internal/logger"
)

func TestFileWatcherLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fancontrol.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	fw, err := NewFileWatcher(path, func() {})
	if err != nil {
		t.Fatalf("NewFileWatcher failed: %v", err)
	}
	if fw.IsRunning() {
		t.Fatal("running before Start")
	}

	if err := fw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("not running after Start")
	}

	// Start is idempotent.
	if err := fw.Start(); err != nil {
		t.Errorf("second Start failed: %v", err)
	}

	if err := fw.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("still running after Stop")
	}
}

func TestConfigWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fancontrol.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	fw, err := NewConfigWatcher(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewConfigWatcher failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(path, []byte(`{"Engine": {"EmergencyThresholdC": 88}}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Engine.EmergencyThresholdC != 88 {
			t.Errorf("reloaded EmergencyThresholdC = %.0f; want 88", cfg.Engine.EmergencyThresholdC)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestConfigWatcherIgnoresBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fancontrol.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	called := make(chan struct{}, 1)
	fw, err := NewConfigWatcher(path, func(*Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewConfigWatcher failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-called:
		t.Error("callback invoked for an unparseable file")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestLoggingWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logging.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	reloaded := make(chan *logger.Config, 1)
	fw, err := NewLoggingWatcher(path, func(lc *logger.Config) {
		select {
		case reloaded <- lc:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewLoggingWatcher failed: %v", err)
	}
	if err := fw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(path, []byte(`{"Level": "debug"}`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case lc := <-reloaded:
		if lc.Level != "debug" {
			t.Errorf("reloaded Level = %q; want debug", lc.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("logging change not observed")
	}
}
