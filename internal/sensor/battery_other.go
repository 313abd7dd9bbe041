//go:build !windows

package sensor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const powerSupplyRoot = "/sys/class/power_supply"

// batteryDevice reads charge, discharge rate and AC state from sysfs.
type batteryDevice struct {
	mu       sync.RWMutex
	root     string
	readings []Reading
}

func newBatteryDevice() *batteryDevice {
	return &batteryDevice{root: powerSupplyRoot}
}

func (d *batteryDevice) Name() string { return "battery" }

func (d *batteryDevice) Refresh(_ context.Context) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("battery refresh: %w", err)
	}

	var fresh []Reading
	for _, e := range entries {
		name := e.Name()
		base := filepath.Join(d.root, name)
		switch {
		case strings.HasPrefix(name, "BAT"):
			if v, ok := readSysfsFloat(filepath.Join(base, "capacity")); ok {
				fresh = append(fresh, Reading{Name: "Battery Charge", Kind: KindLevel, Value: v})
			}
			if v, ok := readSysfsFloat(filepath.Join(base, "power_now")); ok {
				// power_now is µW
				fresh = append(fresh, Reading{Name: "Battery Discharge Rate", Kind: KindPower, Value: v / 1e6})
			}
		case strings.HasPrefix(name, "AC") || strings.HasPrefix(name, "ADP"):
			if v, ok := readSysfsFloat(filepath.Join(base, "online")); ok {
				fresh = append(fresh, Reading{Name: "On AC", Kind: KindLevel, Value: v})
			}
		}
	}

	if len(fresh) == 0 {
		return fmt.Errorf("battery refresh: %w", ErrUnavailable)
	}

	d.mu.Lock()
	d.readings = fresh
	d.mu.Unlock()
	return nil
}

func (d *batteryDevice) Readings() []Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Reading, len(d.readings))
	copy(out, d.readings)
	return out
}

func (d *batteryDevice) SubDevices() []Device { return nil }

func readSysfsFloat(path string) (float64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
