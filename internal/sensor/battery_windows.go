//go:build windows

package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/yusufpapurcu/wmi"
)

type win32Battery struct {
	EstimatedChargeRemaining uint16
	BatteryStatus            uint16
}

type wmiBatteryStatus struct {
	DischargeRate int32
	Charging      bool
	PowerOnline   bool
}

// batteryDevice reads charge, discharge rate and AC state through WMI.
type batteryDevice struct {
	mu       sync.RWMutex
	readings []Reading
}

func newBatteryDevice() *batteryDevice {
	return &batteryDevice{}
}

func (d *batteryDevice) Name() string { return "battery" }

func (d *batteryDevice) Refresh(_ context.Context) error {
	var batteries []win32Battery
	if err := wmi.Query("SELECT EstimatedChargeRemaining, BatteryStatus FROM Win32_Battery", &batteries); err != nil {
		return fmt.Errorf("battery refresh: %w", err)
	}
	if len(batteries) == 0 {
		return fmt.Errorf("battery refresh: %w", ErrUnavailable)
	}

	b := batteries[0]
	onAC := 0.0
	// BatteryStatus 2 means "on AC power" per the Win32_Battery documentation.
	if b.BatteryStatus == 2 {
		onAC = 1.0
	}

	fresh := []Reading{
		{Name: "Battery Charge", Kind: KindLevel, Value: float64(b.EstimatedChargeRemaining)},
		{Name: "On AC", Kind: KindLevel, Value: onAC},
	}

	// Discharge rate lives in the root\wmi BatteryStatus class; absence is
	// tolerated (some firmwares do not publish it).
	var status []wmiBatteryStatus
	if err := wmi.QueryNamespace("SELECT DischargeRate, Charging, PowerOnline FROM BatteryStatus", &status, `root\wmi`); err == nil && len(status) > 0 {
		fresh = append(fresh, Reading{
			Name:  "Battery Discharge Rate",
			Kind:  KindPower,
			Value: float64(status[0].DischargeRate) / 1000.0, // mW to W
		})
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
