package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"fancontrol/internal/logger"
)

// HostBackend exposes the devices readable without a vendor helper:
// CPU (temperatures, load, core clocks), memory and battery, plus the
// NVML GPU device when an NVIDIA GPU is present.
type HostBackend struct {
	devices []Device
}

// NewHostBackend probes the available devices. A device whose probe fails
// is simply absent from the list; probing never fails as a whole.
func NewHostBackend(ctx context.Context) *HostBackend {
	log := logger.WithComponent("sensor")

	b := &HostBackend{}
	b.devices = append(b.devices, newCPUDevice(), newMemoryDevice(), newBatteryDevice())

	gpu, err := newNvmlDevice()
	if err != nil {
		log.Warn().Err(err).Msg("NVML unavailable, GPU telemetry disabled")
	} else {
		b.devices = append(b.devices, gpu)
	}

	return b
}

// Devices returns the flat device list.
func (b *HostBackend) Devices() []Device {
	return b.devices
}

// Close shuts down backends that hold native handles.
func (b *HostBackend) Close() error {
	var firstErr error
	for _, d := range b.devices {
		if c, ok := d.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// cpuDevice reads CPU temperatures, total load and per-core clocks.
type cpuDevice struct {
	mu       sync.RWMutex
	readings []Reading
}

func newCPUDevice() *cpuDevice {
	return &cpuDevice{}
}

func (d *cpuDevice) Name() string { return "cpu" }

func (d *cpuDevice) Refresh(ctx context.Context) error {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		// Device-level failure: keep prior readings for staleness accounting.
		return fmt.Errorf("cpu temperature refresh: %w", err)
	}

	fresh := make([]Reading, 0, len(temps)+1)
	for _, t := range temps {
		if t.Temperature > 200 || t.Temperature < -50 {
			continue
		}
		fresh = append(fresh, Reading{Name: t.SensorKey, Kind: KindTemperature, Value: t.Temperature})
	}

	// Load and clocks are secondary: their failure does not fail the device.
	if loads, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(loads) > 0 {
		fresh = append(fresh, Reading{Name: "CPU Total", Kind: KindLoad, Value: loads[0]})
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil {
		for i, info := range infos {
			fresh = append(fresh, Reading{
				Name:  fmt.Sprintf("Core #%d", i),
				Kind:  KindClock,
				Value: info.Mhz,
			})
		}
	}

	d.mu.Lock()
	d.readings = fresh
	d.mu.Unlock()
	return nil
}

func (d *cpuDevice) Readings() []Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Reading, len(d.readings))
	copy(out, d.readings)
	return out
}

func (d *cpuDevice) SubDevices() []Device { return nil }

// Reinit drops cached readings and performs a fresh refresh. Invoked by
// the worker after prolonged refresh failures.
func (d *cpuDevice) Reinit(ctx context.Context) error {
	d.mu.Lock()
	d.readings = nil
	d.mu.Unlock()
	return d.Refresh(ctx)
}

// memoryDevice reads RAM usage through the OS.
type memoryDevice struct {
	mu       sync.RWMutex
	readings []Reading
}

func newMemoryDevice() *memoryDevice {
	return &memoryDevice{}
}

func (d *memoryDevice) Name() string { return "memory" }

func (d *memoryDevice) Refresh(ctx context.Context) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("memory refresh: %w", err)
	}

	d.mu.Lock()
	d.readings = []Reading{
		{Name: "RAM Used", Kind: KindData, Value: float64(vm.Used)},
		{Name: "RAM Total", Kind: KindData, Value: float64(vm.Total)},
	}
	d.mu.Unlock()
	return nil
}

func (d *memoryDevice) Readings() []Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Reading, len(d.readings))
	copy(out, d.readings)
	return out
}

func (d *memoryDevice) SubDevices() []Device { return nil }

// OSMemoryTotal queries the OS for physical memory size, bypassing the
// sensor path. Used when the sensor-reported total is implausible.
func OSMemoryTotal(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return float64(vm.Total), nil
}
