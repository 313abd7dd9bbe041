package sensor

import (
	"context"
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliwattsPerWatt = 1000

// nvmlDevice reads the discrete GPU through NVML. Construction fails when
// no NVIDIA GPU or driver is present; the backend then simply omits the
// device and GPU fields keep their zero values.
type nvmlDevice struct {
	device   nvml.Device
	gpuName  string
	mu       sync.RWMutex
	readings []Reading
}

func newNvmlDevice() (*nvmlDevice, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, fmt.Errorf("nvml device handle: %s", nvml.ErrorString(ret))
	}

	d := &nvmlDevice{device: device}
	if name, ret := device.GetName(); ret == nvml.SUCCESS {
		d.gpuName = name
	}

	return d, nil
}

func (d *nvmlDevice) Name() string { return "gpu" }

// GPUName returns the adapter name reported by the driver.
func (d *nvmlDevice) GPUName() string { return d.gpuName }

func (d *nvmlDevice) Refresh(_ context.Context) error {
	temp, ret := d.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		// Treat an unreadable core temperature as a device-level failure;
		// everything else below degrades field by field.
		return fmt.Errorf("gpu temperature: %s", nvml.ErrorString(ret))
	}

	fresh := []Reading{
		{Name: "GPU Core", Kind: KindTemperature, Value: float64(temp)},
	}

	if util, ret := d.device.GetUtilizationRates(); ret == nvml.SUCCESS {
		fresh = append(fresh, Reading{Name: "GPU Core", Kind: KindLoad, Value: float64(util.Gpu)})
	}
	if power, ret := d.device.GetPowerUsage(); ret == nvml.SUCCESS {
		fresh = append(fresh, Reading{Name: "GPU Power", Kind: KindPower, Value: float64(power) / milliwattsPerWatt})
	}
	if clock, ret := d.device.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
		fresh = append(fresh, Reading{Name: "GPU Core", Kind: KindClock, Value: float64(clock)})
	}
	if clock, ret := d.device.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
		fresh = append(fresh, Reading{Name: "GPU Memory", Kind: KindClock, Value: float64(clock)})
	}
	if memInfo, ret := d.device.GetMemoryInfo(); ret == nvml.SUCCESS {
		fresh = append(fresh,
			Reading{Name: "GPU Memory Used", Kind: KindData, Value: float64(memInfo.Used)},
			Reading{Name: "GPU Memory Total", Kind: KindData, Value: float64(memInfo.Total)},
		)
	}

	d.mu.Lock()
	d.readings = fresh
	d.mu.Unlock()
	return nil
}

func (d *nvmlDevice) Readings() []Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Reading, len(d.readings))
	copy(out, d.readings)
	return out
}

func (d *nvmlDevice) SubDevices() []Device { return nil }

func (d *nvmlDevice) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}
