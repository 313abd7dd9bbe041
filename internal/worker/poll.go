package worker

import (
	"context"
	"fmt"

	"fancontrol/internal/sample"
	"fancontrol/internal/sensor"
)

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	w.log.Info().Dur("interval", w.cfg.PollInterval).Msg("Starting poll loop")

	// Initial poll so the first GET after startup has data.
	w.pollOnce(ctx)

	ticker := w.clk.Ticker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Poll loop stopped")
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce runs one full cycle: refresh every device with per-device fault
// containment, overwrite only freshly read fields on a clone of the cache,
// then swap the cache atomically. A failure anywhere — a single device, a
// sub-device, or the sweep itself — never aborts the cycle.
func (w *Worker) pollOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Poll sweep panicked, cycle skipped")
		}
	}()

	w.mu.RLock()
	next := w.cur.Clone()
	w.mu.RUnlock()

	next.Timestamp = w.clk.Now()

	cpuRefreshed := false
	var cpuReadings []sensor.Reading

	for _, d := range w.backend.Devices() {
		name := d.Name()
		if err := w.refreshDevice(ctx, d); err != nil {
			w.markFailed(name, err)
			continue
		}
		w.clearFailed(name)

		readings := d.Readings()
		switch name {
		case "cpu":
			cpuRefreshed = true
			cpuReadings = readings
			w.extractCPU(next, readings)
		case "memory":
			w.extractMemory(next, readings)
		case "battery":
			w.extractBattery(next, readings)
		case "gpu":
			w.extractGPU(next, d, readings)
		}

		w.extractFans(next, d, readings)
		w.extractStorage(next, readings)
	}

	w.updateStaleness(ctx, next, cpuRefreshed)
	fallbackActive := w.updateCPUTemperature(next, cpuRefreshed, cpuReadings)
	w.checkRAMPlausibility(ctx, next)

	w.mu.Lock()
	w.cur = next
	w.fallbackActive = fallbackActive
	if cpuRefreshed {
		w.ready = true
	}
	w.mu.Unlock()
}

// refreshDevice refreshes one device and its sub-devices, each wrapped
// independently so a throwing sub-controller cannot take down siblings.
func (w *Worker) refreshDevice(ctx context.Context, d sensor.Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device refresh panicked: %v", r)
		}
	}()

	if err := d.Refresh(ctx); err != nil {
		return err
	}

	for _, sub := range d.SubDevices() {
		if subErr := w.refreshSub(ctx, sub); subErr != nil {
			w.markFailed(d.Name()+"/"+sub.Name(), subErr)
		} else {
			w.clearFailed(d.Name() + "/" + sub.Name())
		}
	}

	return nil
}

func (w *Worker) refreshSub(ctx context.Context, sub sensor.Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sub-device refresh panicked: %v", r)
		}
	}()
	return sub.Refresh(ctx)
}

func (w *Worker) extractCPU(next *sample.Sample, readings []sensor.Reading) {
	// Load: zero is a legitimate value, so a resolved zero is accepted.
	if v, ok := sensor.Resolve(readings, sensor.KindLoad, []string{"CPU Total"}); ok {
		next.CpuLoad = v
	}
	if v, ok := sensor.Resolve(readings, sensor.KindPower, []string{"CPU Package", "Package Power"}); ok {
		next.CpuPower = v
	}
	if clocks := sensor.ResolveAll(readings, sensor.KindClock, "Core"); len(clocks) > 0 {
		next.CpuCoreClocks = clocks
	}
}

func (w *Worker) extractMemory(next *sample.Sample, readings []sensor.Reading) {
	if v, ok := sensor.ResolveNamed(readings, sensor.KindData, "RAM Used"); ok {
		next.RamUsage = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindData, "RAM Total"); ok {
		next.RamTotal = v
	}
}

func (w *Worker) extractBattery(next *sample.Sample, readings []sensor.Reading) {
	if v, ok := sensor.ResolveNamed(readings, sensor.KindLevel, "Battery Charge"); ok {
		next.BatteryCharge = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindPower, "Battery Discharge Rate"); ok {
		next.BatteryDischargeRate = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindLevel, "On AC"); ok {
		next.IsOnAc = v > 0
	}
}

func (w *Worker) extractGPU(next *sample.Sample, d sensor.Device, readings []sensor.Reading) {
	if named, ok := d.(interface{ GPUName() string }); ok && named.GPUName() != "" {
		next.GpuName = named.GPUName()
	}

	if v, ok := sensor.Resolve(readings, sensor.KindTemperature, []string{"GPU Core"}); ok {
		next.GpuTemperature = v
	}
	// Hotspot must not fall back to the core sensor.
	if v, ok := resolveNamedList(readings, sensor.KindTemperature, w.cfg.GpuHotspotSensors); ok {
		next.GpuHotspot = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindLoad, "GPU Core"); ok {
		next.GpuLoad = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindPower, "GPU Power"); ok {
		next.GpuPower = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindClock, "GPU Core"); ok {
		next.GpuClock = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindClock, "GPU Memory"); ok {
		next.GpuMemoryClock = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindVoltage, "GPU Core"); ok {
		next.GpuVoltage = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindCurrent, "GPU Core"); ok {
		next.GpuCurrent = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindData, "GPU Memory Used"); ok {
		next.VramUsage = v
	}
	if v, ok := sensor.ResolveNamed(readings, sensor.KindData, "GPU Memory Total"); ok {
		next.VramTotal = v
	}
}

func (w *Worker) extractFans(next *sample.Sample, d sensor.Device, readings []sensor.Reading) {
	for _, r := range readings {
		if r.Kind == sensor.KindFan {
			next.FanSpeeds[r.Name] = r.Value
		}
	}
	for _, sub := range d.SubDevices() {
		for _, r := range sub.Readings() {
			if r.Kind == sensor.KindFan {
				next.FanSpeeds[r.Name] = r.Value
			}
		}
	}
}

func (w *Worker) extractStorage(next *sample.Sample, readings []sensor.Reading) {
	if v, ok := resolveNamedList(readings, sensor.KindTemperature, w.cfg.SsdTempSensors); ok {
		next.SsdTemperature = v
	}
}

// updateStaleness tracks device-level CPU refresh failures. A merely
// unchanged temperature is normal at idle and does not count.
func (w *Worker) updateStaleness(ctx context.Context, next *sample.Sample, cpuRefreshed bool) {
	if cpuRefreshed {
		next.StaleCount = 0
		next.IsFresh = true
		w.reinitFired = false
		return
	}

	next.StaleCount++
	if next.StaleCount < w.cfg.StalenessLimit {
		return
	}

	next.IsFresh = false
	if w.reinitFired {
		return
	}
	w.reinitFired = true

	for _, d := range w.backend.Devices() {
		if d.Name() != "cpu" {
			continue
		}
		ri, ok := d.(sensor.Reinitializer)
		if !ok {
			break
		}
		w.log.Warn().Int("stale_count", next.StaleCount).Msg("CPU device stale, attempting re-initialization")
		if err := ri.Reinit(ctx); err != nil {
			w.log.Error().Err(err).Msg("CPU device re-initialization failed")
		}
		break
	}
}

// updateCPUTemperature drives the primary/fallback state machine. The
// fallback engages after PrimaryFailureLimit consecutive non-positive
// primary readings and disengages the instant the primary recovers.
func (w *Worker) updateCPUTemperature(next *sample.Sample, cpuRefreshed bool, readings []sensor.Reading) bool {
	active := w.fallbackActive

	if cpuRefreshed {
		primary, resolved := sensor.Resolve(readings, sensor.KindTemperature, w.cfg.CpuTempSensors)
		if resolved && primary > 0 {
			w.primaryFailures = 0
			next.CpuTemperature = primary
			return false
		}

		w.primaryFailures++
		if !active && w.pkgTemp != nil && w.primaryFailures >= w.cfg.PrimaryFailureLimit {
			w.log.Warn().
				Int("consecutive_failures", w.primaryFailures).
				Msg("Primary CPU temperature exhausted, switching to MSR fallback")
			active = true
		}

		if !active {
			// Fallback unavailable or not yet engaged: report the primary
			// path as-is, including zero.
			if resolved {
				next.CpuTemperature = primary
			} else {
				next.CpuTemperature = 0
			}
			if w.primaryFailures >= w.cfg.PrimaryFailureLimit {
				// Primary exhausted and nothing can vouch for the value:
				// consumers must not base safety decisions on it.
				next.IsFresh = false
			}
			return false
		}
	}

	if active && w.pkgTemp != nil {
		if t, err := w.pkgTemp.Read(); err == nil {
			next.CpuTemperature = t
		} else {
			next.IsFresh = false
			if w.logLimiter.Allow("msr:" + err.Error()) {
				w.log.Warn().Err(err).Msg("MSR fallback read failed")
			}
		}
	}

	return active
}

// checkRAMPlausibility falls back to an OS memory query when the sensor
// total is implausible, and to a conservative placeholder after that.
func (w *Worker) checkRAMPlausibility(ctx context.Context, next *sample.Sample) {
	if next.RamTotal >= w.cfg.MinPlausibleRamBytes {
		return
	}

	if total, err := sensor.OSMemoryTotal(ctx); err == nil && total >= w.cfg.MinPlausibleRamBytes {
		next.RamTotal = total
		return
	}

	next.RamTotal = w.cfg.RamPlaceholderBytes
}

func (w *Worker) markFailed(name string, err error) {
	w.failedMu.Lock()
	w.failed[name] = err
	w.failedMu.Unlock()

	if w.logLimiter.Allow(name + ":" + err.Error()) {
		w.log.Warn().Err(err).Str("device", name).Msg("Device refresh failed, skipped this cycle")
	}
}

func (w *Worker) clearFailed(name string) {
	w.failedMu.Lock()
	delete(w.failed, name)
	w.failedMu.Unlock()
}

func resolveNamedList(readings []sensor.Reading, kind sensor.Kind, names []string) (float64, bool) {
	for _, name := range names {
		if v, ok := sensor.ResolveNamed(readings, kind, name); ok {
			return v, true
		}
	}
	return 0, false
}
