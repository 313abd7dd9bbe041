package engine

import (
	"fancontrol/internal/preset"
	"fancontrol/internal/sample"
)

// Telemetry is one fan's read-back state. HasDuty is false on hardware
// that only reports tachometer counts.
type Telemetry struct {
	Name        string
	RPM         float64
	DutyPercent float64
	HasDuty     bool
}

// Controller is the abstract fan controller capability backed by the
// real hardware path (embedded controller, ACPI, vendor driver). Boolean
// returns report whether the hardware accepted the command.
type Controller interface {
	ApplyPreset(p preset.FanPreset) bool
	ApplyCustomCurve(curve []preset.FanCurvePoint) bool
	SetFanSpeed(percent int) bool
	SetFanSpeeds(cpuPercent, gpuPercent int) bool
	ReadFanSpeeds() []Telemetry
	ApplyMaxCooling()
	ApplyAutoMode()
	RestoreAutoControl() bool
	VerifyMaxApplied() (details string, ok bool)
}

// SampleSource supplies the engine's telemetry. Implemented by the IPC
// client in production and by fakes in tests.
type SampleSource interface {
	Sample() (*sample.Sample, error)
}
