// Package sensor defines the boundary to hardware sensor backends and the
// priority-based resolution of logical metrics to concrete sensor readings.
package sensor

import (
	"context"
	"errors"
)

// Kind classifies what a sensor reading measures.
type Kind int

const (
	KindTemperature Kind = iota
	KindFan
	KindLoad
	KindPower
	KindClock
	KindVoltage
	KindCurrent
	KindData  // byte quantities (RAM, VRAM)
	KindLevel // percentages that are not loads (battery charge)
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindFan:
		return "fan"
	case KindLoad:
		return "load"
	case KindPower:
		return "power"
	case KindClock:
		return "clock"
	case KindVoltage:
		return "voltage"
	case KindCurrent:
		return "current"
	case KindData:
		return "data"
	case KindLevel:
		return "level"
	default:
		return "unknown"
	}
}

// Reading is a single named sensor value captured during a device refresh.
type Reading struct {
	Name  string
	Kind  Kind
	Value float64
}

// Device is one pollable hardware device. Refresh updates the device's
// live state; Readings returns the values captured by the last successful
// Refresh. A Refresh failure must leave prior readings intact.
type Device interface {
	Name() string
	Refresh(ctx context.Context) error
	Readings() []Reading
	SubDevices() []Device
}

// Reinitializer is implemented by devices that support a one-shot
// re-initialization after prolonged refresh failures.
type Reinitializer interface {
	Reinit(ctx context.Context) error
}

// Backend exposes a flat list of hardware devices. Implementations wrap
// vendor-specific paths (embedded controller, NVML, OS sensor files).
type Backend interface {
	Devices() []Device
	Close() error
}

// ErrUnavailable reports a device that is present but cannot currently be
// read (sleeping disk, blocked driver). Refreshes failing with it are
// skipped for the cycle without counting as device loss.
var ErrUnavailable = errors.New("sensor device unavailable")
