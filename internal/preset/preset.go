// Package preset defines fan presets, curves and control settings, plus
// the durable store for user-defined presets.
package preset

import (
	"fmt"
	"time"
)

// Mode selects how a preset drives the fans.
type Mode string

const (
	ModeAuto        Mode = "Auto"
	ModeManual      Mode = "Manual"
	ModePerformance Mode = "Performance"
	ModeMax         Mode = "Max"
)

// MaxPresetName is the distinguished name of the 100% shortcut preset.
const MaxPresetName = "Max"

// FanCurvePoint maps one temperature to a fan duty percentage.
type FanCurvePoint struct {
	TemperatureC float64 `json:"TemperatureC"`
	FanPercent   int     `json:"FanPercent"`
}

// FanPreset is a named fan behavior: a mode plus its curve.
type FanPreset struct {
	Name      string          `json:"Name"`
	Mode      Mode            `json:"Mode"`
	Curve     []FanCurvePoint `json:"Curve"`
	IsBuiltIn bool            `json:"IsBuiltIn"`
}

// HysteresisSettings controls oscillation suppression.
type HysteresisSettings struct {
	Enabled                  bool    `json:"Enabled"`
	DeadZoneC                float64 `json:"DeadZoneC"`
	RampUpDelayS             int     `json:"RampUpDelayS"`
	RampDownDelaySeconds     int     `json:"RampDownDelaySeconds"`
	ThermalProtectionEnabled bool    `json:"ThermalProtectionEnabled"`
}

// RampUpDelay returns the sustained-demand delay for speed increases.
func (h HysteresisSettings) RampUpDelay() time.Duration {
	return time.Duration(h.RampUpDelayS) * time.Second
}

// RampDownDelay returns the sustained-demand delay for speed decreases.
func (h HysteresisSettings) RampDownDelay() time.Duration {
	return time.Duration(h.RampDownDelaySeconds) * time.Second
}

// SmoothingSettings controls the stepped approach to a new target.
type SmoothingSettings struct {
	Enabled    bool `json:"Enabled"`
	DurationMs int  `json:"DurationMs"`
	StepMs     int  `json:"StepMs"`
}

// Validate checks a preset's curve: at least one point, temperatures
// strictly increasing, percentages within 0..100.
func (p FanPreset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	if p.Mode == ModeMax {
		return nil // Max ignores the curve
	}
	if len(p.Curve) == 0 {
		return fmt.Errorf("preset %q has an empty curve", p.Name)
	}
	prev := p.Curve[0]
	if prev.FanPercent < 0 || prev.FanPercent > 100 {
		return fmt.Errorf("preset %q: fan percent %d out of range", p.Name, prev.FanPercent)
	}
	for _, pt := range p.Curve[1:] {
		if pt.TemperatureC <= prev.TemperatureC {
			return fmt.Errorf("preset %q: curve temperatures must increase (%.1f after %.1f)",
				p.Name, pt.TemperatureC, prev.TemperatureC)
		}
		if pt.FanPercent < 0 || pt.FanPercent > 100 {
			return fmt.Errorf("preset %q: fan percent %d out of range", p.Name, pt.FanPercent)
		}
		prev = pt
	}
	return nil
}

// BuiltIn returns the presets shipped with the application.
func BuiltIn() []FanPreset {
	return []FanPreset{
		{
			Name: "Quiet", Mode: ModeAuto, IsBuiltIn: true,
			Curve: []FanCurvePoint{
				{TemperatureC: 40, FanPercent: 0},
				{TemperatureC: 60, FanPercent: 25},
				{TemperatureC: 75, FanPercent: 45},
				{TemperatureC: 85, FanPercent: 70},
				{TemperatureC: 95, FanPercent: 100},
			},
		},
		{
			Name: "Balanced", Mode: ModeAuto, IsBuiltIn: true,
			Curve: []FanCurvePoint{
				{TemperatureC: 40, FanPercent: 10},
				{TemperatureC: 55, FanPercent: 30},
				{TemperatureC: 70, FanPercent: 55},
				{TemperatureC: 85, FanPercent: 80},
				{TemperatureC: 95, FanPercent: 100},
			},
		},
		{
			Name: "Performance", Mode: ModePerformance, IsBuiltIn: true,
			Curve: []FanCurvePoint{
				{TemperatureC: 35, FanPercent: 25},
				{TemperatureC: 50, FanPercent: 45},
				{TemperatureC: 65, FanPercent: 70},
				{TemperatureC: 80, FanPercent: 90},
				{TemperatureC: 90, FanPercent: 100},
			},
		},
		{
			Name: MaxPresetName, Mode: ModeMax, IsBuiltIn: true,
		},
	}
}
