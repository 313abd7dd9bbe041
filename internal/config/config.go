// Package config provides configuration management for the fan control
// worker and engine.
package config

import (
	"time"

	"fancontrol/internal/preset"
)

// Config is the root configuration structure loaded from fancontrol.json;
// logging lives in its own file (see internal/logger).
type Config struct {
	Worker WorkerConfig `json:"Worker"`
	Engine EngineConfig `json:"Engine"`
}

// WorkerConfig configures the telemetry worker process.
type WorkerConfig struct {
	// PollInterval is the fixed hardware polling period.
	PollInterval time.Duration `json:"PollInterval"`
	// Endpoint is the named IPC endpoint (pipe/socket name).
	Endpoint string `json:"Endpoint"`
	// StalenessLimit is the consecutive CPU-device refresh failure count
	// at which the sample is marked not fresh and a re-init is attempted.
	StalenessLimit int `json:"StalenessLimit"`
	// PrimaryFailureLimit is the consecutive non-positive primary CPU
	// temperature count that activates the MSR fallback.
	PrimaryFailureLimit int `json:"PrimaryFailureLimit"`
	// ParentCheckInterval is how often the parent pid is probed.
	ParentCheckInterval time.Duration `json:"ParentCheckInterval"`
	// OrphanCheckInterval is how often the orphan watchdog runs.
	OrphanCheckInterval time.Duration `json:"OrphanCheckInterval"`
	// OrphanTimeout is the allowed client inactivity after parent death.
	OrphanTimeout time.Duration `json:"OrphanTimeout"`
	// MinPlausibleRamBytes gates the sensor-reported RAM total.
	MinPlausibleRamBytes float64 `json:"MinPlausibleRamBytes"`
	// RamPlaceholderBytes is reported when both the sensor and the OS
	// query fail.
	RamPlaceholderBytes float64 `json:"RamPlaceholderBytes"`
	// CpuTempSensors is the priority list of CPU temperature sensor
	// names, most stable (package/die) first.
	CpuTempSensors []string `json:"CpuTempSensors"`
	// GpuHotspotSensors is the priority list for the GPU hotspot metric.
	GpuHotspotSensors []string `json:"GpuHotspotSensors"`
	// SsdTempSensors is the priority list for the SSD temperature.
	SsdTempSensors []string `json:"SsdTempSensors"`
}

// FloorBand is one temperature band of the non-curve safety floor.
type FloorBand struct {
	ThresholdC float64 `json:"ThresholdC"`
	MinPercent int     `json:"MinPercent"`
}

// EngineConfig configures the fan control engine in the controlling process.
type EngineConfig struct {
	// Interval is the periodic evaluation period.
	Interval time.Duration `json:"Interval"`
	// SettleDelay is the wait between ApplyPreset and the verification read.
	SettleDelay time.Duration `json:"SettleDelay"`
	// AverageWindow is the rolling temperature window fed to the curve.
	AverageWindow int `json:"AverageWindow"`
	// EmergencyThresholdC forces fans to maximum regardless of settings.
	EmergencyThresholdC float64 `json:"EmergencyThresholdC"`
	// SafetyFloors are minimum percentages by temperature band; they are
	// hardware-specific configuration, enforced on top of any curve.
	SafetyFloors []FloorBand `json:"SafetyFloors"`

	Hysteresis preset.HysteresisSettings `json:"Hysteresis"`
	Smoothing  preset.SmoothingSettings  `json:"Smoothing"`

	// PresetsPath is the preset store file.
	PresetsPath string `json:"PresetsPath"`
	// HistoryDBPath is the sqlite telemetry history file; empty disables it.
	HistoryDBPath string `json:"HistoryDBPath"`
	// HistoryRetention is how far back cycle history is kept; older rows
	// are pruned at startup.
	HistoryRetention time.Duration `json:"HistoryRetention"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			PollInterval:         500 * time.Millisecond,
			Endpoint:             "fancontrol-worker",
			StalenessLimit:       20,
			PrimaryFailureLimit:  3,
			ParentCheckInterval:  2 * time.Second,
			OrphanCheckInterval:  30 * time.Second,
			OrphanTimeout:        5 * time.Minute,
			MinPlausibleRamBytes: 1 << 30,
			RamPlaceholderBytes:  8 << 30,
			CpuTempSensors: []string{
				"CPU Package",
				"Core (Tctl/Tdie)",
				"Package id 0",
				"k10temp",
				"coretemp",
			},
			GpuHotspotSensors: []string{
				"GPU Hot Spot",
				"GPU Hotspot",
			},
			SsdTempSensors: []string{
				"nvme_composite",
				"SSD",
				"Drive Temperature",
			},
		},
		Engine: EngineConfig{
			Interval:            time.Second,
			SettleDelay:         2 * time.Second,
			AverageWindow:       5,
			EmergencyThresholdC: 95,
			SafetyFloors: []FloorBand{
				{ThresholdC: 70, MinPercent: 20},
				{ThresholdC: 80, MinPercent: 40},
				{ThresholdC: 90, MinPercent: 70},
			},
			Hysteresis: preset.HysteresisSettings{
				Enabled:                  true,
				DeadZoneC:                3,
				RampUpDelayS:             2,
				RampDownDelaySeconds:     10,
				ThermalProtectionEnabled: true,
			},
			Smoothing: preset.SmoothingSettings{
				Enabled:    true,
				DurationMs: 1000,
				StepMs:     100,
			},
			PresetsPath:      "conf/fancontrol/presets.json",
			HistoryDBPath:    "log/fancontrol/history.db",
			HistoryRetention: 14 * 24 * time.Hour,
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	c.Worker.merge(&other.Worker)
	c.Engine.merge(&other.Engine)
}

func (w *WorkerConfig) merge(other *WorkerConfig) {
	if other.PollInterval != 0 {
		w.PollInterval = other.PollInterval
	}
	if other.Endpoint != "" {
		w.Endpoint = other.Endpoint
	}
	if other.StalenessLimit != 0 {
		w.StalenessLimit = other.StalenessLimit
	}
	if other.PrimaryFailureLimit != 0 {
		w.PrimaryFailureLimit = other.PrimaryFailureLimit
	}
	if other.ParentCheckInterval != 0 {
		w.ParentCheckInterval = other.ParentCheckInterval
	}
	if other.OrphanCheckInterval != 0 {
		w.OrphanCheckInterval = other.OrphanCheckInterval
	}
	if other.OrphanTimeout != 0 {
		w.OrphanTimeout = other.OrphanTimeout
	}
	if other.MinPlausibleRamBytes != 0 {
		w.MinPlausibleRamBytes = other.MinPlausibleRamBytes
	}
	if other.RamPlaceholderBytes != 0 {
		w.RamPlaceholderBytes = other.RamPlaceholderBytes
	}
	if len(other.CpuTempSensors) > 0 {
		w.CpuTempSensors = other.CpuTempSensors
	}
	if len(other.GpuHotspotSensors) > 0 {
		w.GpuHotspotSensors = other.GpuHotspotSensors
	}
	if len(other.SsdTempSensors) > 0 {
		w.SsdTempSensors = other.SsdTempSensors
	}
}

func (e *EngineConfig) merge(other *EngineConfig) {
	if other.Interval != 0 {
		e.Interval = other.Interval
	}
	if other.SettleDelay != 0 {
		e.SettleDelay = other.SettleDelay
	}
	if other.AverageWindow != 0 {
		e.AverageWindow = other.AverageWindow
	}
	if other.EmergencyThresholdC != 0 {
		e.EmergencyThresholdC = other.EmergencyThresholdC
	}
	if len(other.SafetyFloors) > 0 {
		e.SafetyFloors = other.SafetyFloors
	}
	if other.Hysteresis != (preset.HysteresisSettings{}) {
		e.Hysteresis = other.Hysteresis
	}
	if other.Smoothing != (preset.SmoothingSettings{}) {
		e.Smoothing = other.Smoothing
	}
	if other.PresetsPath != "" {
		e.PresetsPath = other.PresetsPath
	}
	if other.HistoryDBPath != "" {
		e.HistoryDBPath = other.HistoryDBPath
	}
	if other.HistoryRetention != 0 {
		e.HistoryRetention = other.HistoryRetention
	}
}
