package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"fancontrol/internal/logger"
	"fancontrol/internal/preset"
)

// rawConfig is used for JSON unmarshaling with duration strings.
type rawConfig struct {
	Worker rawWorkerConfig `json:"Worker"`
	Engine rawEngineConfig `json:"Engine"`
}

type rawWorkerConfig struct {
	PollInterval         string   `json:"PollInterval"`
	Endpoint             string   `json:"Endpoint"`
	StalenessLimit       int      `json:"StalenessLimit"`
	PrimaryFailureLimit  int      `json:"PrimaryFailureLimit"`
	ParentCheckInterval  string   `json:"ParentCheckInterval"`
	OrphanCheckInterval  string   `json:"OrphanCheckInterval"`
	OrphanTimeout        string   `json:"OrphanTimeout"`
	MinPlausibleRamBytes float64  `json:"MinPlausibleRamBytes"`
	RamPlaceholderBytes  float64  `json:"RamPlaceholderBytes"`
	CpuTempSensors       []string `json:"CpuTempSensors"`
	GpuHotspotSensors    []string `json:"GpuHotspotSensors"`
	SsdTempSensors       []string `json:"SsdTempSensors"`
}

type rawEngineConfig struct {
	Interval            string                    `json:"Interval"`
	SettleDelay         string                    `json:"SettleDelay"`
	AverageWindow       int                       `json:"AverageWindow"`
	EmergencyThresholdC float64                   `json:"EmergencyThresholdC"`
	SafetyFloors        []FloorBand               `json:"SafetyFloors"`
	Hysteresis          preset.HysteresisSettings `json:"Hysteresis"`
	Smoothing           preset.SmoothingSettings  `json:"Smoothing"`
	PresetsPath         string                    `json:"PresetsPath"`
	HistoryDBPath       string                    `json:"HistoryDBPath"`
	HistoryRetention    string                    `json:"HistoryRetention"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
}

// Load reads configuration from the specified file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(parsed)
	return cfg, nil
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Worker: WorkerConfig{
			Endpoint:             raw.Worker.Endpoint,
			StalenessLimit:       raw.Worker.StalenessLimit,
			PrimaryFailureLimit:  raw.Worker.PrimaryFailureLimit,
			MinPlausibleRamBytes: raw.Worker.MinPlausibleRamBytes,
			RamPlaceholderBytes:  raw.Worker.RamPlaceholderBytes,
			CpuTempSensors:       raw.Worker.CpuTempSensors,
			GpuHotspotSensors:    raw.Worker.GpuHotspotSensors,
			SsdTempSensors:       raw.Worker.SsdTempSensors,
		},
		Engine: EngineConfig{
			AverageWindow:       raw.Engine.AverageWindow,
			EmergencyThresholdC: raw.Engine.EmergencyThresholdC,
			SafetyFloors:        raw.Engine.SafetyFloors,
			Hysteresis:          raw.Engine.Hysteresis,
			Smoothing:           raw.Engine.Smoothing,
			PresetsPath:         raw.Engine.PresetsPath,
			HistoryDBPath:       raw.Engine.HistoryDBPath,
		},
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"Worker.PollInterval", raw.Worker.PollInterval, &cfg.Worker.PollInterval},
		{"Worker.ParentCheckInterval", raw.Worker.ParentCheckInterval, &cfg.Worker.ParentCheckInterval},
		{"Worker.OrphanCheckInterval", raw.Worker.OrphanCheckInterval, &cfg.Worker.OrphanCheckInterval},
		{"Worker.OrphanTimeout", raw.Worker.OrphanTimeout, &cfg.Worker.OrphanTimeout},
		{"Engine.Interval", raw.Engine.Interval, &cfg.Engine.Interval},
		{"Engine.SettleDelay", raw.Engine.SettleDelay, &cfg.Engine.SettleDelay},
		{"Engine.HistoryRetention", raw.Engine.HistoryRetention, &cfg.Engine.HistoryRetention},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.in)
		if err != nil {
			return nil, fmt.Errorf("invalid %s duration: %w", d.name, err)
		}
		*d.out = parsed
	}

	return cfg, nil
}

// LoadLogging reads logging configuration from the specified file path.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()
	if raw.Level != "" {
		def.Level = raw.Level
	}
	if raw.FilePath != "" {
		def.FilePath = raw.FilePath
	}
	if raw.MaxSizeMB != 0 {
		def.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		def.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		def.MaxAgeDays = raw.MaxAgeDays
	}
	def.Compress = raw.Compress
	def.Console = raw.Console

	return &def, nil
}
