// Package sample defines the telemetry snapshot exchanged between the
// worker process and the controlling process.
package sample

import "time"

// Sample is one point-in-time snapshot of all monitored hardware values.
// Field names are part of the IPC wire format and must stay stable.
//
// Every field holds the last successfully read value: a failed read for one
// field never blanks unrelated fields. The worker rebuilds a Sample each
// poll cycle by cloning the previous one and overwriting only the fields
// that were freshly read.
type Sample struct {
	Timestamp  time.Time `json:"Timestamp"`
	IsFresh    bool      `json:"IsFresh"`
	StaleCount int       `json:"StaleCount"`

	CpuTemperature float64   `json:"CpuTemperature"`
	CpuLoad        float64   `json:"CpuLoad"`
	CpuPower       float64   `json:"CpuPower"`
	CpuCoreClocks  []float64 `json:"CpuCoreClocks"`

	GpuName        string  `json:"GpuName"`
	GpuTemperature float64 `json:"GpuTemperature"`
	GpuHotspot     float64 `json:"GpuHotspot"`
	GpuLoad        float64 `json:"GpuLoad"`
	GpuPower       float64 `json:"GpuPower"`
	GpuClock       float64 `json:"GpuClock"`
	GpuMemoryClock float64 `json:"GpuMemoryClock"`
	GpuVoltage     float64 `json:"GpuVoltage"`
	GpuCurrent     float64 `json:"GpuCurrent"`
	VramUsage      float64 `json:"VramUsage"`
	VramTotal      float64 `json:"VramTotal"`

	RamUsage float64 `json:"RamUsage"`
	RamTotal float64 `json:"RamTotal"`

	SsdTemperature float64 `json:"SsdTemperature"`

	BatteryCharge        float64 `json:"BatteryCharge"`
	BatteryDischargeRate float64 `json:"BatteryDischargeRate"`
	IsOnAc               bool    `json:"IsOnAc"`

	FanSpeeds map[string]float64 `json:"FanSpeeds"`
}

// New returns an empty Sample with allocated collections.
func New() *Sample {
	return &Sample{
		CpuCoreClocks: []float64{},
		FanSpeeds:     map[string]float64{},
	}
}

// Clone returns a deep copy. The worker clones the cached Sample at the
// start of each poll cycle so readers never observe partial updates.
func (s *Sample) Clone() *Sample {
	cp := *s
	cp.CpuCoreClocks = make([]float64, len(s.CpuCoreClocks))
	copy(cp.CpuCoreClocks, s.CpuCoreClocks)
	cp.FanSpeeds = make(map[string]float64, len(s.FanSpeeds))
	for name, rpm := range s.FanSpeeds {
		cp.FanSpeeds[name] = rpm
	}
	return &cp
}
