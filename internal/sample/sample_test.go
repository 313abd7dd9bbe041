package sample

import (
	"encoding/json"
	"testing"
)

func TestCloneIsDeep(t *testing.T) {
	s := New()
	s.CpuTemperature = 60
	s.CpuCoreClocks = []float64{3200, 3400}
	s.FanSpeeds["cpu_fan"] = 2400

	c := s.Clone()
	c.CpuCoreClocks[0] = 0
	c.FanSpeeds["cpu_fan"] = 0
	c.CpuTemperature = 0

	if s.CpuCoreClocks[0] != 3200 {
		t.Error("clone shares the core clock slice")
	}
	if s.FanSpeeds["cpu_fan"] != 2400 {
		t.Error("clone shares the fan speed map")
	}
	if s.CpuTemperature != 60 {
		t.Error("clone shares scalar fields")
	}
}

func TestWireFieldNames(t *testing.T) {
	s := New()
	s.IsFresh = true
	s.StaleCount = 3
	s.GpuName = "RTX"
	s.FanSpeeds["gpu_fan"] = 1800

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	// Names are part of the IPC wire format.
	for _, key := range []string{
		"Timestamp", "IsFresh", "StaleCount", "CpuTemperature", "CpuCoreClocks",
		"GpuName", "GpuHotspot", "VramUsage", "VramTotal", "RamUsage", "RamTotal",
		"SsdTemperature", "BatteryCharge", "BatteryDischargeRate", "IsOnAc", "FanSpeeds",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire field %q missing", key)
		}
	}
}
