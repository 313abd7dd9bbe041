package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"fancontrol/internal/config"
	"fancontrol/internal/preset"
	"fancontrol/internal/sample"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeController records every command it receives. When reactive is
// true, each ApplyPreset shifts the reported RPM so verification sees a
// hardware response.
type fakeController struct {
	mu       sync.Mutex
	writes   []int
	applies  []string
	maxCalls int
	autoOn   bool
	reactive bool
	rpm      float64
}

func (c *fakeController) ApplyPreset(p preset.FanPreset) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applies = append(c.applies, p.Name)
	if c.reactive {
		c.rpm += 500
	}
	return true
}

func (c *fakeController) ApplyCustomCurve(curve []preset.FanCurvePoint) bool { return true }

func (c *fakeController) SetFanSpeed(percent int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, percent)
	return true
}

func (c *fakeController) SetFanSpeeds(cpuPercent, gpuPercent int) bool {
	return c.SetFanSpeed(cpuPercent)
}

func (c *fakeController) ReadFanSpeeds() []Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []Telemetry{{Name: "fan1", RPM: c.rpm, DutyPercent: 50, HasDuty: true}}
}

func (c *fakeController) ApplyMaxCooling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxCalls++
	if c.reactive {
		c.rpm += 500
	}
}

func (c *fakeController) ApplyAutoMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoOn = true
}

func (c *fakeController) RestoreAutoControl() bool { return true }

func (c *fakeController) VerifyMaxApplied() (string, bool) { return "ok", true }

func (c *fakeController) writesSnapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeController) appliesSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.applies))
	copy(out, c.applies)
	return out
}

// fakeSource serves a fixed sample.
type fakeSource struct {
	mu sync.Mutex
	s  *sample.Sample
}

func (f *fakeSource) Sample() (*sample.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s.Clone(), nil
}

func (f *fakeSource) set(s *sample.Sample) {
	f.mu.Lock()
	f.s = s
	f.mu.Unlock()
}

func freshSample(cpuTemp float64) *sample.Sample {
	s := sample.New()
	s.IsFresh = true
	s.CpuTemperature = cpuTemp
	return s
}

func testConfig() config.EngineConfig {
	cfg := config.DefaultConfig().Engine
	cfg.SettleDelay = time.Millisecond
	cfg.AverageWindow = 1
	cfg.Hysteresis.Enabled = false
	cfg.Smoothing.Enabled = false
	return cfg
}

func quietPreset() preset.FanPreset {
	return preset.FanPreset{
		Name: "Quiet", Mode: preset.ModeAuto,
		Curve: []preset.FanCurvePoint{
			{TemperatureC: 40, FanPercent: 10},
			{TemperatureC: 90, FanPercent: 80},
		},
	}
}

func loudPreset() preset.FanPreset {
	return preset.FanPreset{
		Name: "Loud", Mode: preset.ModePerformance,
		Curve: []preset.FanCurvePoint{
			{TemperatureC: 30, FanPercent: 40},
			{TemperatureC: 80, FanPercent: 100},
		},
	}
}

func TestApplyPresetVerified(t *testing.T) {
	ctrl := &fakeController{reactive: true, rpm: 1000}
	eng := New(testConfig(), ctrl, &fakeSource{s: freshSample(50)}, nil, nil)

	p := quietPreset()
	if err := eng.ApplyPreset(p); err != nil {
		t.Fatalf("ApplyPreset failed: %v", err)
	}

	active, ok := eng.ActivePreset()
	if !ok || active.Name != p.Name {
		t.Errorf("active preset = %q, %v; want %q", active.Name, ok, p.Name)
	}
	applies := ctrl.appliesSnapshot()
	if len(applies) != 1 || applies[0] != p.Name {
		t.Errorf("applies = %v; want [%q]", applies, p.Name)
	}
}

func TestApplyPresetRollback(t *testing.T) {
	ctrl := &fakeController{reactive: true, rpm: 1000}
	eng := New(testConfig(), ctrl, &fakeSource{s: freshSample(50)}, nil, nil)

	prev := quietPreset()
	if err := eng.ApplyPreset(prev); err != nil {
		t.Fatalf("initial ApplyPreset failed: %v", err)
	}

	// Hardware stops responding: the next preset must be rolled back.
	ctrl.mu.Lock()
	ctrl.reactive = false
	ctrl.mu.Unlock()

	next := loudPreset()
	err := eng.ApplyPreset(next)
	if !errors.Is(err, ErrNoEffect) {
		t.Fatalf("ApplyPreset error = %v; want ErrNoEffect", err)
	}

	active, ok := eng.ActivePreset()
	if !ok || active.Name != prev.Name {
		t.Errorf("active preset after rollback = %q; want %q", active.Name, prev.Name)
	}

	applies := ctrl.appliesSnapshot()
	want := []string{prev.Name, next.Name, prev.Name}
	if len(applies) != len(want) {
		t.Fatalf("applies = %v; want %v", applies, want)
	}
	for i := range want {
		if applies[i] != want[i] {
			t.Fatalf("applies = %v; want %v", applies, want)
		}
	}
}

func TestApplyPresetNoEffectWithoutPrevious(t *testing.T) {
	ctrl := &fakeController{rpm: 1000}
	eng := New(testConfig(), ctrl, &fakeSource{s: freshSample(50)}, nil, nil)

	err := eng.ApplyPreset(quietPreset())
	if !errors.Is(err, ErrNoEffect) {
		t.Fatalf("ApplyPreset error = %v; want ErrNoEffect", err)
	}
	if applies := ctrl.appliesSnapshot(); len(applies) != 1 {
		t.Errorf("applies = %v; want a single attempt, no rollback", applies)
	}
	if _, ok := eng.ActivePreset(); ok {
		t.Error("no preset should be active after a failed first apply")
	}
}

func TestSmoothingFinalWriteIsExactTarget(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = preset.SmoothingSettings{Enabled: true, DurationMs: 300, StepMs: 100}

	ctrl := &fakeController{}
	eng := New(cfg, ctrl, &fakeSource{s: freshSample(50)}, nil, nil)
	defer eng.Stop()

	eng.mu.Lock()
	eng.applied = 80
	eng.mu.Unlock()

	eng.SetManualSpeed(40, false)

	deadline := time.Now().Add(2 * time.Second)
	for {
		writes := ctrl.writesSnapshot()
		if len(writes) >= 1 && writes[len(writes)-1] == 40 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ramp did not finish, writes = %v", writes)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestImmediateApplySingleWrite(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = preset.SmoothingSettings{Enabled: true, DurationMs: 1000, StepMs: 100}

	ctrl := &fakeController{}
	eng := New(cfg, ctrl, &fakeSource{s: freshSample(50)}, nil, nil)
	defer eng.Stop()

	eng.mu.Lock()
	eng.applied = 80
	eng.mu.Unlock()

	eng.SetManualSpeed(40, true)

	writes := ctrl.writesSnapshot()
	if len(writes) != 1 || writes[0] != 40 {
		t.Errorf("writes = %v; want exactly [40]", writes)
	}
}

func TestNewTargetCancelsInFlightRamp(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = preset.SmoothingSettings{Enabled: true, DurationMs: 5000, StepMs: 50}

	ctrl := &fakeController{}
	eng := New(cfg, ctrl, &fakeSource{s: freshSample(50)}, nil, nil)
	defer eng.Stop()

	eng.SetManualSpeed(100, false)
	time.Sleep(120 * time.Millisecond)
	eng.SetManualSpeed(30, true)

	// The superseding immediate target is the final write; no stale ramp
	// step may land after it.
	time.Sleep(200 * time.Millisecond)
	writes := ctrl.writesSnapshot()
	if len(writes) == 0 || writes[len(writes)-1] != 30 {
		t.Errorf("final write = %v; want 30", writes)
	}
}

func TestDiagnosticModeFreezesEngine(t *testing.T) {
	ctrl := &fakeController{reactive: true, rpm: 1000}
	eng := New(testConfig(), ctrl, &fakeSource{s: freshSample(50)}, nil, nil)

	eng.SetDiagnosticMode(true)

	if err := eng.ApplyPreset(quietPreset()); err != nil {
		t.Fatalf("ApplyPreset in diagnostic mode returned %v; want nil no-op", err)
	}
	eng.SetManualSpeed(70, true)
	eng.ApplyMaxCooling()

	if applies := ctrl.appliesSnapshot(); len(applies) != 0 {
		t.Errorf("applies = %v; want none while frozen", applies)
	}
	if writes := ctrl.writesSnapshot(); len(writes) != 0 {
		t.Errorf("writes = %v; want none while frozen", writes)
	}
	ctrl.mu.Lock()
	maxCalls := ctrl.maxCalls
	ctrl.mu.Unlock()
	if maxCalls != 0 {
		t.Errorf("max cooling calls = %d; want 0 while frozen", maxCalls)
	}
}

func TestThermalProtectionForcesMaximum(t *testing.T) {
	cfg := testConfig()
	src := &fakeSource{s: freshSample(cfg.EmergencyThresholdC + 1)}
	ctrl := &fakeController{}
	eng := New(cfg, ctrl, src, nil, nil)

	eng.mu.Lock()
	eng.active = quietPreset()
	eng.haveActive = true
	eng.mu.Unlock()

	eng.Evaluate()

	writes := ctrl.writesSnapshot()
	if len(writes) == 0 || writes[len(writes)-1] != 100 {
		t.Fatalf("writes = %v; want forced 100", writes)
	}
	if !eng.Diagnostics().ThermalProtection {
		t.Error("thermal protection flag not set")
	}

	// Recovery clears the flag.
	src.set(freshSample(60))
	eng.Evaluate()
	if eng.Diagnostics().ThermalProtection {
		t.Error("thermal protection flag still set after recovery")
	}
}

func TestSafetyFloorOverridesCurve(t *testing.T) {
	cfg := testConfig()
	cfg.SafetyFloors = []config.FloorBand{{ThresholdC: 80, MinPercent: 40}}

	ctrl := &fakeController{}
	eng := New(cfg, ctrl, &fakeSource{s: freshSample(85)}, nil, nil)

	// A curve that barely reacts to temperature.
	eng.mu.Lock()
	eng.active = preset.FanPreset{
		Name: "flat", Mode: preset.ModeAuto,
		Curve: []preset.FanCurvePoint{
			{TemperatureC: 40, FanPercent: 10},
			{TemperatureC: 95, FanPercent: 15},
		},
	}
	eng.haveActive = true
	eng.mu.Unlock()

	eng.Evaluate()

	writes := ctrl.writesSnapshot()
	if len(writes) == 0 || writes[len(writes)-1] != 40 {
		t.Errorf("writes = %v; want floor-enforced 40", writes)
	}
}

func TestStaleSampleHoldsCurrentSpeed(t *testing.T) {
	cfg := testConfig()
	s := freshSample(90)
	s.IsFresh = false
	s.StaleCount = 25

	ctrl := &fakeController{}
	eng := New(cfg, ctrl, &fakeSource{s: s}, nil, nil)

	eng.mu.Lock()
	eng.active = quietPreset()
	eng.haveActive = true
	eng.mu.Unlock()

	eng.Evaluate()

	if writes := ctrl.writesSnapshot(); len(writes) != 0 {
		t.Errorf("writes = %v; want none on a stale sample", writes)
	}
}

func TestApplyMaxCoolingShortcut(t *testing.T) {
	ctrl := &fakeController{}
	eng := New(testConfig(), ctrl, &fakeSource{s: freshSample(50)}, nil, nil)

	eng.ApplyMaxCooling()

	ctrl.mu.Lock()
	maxCalls := ctrl.maxCalls
	applies := len(ctrl.applies)
	ctrl.mu.Unlock()
	if maxCalls != 1 {
		t.Errorf("max cooling calls = %d; want 1", maxCalls)
	}
	if applies != 0 {
		t.Error("ApplyMaxCooling must not go through the preset verify path")
	}

	active, ok := eng.ActivePreset()
	if !ok || active.Name != preset.MaxPresetName {
		t.Errorf("active preset = %q; want %q", active.Name, preset.MaxPresetName)
	}
	if d := eng.Diagnostics(); d.AppliedPercent != 100 {
		t.Errorf("applied percent = %d; want 100", d.AppliedPercent)
	}
}
