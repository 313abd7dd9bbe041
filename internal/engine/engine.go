// Package engine implements the fan control engine: curve evaluation
// with enforced safety floors, hysteresis, smoothing, spurious-RPM
// suppression and the preset apply/verify/rollback protocol.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"fancontrol/internal/config"
	"fancontrol/internal/logger"
	"fancontrol/internal/preset"
)

// ErrNoEffect is returned when a preset was accepted by the controller
// but the verification read showed no hardware response.
var ErrNoEffect = errors.New("preset had no measurable effect")

// rpmChangeEpsilon is the minimum RPM delta counted as a reaction in
// the post-apply verification read.
const rpmChangeEpsilon = 100.0

// CycleRecord is one evaluated engine cycle, persisted for inspection.
type CycleRecord struct {
	Time              time.Time
	CpuTemperature    float64
	GpuTemperature    float64
	CurveInput        float64
	Target            int
	Applied           int
	Preset            string
	ThermalProtection bool
}

// Recorder persists cycle records. Implemented by the history package.
type Recorder interface {
	Record(r CycleRecord) error
}

// Diagnostics is the engine's introspection surface, used by tests and
// status reporting instead of poking at internals.
type Diagnostics struct {
	ActivePreset      string
	AppliedPercent    int
	ThermalProtection bool
	DiagnosticMode    bool
	AcceptedRPMs      map[string]float64
	LastVerification  string
}

// Engine converts samples into safe, non-oscillating fan commands.
type Engine struct {
	ctrl   Controller
	source SampleSource
	store  preset.Store
	clk    clock.Clock
	log    zerolog.Logger

	mu         sync.Mutex
	cfg        config.EngineConfig
	applied    int
	active     preset.FanPreset
	haveActive bool
	diagMode   bool
	thermal    bool
	temps      []float64
	filter     *rpmFilter
	gate       *hystGate
	rec        Recorder
	lastVerify string

	rampMu sync.Mutex
	ramp   *rampHandle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. store may be nil (last-used tracking disabled).
func New(cfg config.EngineConfig, ctrl Controller, source SampleSource, store preset.Store, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		ctrl:   ctrl,
		source: source,
		store:  store,
		clk:    clk,
		log:    logger.WithComponent("engine"),
		cfg:    cfg,
		filter: newRPMFilter(),
		gate:   newHystGate(cfg.Hysteresis),
	}
}

// SetRecorder attaches a cycle history recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	e.rec = r
	e.mu.Unlock()
}

// Start launches the periodic evaluation loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	interval := e.cfg.Interval
	e.mu.Unlock()
	if interval <= 0 {
		return fmt.Errorf("invalid engine interval: %v", interval)
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run(ctx, interval)
	return nil
}

// Stop cancels the loop and any in-flight ramp, then waits for both.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.cancelRamp()
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, interval time.Duration) {
	defer e.wg.Done()

	e.log.Info().Dur("interval", interval).Msg("Starting control loop")

	ticker := e.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Control loop stopped")
			return
		case <-ticker.C:
			e.Evaluate()
		}
	}
}

// Evaluate runs one control cycle: read telemetry, filter RPMs, check
// thermal protection, evaluate the curve and drive toward the target.
func (e *Engine) Evaluate() {
	s, err := e.source.Sample()
	if err != nil {
		e.log.Debug().Err(err).Msg("No sample this cycle")
		return
	}

	e.observeFans(s.FanSpeeds)

	e.mu.Lock()
	cfg := e.cfg
	diag := e.diagMode
	applied := e.applied
	active := e.active
	haveActive := e.haveActive
	e.mu.Unlock()

	if diag {
		return
	}

	temp := math.Max(s.CpuTemperature, s.GpuTemperature)

	// Thermal protection sees even stale samples: a stale high reading
	// errs on the side of cooling.
	if cfg.Hysteresis.ThermalProtectionEnabled && temp > cfg.EmergencyThresholdC {
		e.engageThermalProtection(temp, applied)
		return
	}
	e.clearThermalProtection(temp)

	if !s.IsFresh {
		e.log.Debug().Int("stale_count", s.StaleCount).Msg("Sample not fresh, holding current speed")
		return
	}

	if !haveActive || active.Mode == preset.ModeMax || len(active.Curve) == 0 {
		// No curve to drive: the controller is in a fixed or hardware-
		// automatic mode.
		return
	}

	avg := e.pushTemp(temp, cfg.AverageWindow)

	target := clampPercent(interpolate(active.Curve, avg))
	if f := safetyFloor(cfg.SafetyFloors, temp); target < f {
		target = f
	}

	e.mu.Lock()
	gated := e.gate.Filter(e.clk.Now(), avg, applied, target)
	e.mu.Unlock()

	// The floor is enforced after hysteresis too, so a held-back ramp-up
	// can never leave the fans below the band minimum.
	if f := safetyFloor(cfg.SafetyFloors, temp); gated < f {
		gated = f
	}

	if gated != applied {
		e.drive(applied, gated, cfg.Smoothing)
	}

	e.record(CycleRecord{
		Time:           e.clk.Now(),
		CpuTemperature: s.CpuTemperature,
		GpuTemperature: s.GpuTemperature,
		CurveInput:     avg,
		Target:         target,
		Applied:        gated,
		Preset:         active.Name,
	})
}

func (e *Engine) engageThermalProtection(temp float64, applied int) {
	e.mu.Lock()
	first := !e.thermal
	e.thermal = true
	name := e.active.Name
	e.mu.Unlock()

	if first {
		e.log.Error().Float64("temperature", temp).Msg("Emergency threshold exceeded, forcing fans to maximum")
	}
	if applied != 100 {
		e.cancelRamp()
		e.write(100)
	}
	e.record(CycleRecord{
		Time:              e.clk.Now(),
		CurveInput:        temp,
		Target:            100,
		Applied:           100,
		Preset:            name,
		ThermalProtection: true,
	})
}

func (e *Engine) clearThermalProtection(temp float64) {
	e.mu.Lock()
	was := e.thermal
	e.thermal = false
	e.mu.Unlock()
	if was {
		e.log.Info().Float64("temperature", temp).Msg("Temperature back below emergency threshold")
	}
}

// observeFans feeds the spurious-reading filter. The controller read
// carries duty cycles; the sample map is the fallback when the
// controller exposes no telemetry.
func (e *Engine) observeFans(sampleFans map[string]float64) {
	tel := e.ctrl.ReadFanSpeeds()

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(tel) > 0 {
		for _, t := range tel {
			e.filter.Accept(t.Name, t.RPM, t.DutyPercent, t.HasDuty)
		}
		return
	}
	for name, rpm := range sampleFans {
		e.filter.Accept(name, rpm, 0, false)
	}
}

func (e *Engine) pushTemp(temp float64, window int) float64 {
	if window <= 1 {
		return temp
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.temps = append(e.temps, temp)
	if len(e.temps) > window {
		e.temps = e.temps[len(e.temps)-window:]
	}
	sum := 0.0
	for _, t := range e.temps {
		sum += t
	}
	return sum / float64(len(e.temps))
}

// drive moves from the applied percent toward target, smoothly when
// smoothing is enabled. Any in-flight ramp is cancelled first.
func (e *Engine) drive(from, target int, s preset.SmoothingSettings) {
	e.cancelRamp()
	if !s.Enabled || from == target {
		e.write(target)
		return
	}
	e.startRamp(from, target, s)
}

// ApplyPreset runs the apply → settle → verify → rollback protocol. A
// preset the hardware did not react to is automatically reverted to the
// previously active one and ErrNoEffect is returned.
func (e *Engine) ApplyPreset(p preset.FanPreset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Mode == preset.ModeMax {
		e.ApplyMaxCooling()
		return nil
	}

	e.mu.Lock()
	if e.diagMode {
		e.mu.Unlock()
		e.log.Info().Str("preset", p.Name).Msg("Diagnostic mode active, preset apply ignored")
		return nil
	}
	prev := e.active
	havePrev := e.haveActive
	e.mu.Unlock()

	e.cancelRamp()

	before := e.ctrl.ReadFanSpeeds()

	if !e.ctrl.ApplyPreset(p) {
		// One retry before giving up; the EC occasionally drops a write.
		if !e.ctrl.ApplyPreset(p) {
			return fmt.Errorf("controller rejected preset %q", p.Name)
		}
	}

	e.clk.Sleep(e.settleDelay())
	after := e.ctrl.ReadFanSpeeds()

	if !measurableChange(before, after) {
		if havePrev {
			e.ctrl.ApplyPreset(prev)
			e.setVerify(fmt.Sprintf("preset %q had no effect, rolled back to %q", p.Name, prev.Name))
			e.log.Warn().Str("preset", p.Name).Str("rolled_back_to", prev.Name).
				Msg("Preset verification failed, rolled back")
			return fmt.Errorf("%w: rolled back to %q", ErrNoEffect, prev.Name)
		}
		e.setVerify(fmt.Sprintf("preset %q had no effect, nothing to roll back to", p.Name))
		return ErrNoEffect
	}

	e.mu.Lock()
	e.active = p
	e.haveActive = true
	e.lastVerify = fmt.Sprintf("preset %q verified", p.Name)
	e.gate.Reset()
	e.temps = nil
	e.mu.Unlock()

	e.log.Info().Str("preset", p.Name).Msg("Preset applied and verified")
	e.saveLastUsed(p.Name)
	return nil
}

// ApplyMaxCooling is the distinguished shortcut: 100% on every fan,
// active preset "Max", no curve evaluation, no verify/rollback.
func (e *Engine) ApplyMaxCooling() {
	e.mu.Lock()
	if e.diagMode {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.cancelRamp()
	e.ctrl.ApplyMaxCooling()

	e.mu.Lock()
	e.applied = 100
	e.active = preset.FanPreset{Name: preset.MaxPresetName, Mode: preset.ModeMax, IsBuiltIn: true}
	e.haveActive = true
	e.gate.Reset()
	e.temps = nil
	e.mu.Unlock()

	if details, ok := e.ctrl.VerifyMaxApplied(); !ok {
		e.setVerify("max cooling not confirmed: " + details)
		e.log.Warn().Str("details", details).Msg("Max cooling not confirmed by controller")
	} else {
		e.setVerify("max cooling verified")
	}

	e.log.Info().Msg("Max cooling applied")
	e.saveLastUsed(preset.MaxPresetName)
}

// SetManualSpeed drives the fans to an explicit percent. Immediate
// bypasses smoothing and issues exactly one write.
func (e *Engine) SetManualSpeed(percent int, immediate bool) {
	percent = clampPercent(percent)

	e.mu.Lock()
	if e.diagMode {
		e.mu.Unlock()
		return
	}
	from := e.applied
	smoothing := e.cfg.Smoothing
	e.mu.Unlock()

	e.cancelRamp()
	if immediate || !smoothing.Enabled || from == percent {
		e.write(percent)
		return
	}
	e.startRamp(from, percent, smoothing)
}

// ApplyAutoMode hands fan control back to the hardware's automatic mode.
func (e *Engine) ApplyAutoMode() {
	e.mu.Lock()
	if e.diagMode {
		e.mu.Unlock()
		return
	}
	e.haveActive = false
	e.active = preset.FanPreset{}
	e.mu.Unlock()

	e.cancelRamp()
	e.ctrl.ApplyAutoMode()
	e.log.Info().Msg("Automatic fan control restored")
}

// RestoreAutoControl asks the controller to relinquish manual control,
// typically at shutdown.
func (e *Engine) RestoreAutoControl() bool {
	e.cancelRamp()
	return e.ctrl.RestoreAutoControl()
}

// SetDiagnosticMode freezes the active preset and suppresses all engine
// writes while diagnostic routines run.
func (e *Engine) SetDiagnosticMode(on bool) {
	e.mu.Lock()
	e.diagMode = on
	e.mu.Unlock()
	if on {
		e.cancelRamp()
	}
	e.log.Info().Bool("enabled", on).Msg("Diagnostic mode changed")
}

// UpdateSettings applies hot-reloaded tuning without restarting the
// loop. The evaluation interval itself is fixed for the process
// lifetime.
func (e *Engine) UpdateSettings(cfg config.EngineConfig) {
	e.mu.Lock()
	e.cfg.Hysteresis = cfg.Hysteresis
	e.cfg.Smoothing = cfg.Smoothing
	e.cfg.SafetyFloors = cfg.SafetyFloors
	e.cfg.EmergencyThresholdC = cfg.EmergencyThresholdC
	e.cfg.AverageWindow = cfg.AverageWindow
	e.gate.SetConfig(cfg.Hysteresis)
	e.mu.Unlock()
	e.log.Info().Msg("Engine settings reloaded")
}

// ActivePreset returns the verified active preset, if any.
func (e *Engine) ActivePreset() (preset.FanPreset, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, e.haveActive
}

// Diagnostics returns the engine's introspection snapshot.
func (e *Engine) Diagnostics() Diagnostics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Diagnostics{
		ActivePreset:      e.active.Name,
		AppliedPercent:    e.applied,
		ThermalProtection: e.thermal,
		DiagnosticMode:    e.diagMode,
		AcceptedRPMs:      e.filter.AcceptedRPMs(),
		LastVerification:  e.lastVerify,
	}
}

func (e *Engine) settleDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.SettleDelay
}

func (e *Engine) setVerify(s string) {
	e.mu.Lock()
	e.lastVerify = s
	e.mu.Unlock()
}

func (e *Engine) saveLastUsed(name string) {
	if e.store == nil {
		return
	}
	if err := e.store.SetLastUsed(name); err != nil {
		e.log.Warn().Err(err).Msg("Failed to persist last-used preset")
	}
}

func (e *Engine) record(r CycleRecord) {
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.Record(r); err != nil {
		e.log.Debug().Err(err).Msg("History record failed")
	}
}

// measurableChange reports whether any fan moved between the two reads.
func measurableChange(before, after []Telemetry) bool {
	prev := make(map[string]float64, len(before))
	for _, t := range before {
		prev[t.Name] = t.RPM
	}
	for _, t := range after {
		b, ok := prev[t.Name]
		if !ok {
			return true
		}
		if math.Abs(t.RPM-b) > rpmChangeEpsilon {
			return true
		}
	}
	return false
}
