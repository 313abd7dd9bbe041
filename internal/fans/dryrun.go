package fans

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"fancontrol/internal/engine"
	"fancontrol/internal/logger"
	"fancontrol/internal/preset"
)

// dryRunController is used when no controllable hardware is present: it
// accepts every command, logs it and mirrors it back through
// ReadFanSpeeds so the engine (and its verification step) still runs.
type dryRunController struct {
	log zerolog.Logger

	mu      sync.Mutex
	percent int
	rpm     float64
}

// NewDryRun returns a controller that only logs. Telemetry is synthesized
// from the last commanded percent.
func NewDryRun() engine.Controller {
	return &dryRunController{log: logger.WithComponent("fans-dryrun")}
}

func (c *dryRunController) set(percent int) {
	c.mu.Lock()
	c.percent = percent
	c.rpm = float64(percent) * 50 // nominal 5000 RPM at 100%
	c.mu.Unlock()
}

func (c *dryRunController) ApplyPreset(p preset.FanPreset) bool {
	c.log.Info().Str("preset", p.Name).Msg("Dry run: apply preset")
	if p.Mode == preset.ModeMax {
		c.set(100)
	} else if len(p.Curve) > 0 {
		c.set(p.Curve[0].FanPercent)
	}
	return true
}

func (c *dryRunController) ApplyCustomCurve(curve []preset.FanCurvePoint) bool {
	c.log.Info().Int("points", len(curve)).Msg("Dry run: apply custom curve")
	if len(curve) > 0 {
		c.set(curve[0].FanPercent)
	}
	return true
}

func (c *dryRunController) SetFanSpeed(percent int) bool {
	c.log.Info().Int("percent", percent).Msg("Dry run: set fan speed")
	c.set(percent)
	return true
}

func (c *dryRunController) SetFanSpeeds(cpuPercent, gpuPercent int) bool {
	c.log.Info().Int("cpu", cpuPercent).Int("gpu", gpuPercent).Msg("Dry run: set fan speeds")
	c.set(cpuPercent)
	return true
}

func (c *dryRunController) ReadFanSpeeds() []engine.Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []engine.Telemetry{{
		Name:        "dryrun",
		RPM:         c.rpm,
		DutyPercent: float64(c.percent),
		HasDuty:     true,
	}}
}

func (c *dryRunController) ApplyMaxCooling() {
	c.log.Info().Msg("Dry run: max cooling")
	c.set(100)
}

func (c *dryRunController) ApplyAutoMode() {
	c.log.Info().Msg("Dry run: auto mode")
}

func (c *dryRunController) RestoreAutoControl() bool {
	c.log.Info().Msg("Dry run: restore auto control")
	return true
}

func (c *dryRunController) VerifyMaxApplied() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.percent == 100 {
		return "dry run at maximum", true
	}
	return fmt.Sprintf("dry run at %d%%", c.percent), false
}
