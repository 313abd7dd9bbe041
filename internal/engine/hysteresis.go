package engine

import (
	"math"
	"time"

	"fancontrol/internal/preset"
)

// hystGate holds a target back until the demand is sustained. The dead
// zone is in degrees: a target change driven by a temperature move
// smaller than DeadZoneC from the last accepted point is jitter and is
// dropped. Beyond the dead zone the new direction must persist for the
// configured ramp delay before the target passes through.
type hystGate struct {
	cfg preset.HysteresisSettings

	haveBase bool
	baseTemp float64

	pendingDir   int
	pendingSince time.Time
}

func newHystGate(cfg preset.HysteresisSettings) *hystGate {
	return &hystGate{cfg: cfg}
}

func (g *hystGate) SetConfig(cfg preset.HysteresisSettings) {
	g.cfg = cfg
	g.pendingDir = 0
}

// Reset clears sustained-demand state, e.g. after a preset change.
func (g *hystGate) Reset() {
	g.haveBase = false
	g.pendingDir = 0
}

// Filter returns the percent to drive toward given the current applied
// percent and the freshly evaluated target at temp.
func (g *hystGate) Filter(now time.Time, temp float64, current, target int) int {
	if !g.cfg.Enabled {
		g.baseTemp = temp
		g.haveBase = true
		return target
	}

	if target == current {
		g.pendingDir = 0
		return current
	}

	if g.haveBase && math.Abs(temp-g.baseTemp) <= g.cfg.DeadZoneC {
		g.pendingDir = 0
		return current
	}

	dir := 1
	delay := g.cfg.RampUpDelay()
	if target < current {
		dir = -1
		delay = g.cfg.RampDownDelay()
	}

	if g.pendingDir != dir {
		g.pendingDir = dir
		g.pendingSince = now
		return current
	}

	if now.Sub(g.pendingSince) < delay {
		return current
	}

	g.baseTemp = temp
	g.haveBase = true
	g.pendingDir = 0
	return target
}
