package engine

import (
	"testing"
	"time"

	"fancontrol/internal/preset"
)

func hystConfig() preset.HysteresisSettings {
	return preset.HysteresisSettings{
		Enabled:              true,
		DeadZoneC:            3,
		RampUpDelayS:         2,
		RampDownDelaySeconds: 10,
	}
}

func TestHysteresisDisabledPassesThrough(t *testing.T) {
	g := newHystGate(preset.HysteresisSettings{Enabled: false})
	now := time.Now()
	if got := g.Filter(now, 50, 20, 80); got != 80 {
		t.Errorf("Filter = %d; want 80 with hysteresis disabled", got)
	}
}

func TestHysteresisDeadZoneDropsJitter(t *testing.T) {
	g := newHystGate(hystConfig())
	now := time.Now()

	// Establish the accepted baseline at 50 degrees.
	g.cfg.Enabled = false
	g.Filter(now, 50, 20, 30)
	g.cfg.Enabled = true

	// A 2-degree wiggle is inside the dead zone.
	if got := g.Filter(now, 52, 30, 35); got != 30 {
		t.Errorf("Filter inside dead zone = %d; want held 30", got)
	}
}

func TestHysteresisSustainedRampUp(t *testing.T) {
	g := newHystGate(hystConfig())
	now := time.Now()

	// First sighting of the increase starts the sustain clock.
	if got := g.Filter(now, 60, 30, 60); got != 30 {
		t.Errorf("first demand = %d; want held 30", got)
	}
	// Still inside the ramp-up delay.
	if got := g.Filter(now.Add(time.Second), 60, 30, 60); got != 30 {
		t.Errorf("demand at 1s = %d; want held 30", got)
	}
	// Sustained past RampUpDelayS.
	if got := g.Filter(now.Add(2*time.Second), 61, 30, 62); got != 62 {
		t.Errorf("demand at 2s = %d; want accepted 62", got)
	}
}

func TestHysteresisRampDownUsesLongerDelay(t *testing.T) {
	g := newHystGate(hystConfig())
	now := time.Now()

	if got := g.Filter(now, 40, 60, 20); got != 60 {
		t.Errorf("first decrease = %d; want held 60", got)
	}
	// The ramp-up delay is not enough for a decrease.
	if got := g.Filter(now.Add(3*time.Second), 40, 60, 20); got != 60 {
		t.Errorf("decrease at 3s = %d; want held 60", got)
	}
	if got := g.Filter(now.Add(10*time.Second), 40, 60, 20); got != 20 {
		t.Errorf("decrease at 10s = %d; want accepted 20", got)
	}
}

func TestHysteresisDirectionChangeRestartsClock(t *testing.T) {
	g := newHystGate(hystConfig())
	now := time.Now()

	g.Filter(now, 60, 30, 60)                      // up demand starts
	g.Filter(now.Add(time.Second), 40, 30, 10)     // direction flips down
	got := g.Filter(now.Add(3*time.Second), 60, 30, 60) // up again, clock restarted
	if got != 30 {
		t.Errorf("after direction flip = %d; want held 30", got)
	}
}
