package engine

import (
	"math"

	"fancontrol/internal/config"
	"fancontrol/internal/preset"
)

// interpolate evaluates the piecewise-linear curve at temp. Below the
// first point it returns the first percent, above the last the last.
func interpolate(curve []preset.FanCurvePoint, temp float64) int {
	if len(curve) == 0 {
		return 0
	}
	if temp <= curve[0].TemperatureC {
		return curve[0].FanPercent
	}
	last := curve[len(curve)-1]
	if temp >= last.TemperatureC {
		return last.FanPercent
	}

	for i := 1; i < len(curve); i++ {
		lo, hi := curve[i-1], curve[i]
		if temp > hi.TemperatureC {
			continue
		}
		span := hi.TemperatureC - lo.TemperatureC
		if span <= 0 {
			return hi.FanPercent
		}
		frac := (temp - lo.TemperatureC) / span
		v := float64(lo.FanPercent) + frac*float64(hi.FanPercent-lo.FanPercent)
		return int(math.Round(v))
	}
	return last.FanPercent
}

// safetyFloor returns the minimum percent for temp across the configured
// bands. Bands are checked highest threshold first so overlapping bands
// resolve to the strictest floor.
func safetyFloor(bands []config.FloorBand, temp float64) int {
	floor := 0
	for _, b := range bands {
		if temp >= b.ThresholdC && b.MinPercent > floor {
			floor = b.MinPercent
		}
	}
	return floor
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
