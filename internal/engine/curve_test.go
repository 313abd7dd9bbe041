package engine

import (
	"testing"

	"fancontrol/internal/config"
	"fancontrol/internal/preset"
)

func TestInterpolate(t *testing.T) {
	curve := []preset.FanCurvePoint{
		{TemperatureC: 40, FanPercent: 20},
		{TemperatureC: 60, FanPercent: 40},
		{TemperatureC: 90, FanPercent: 100},
	}

	tests := []struct {
		name string
		temp float64
		want int
	}{
		{"below first point", 20, 20},
		{"at first point", 40, 20},
		{"midpoint of first segment", 50, 30},
		{"at middle point", 60, 40},
		{"inside second segment", 75, 70},
		{"at last point", 90, 100},
		{"above last point", 120, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := interpolate(curve, tt.temp); got != tt.want {
				t.Errorf("interpolate(%.0f) = %d; want %d", tt.temp, got, tt.want)
			}
		})
	}
}

func TestInterpolateEmptyCurve(t *testing.T) {
	if got := interpolate(nil, 50); got != 0 {
		t.Errorf("interpolate(nil, 50) = %d; want 0", got)
	}
}

func TestSafetyFloor(t *testing.T) {
	bands := []config.FloorBand{
		{ThresholdC: 70, MinPercent: 20},
		{ThresholdC: 80, MinPercent: 40},
		{ThresholdC: 90, MinPercent: 70},
	}

	tests := []struct {
		temp float64
		want int
	}{
		{50, 0},
		{70, 20},
		{79.9, 20},
		{80, 40},
		{92, 70},
	}
	for _, tt := range tests {
		if got := safetyFloor(bands, tt.temp); got != tt.want {
			t.Errorf("safetyFloor(%.1f) = %d; want %d", tt.temp, got, tt.want)
		}
	}
}

func TestClampPercent(t *testing.T) {
	if got := clampPercent(-5); got != 0 {
		t.Errorf("clampPercent(-5) = %d; want 0", got)
	}
	if got := clampPercent(150); got != 100 {
		t.Errorf("clampPercent(150) = %d; want 100", got)
	}
	if got := clampPercent(55); got != 55 {
		t.Errorf("clampPercent(55) = %d; want 55", got)
	}
}
