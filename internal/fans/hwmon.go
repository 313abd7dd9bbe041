// Package fans provides fan controller implementations behind the
// engine's abstract controller capability.
package fans

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fancontrol/internal/engine"
	"fancontrol/internal/logger"
	"fancontrol/internal/preset"
)

// ErrNoController reports that no controllable fan hardware was found.
var ErrNoController = errors.New("no controllable fans found")

const (
	hwmonRoot = "/sys/class/hwmon"

	pwmManual = "1"
	pwmAuto   = "2"
	pwmMax    = 255
)

// pwmChannel is one hwmon pwm output with its paired tachometer.
type pwmChannel struct {
	name       string
	pwmPath    string
	enablePath string // empty when the chip has no pwmN_enable
	inputPath  string // empty when no fanN_input is paired
}

// hwmonController drives fans through the kernel hwmon pwm interface.
type hwmonController struct {
	channels []pwmChannel
}

// Detect scans hwmon for pwm outputs and returns a controller over them.
func Detect() (engine.Controller, error) {
	entries, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoController, err)
	}

	var channels []pwmChannel
	for _, e := range entries {
		dir := filepath.Join(hwmonRoot, e.Name())
		chip := readTrimmed(filepath.Join(dir, "name"))

		matches, _ := filepath.Glob(filepath.Join(dir, "pwm[0-9]"))
		sort.Strings(matches)
		for _, pwm := range matches {
			idx := strings.TrimPrefix(filepath.Base(pwm), "pwm")
			ch := pwmChannel{
				name:    fmt.Sprintf("%s/fan%s", chip, idx),
				pwmPath: pwm,
			}
			if enable := pwm + "_enable"; fileExists(enable) {
				ch.enablePath = enable
			}
			if input := filepath.Join(dir, "fan"+idx+"_input"); fileExists(input) {
				ch.inputPath = input
			}
			channels = append(channels, ch)
		}
	}

	if len(channels) == 0 {
		return nil, ErrNoController
	}

	log := logger.WithComponent("fans")
	for _, ch := range channels {
		log.Info().Str("fan", ch.name).Str("pwm", ch.pwmPath).Msg("Fan channel detected")
	}
	return &hwmonController{channels: channels}, nil
}

func (c *hwmonController) ApplyPreset(p preset.FanPreset) bool {
	switch p.Mode {
	case preset.ModeMax:
		c.ApplyMaxCooling()
		return true
	case preset.ModeAuto:
		// Curved automatic control: take manual ownership; the engine's
		// evaluation loop drives the percent from here on.
		if !c.setManual() {
			return false
		}
		if len(p.Curve) > 0 {
			return c.SetFanSpeed(p.Curve[0].FanPercent)
		}
		return true
	default:
		if !c.setManual() {
			return false
		}
		if len(p.Curve) > 0 {
			return c.SetFanSpeed(p.Curve[0].FanPercent)
		}
		return true
	}
}

func (c *hwmonController) ApplyCustomCurve(curve []preset.FanCurvePoint) bool {
	if !c.setManual() {
		return false
	}
	if len(curve) > 0 {
		return c.SetFanSpeed(curve[0].FanPercent)
	}
	return true
}

func (c *hwmonController) SetFanSpeed(percent int) bool {
	raw := percentToPWM(percent)
	ok := false
	for _, ch := range c.channels {
		if writeSysfs(ch.pwmPath, strconv.Itoa(raw)) == nil {
			ok = true
		}
	}
	return ok
}

func (c *hwmonController) SetFanSpeeds(cpuPercent, gpuPercent int) bool {
	if len(c.channels) == 1 {
		return c.SetFanSpeed(cpuPercent)
	}
	ok := writeSysfs(c.channels[0].pwmPath, strconv.Itoa(percentToPWM(cpuPercent))) == nil
	for _, ch := range c.channels[1:] {
		if writeSysfs(ch.pwmPath, strconv.Itoa(percentToPWM(gpuPercent))) == nil {
			ok = true
		}
	}
	return ok
}

func (c *hwmonController) ReadFanSpeeds() []engine.Telemetry {
	out := make([]engine.Telemetry, 0, len(c.channels))
	for _, ch := range c.channels {
		t := engine.Telemetry{Name: ch.name}
		if ch.inputPath != "" {
			if v, err := readSysfsInt(ch.inputPath); err == nil {
				t.RPM = float64(v)
			}
		}
		if v, err := readSysfsInt(ch.pwmPath); err == nil {
			t.DutyPercent = float64(v) * 100 / pwmMax
			t.HasDuty = true
		}
		out = append(out, t)
	}
	return out
}

func (c *hwmonController) ApplyMaxCooling() {
	c.setManual()
	for _, ch := range c.channels {
		writeSysfs(ch.pwmPath, strconv.Itoa(pwmMax))
	}
}

func (c *hwmonController) ApplyAutoMode() {
	for _, ch := range c.channels {
		if ch.enablePath != "" {
			writeSysfs(ch.enablePath, pwmAuto)
		}
	}
}

func (c *hwmonController) RestoreAutoControl() bool {
	ok := false
	for _, ch := range c.channels {
		if ch.enablePath != "" && writeSysfs(ch.enablePath, pwmAuto) == nil {
			ok = true
		}
	}
	return ok
}

func (c *hwmonController) VerifyMaxApplied() (string, bool) {
	var lagging []string
	for _, ch := range c.channels {
		v, err := readSysfsInt(ch.pwmPath)
		if err != nil || v < pwmMax-5 {
			lagging = append(lagging, fmt.Sprintf("%s=%d", ch.name, v))
		}
	}
	if len(lagging) == 0 {
		return "all channels at maximum", true
	}
	return "channels below maximum: " + strings.Join(lagging, ", "), false
}

func (c *hwmonController) setManual() bool {
	ok := false
	for _, ch := range c.channels {
		if ch.enablePath == "" {
			ok = true
			continue
		}
		if writeSysfs(ch.enablePath, pwmManual) == nil {
			ok = true
		}
	}
	return ok
}

func percentToPWM(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent * pwmMax / 100
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "hwmon"
	}
	return strings.TrimSpace(string(data))
}

func readSysfsInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}
