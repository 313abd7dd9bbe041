package engine

import (
	"time"

	"fancontrol/internal/preset"
)

// rampHandle is one in-flight smoothing ramp. Closing stop cancels it;
// done closes when the goroutine has fully exited, so cancellation is
// lossless: the last applied percent is whatever was last written.
type rampHandle struct {
	stop chan struct{}
	done chan struct{}
}

// cancelRamp stops any in-flight ramp and waits for it to exit. Must be
// called before issuing a new target so stale intermediate steps never
// land after a newer command.
func (e *Engine) cancelRamp() {
	e.rampMu.Lock()
	h := e.ramp
	e.ramp = nil
	e.rampMu.Unlock()

	if h == nil {
		return
	}
	close(h.stop)
	<-h.done
}

func (e *Engine) startRamp(from, to int, s preset.SmoothingSettings) {
	h := &rampHandle{stop: make(chan struct{}), done: make(chan struct{})}

	e.rampMu.Lock()
	e.ramp = h
	e.rampMu.Unlock()

	e.wg.Add(1)
	go e.runRamp(h, from, to, s)
}

func (e *Engine) runRamp(h *rampHandle, from, to int, s preset.SmoothingSettings) {
	defer e.wg.Done()
	defer close(h.done)

	steps := 1
	if s.StepMs > 0 && s.DurationMs > s.StepMs {
		steps = s.DurationMs / s.StepMs
	}
	stepDur := time.Duration(s.StepMs) * time.Millisecond

	for i := 1; i <= steps; i++ {
		timer := e.clk.Timer(stepDur)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		p := from + (to-from)*i/steps
		if i == steps {
			// The final step is always the exact target.
			p = to
		}
		e.write(p)
	}
}

// write issues one SetFanSpeed call and records it as the applied
// percent only if the controller accepted it.
func (e *Engine) write(p int) bool {
	if !e.ctrl.SetFanSpeed(p) {
		e.log.Warn().Int("percent", p).Msg("Controller rejected fan speed write")
		return false
	}
	e.mu.Lock()
	e.applied = p
	e.mu.Unlock()
	return true
}
