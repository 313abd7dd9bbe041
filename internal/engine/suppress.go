package engine

// rpmFilter separates genuine fan-speed transitions from single garbage
// readings. A changed RPM is accepted only once seen on two consecutive
// reads, with two exceptions driven by the duty cycle: a drop confirmed
// by zero duty is a genuine stop and lands immediately, and a zero RPM
// read against a non-zero duty is a tachometer glitch and never lands.
type rpmFilter struct {
	accepted map[string]float64
	pending  map[string]float64
}

func newRPMFilter() *rpmFilter {
	return &rpmFilter{
		accepted: make(map[string]float64),
		pending:  make(map[string]float64),
	}
}

// Accept feeds one reading for the named fan and returns the filter's
// current accepted RPM for it.
func (f *rpmFilter) Accept(name string, rpm, duty float64, hasDuty bool) float64 {
	acc, seen := f.accepted[name]
	if !seen {
		f.accepted[name] = rpm
		return rpm
	}
	if rpm == acc {
		delete(f.pending, name)
		return acc
	}

	// Genuine stop: the fan wound down and the duty cycle agrees.
	if rpm < acc && hasDuty && duty == 0 {
		f.accepted[name] = rpm
		delete(f.pending, name)
		return rpm
	}

	// Tachometer glitch: zero RPM while the fan is still being driven.
	// Repetition does not make it true.
	if rpm == 0 && hasDuty && duty > 0 {
		delete(f.pending, name)
		return acc
	}

	// Corroborated spin-up from standstill.
	if acc == 0 && rpm > 0 && hasDuty && duty > 0 {
		f.accepted[name] = rpm
		delete(f.pending, name)
		return rpm
	}

	if p, ok := f.pending[name]; ok && p == rpm {
		f.accepted[name] = rpm
		delete(f.pending, name)
		return rpm
	}
	f.pending[name] = rpm
	return acc
}

// AcceptedRPMs returns a copy of the accepted value per fan.
func (f *rpmFilter) AcceptedRPMs() map[string]float64 {
	out := make(map[string]float64, len(f.accepted))
	for k, v := range f.accepted {
		out[k] = v
	}
	return out
}
