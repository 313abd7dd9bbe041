package sensor

import "strings"

// Resolve maps a logical metric to a concrete reading using an ordered
// candidate name list (vendor aliases, most stable first: package/die
// sensors before individual cores). If no candidate matches, any reading
// of the expected kind is used. Returns false when the metric cannot be
// resolved at all; callers keep the previous value in that case.
func Resolve(readings []Reading, kind Kind, candidates []string) (float64, bool) {
	for _, want := range candidates {
		for _, r := range readings {
			if r.Kind == kind && strings.EqualFold(r.Name, want) {
				return r.Value, true
			}
		}
	}

	// Any sensor of the expected kind.
	for _, r := range readings {
		if r.Kind == kind {
			return r.Value, true
		}
	}

	return 0, false
}

// ResolveAll returns every reading of the given kind whose name carries the
// given prefix, in backend order. Used for per-core metrics.
func ResolveAll(readings []Reading, kind Kind, prefix string) []float64 {
	var values []float64
	for _, r := range readings {
		if r.Kind != kind {
			continue
		}
		if prefix != "" && !strings.HasPrefix(strings.ToLower(r.Name), strings.ToLower(prefix)) {
			continue
		}
		values = append(values, r.Value)
	}
	return values
}

// ResolveNamed returns the reading with the exact name, case-insensitively.
func ResolveNamed(readings []Reading, kind Kind, name string) (float64, bool) {
	for _, r := range readings {
		if r.Kind == kind && strings.EqualFold(r.Name, name) {
			return r.Value, true
		}
	}
	return 0, false
}
