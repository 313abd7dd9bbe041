//go:build !linux

package msr

// Open reports the MSR capability as unavailable. On platforms without a
// direct MSR device the worker keeps reporting the primary path as-is.
func Open() (Reader, error) {
	return nil, ErrUnavailable
}
