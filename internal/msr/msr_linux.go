//go:build linux

package msr

import (
	"encoding/binary"
	"fmt"
	"os"
)

const msrDevice = "/dev/cpu/0/msr"

type deviceReader struct {
	f *os.File
}

// Open opens the MSR device for CPU 0. Requires the msr kernel module and
// sufficient privileges; failure means the fallback path stays disabled.
func Open() (Reader, error) {
	f, err := os.Open(msrDevice)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &deviceReader{f: f}, nil
}

func (r *deviceReader) Read(reg uint32) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := r.f.ReadAt(buf, int64(reg)); err != nil {
		return 0, fmt.Errorf("msr read 0x%X: %w", reg, err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (r *deviceReader) Close() error {
	return r.f.Close()
}
