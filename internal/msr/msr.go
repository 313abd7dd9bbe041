// Package msr provides the low-level model-specific-register read
// capability used as the CPU temperature fallback path.
package msr

import (
	"errors"
	"fmt"
)

// Registers used by the package thermal fallback.
const (
	// RegPackageThermStatus is IA32_PACKAGE_THERM_STATUS.
	RegPackageThermStatus = 0x1B1
	// RegTemperatureTarget is MSR_TEMPERATURE_TARGET, holding TjMax.
	RegTemperatureTarget = 0x1A2

	thermValidBit    = 1 << 31
	thermOffsetMask  = 0x7F
	thermOffsetShift = 16

	tjMaxShift = 16
	tjMaxMask  = 0xFF

	// DefaultTjMax is used when MSR_TEMPERATURE_TARGET cannot be read.
	DefaultTjMax = 100.0

	maxPlausibleTemp = 150.0
)

// Reader reads one 64-bit MSR by register address.
type Reader interface {
	Read(reg uint32) (uint64, error)
	Close() error
}

var (
	ErrUnavailable    = errors.New("msr capability unavailable")
	ErrReadingInvalid = errors.New("package thermal reading not valid")
	ErrOutOfRange     = errors.New("decoded temperature out of range")
)

// DecodePackageTherm decodes IA32_PACKAGE_THERM_STATUS into a die
// temperature: the reading-valid bit must be set, the 7-bit digital
// readout is an offset below TjMax, and the result must fall inside
// (0, 150) to be trusted.
func DecodePackageTherm(status uint64, tjMax float64) (float64, error) {
	if status&thermValidBit == 0 {
		return 0, ErrReadingInvalid
	}

	offset := float64((status >> thermOffsetShift) & thermOffsetMask)
	t := tjMax - offset
	if t <= 0 || t >= maxPlausibleTemp {
		return 0, fmt.Errorf("%w: %.0f", ErrOutOfRange, t)
	}

	return t, nil
}

// DecodeTjMax extracts TjMax from MSR_TEMPERATURE_TARGET.
func DecodeTjMax(raw uint64) float64 {
	tjMax := float64((raw >> tjMaxShift) & tjMaxMask)
	if tjMax <= 0 || tjMax >= maxPlausibleTemp {
		return DefaultTjMax
	}
	return tjMax
}

// PackageTemp reads the CPU package die temperature through a Reader.
type PackageTemp struct {
	reader Reader
	tjMax  float64
}

// NewPackageTemp wires a Reader and resolves TjMax once at startup.
func NewPackageTemp(r Reader) *PackageTemp {
	tjMax := DefaultTjMax
	if raw, err := r.Read(RegTemperatureTarget); err == nil {
		tjMax = DecodeTjMax(raw)
	}
	return &PackageTemp{reader: r, tjMax: tjMax}
}

// TjMax returns the resolved maximum junction temperature.
func (p *PackageTemp) TjMax() float64 { return p.tjMax }

// Read returns the current package die temperature.
func (p *PackageTemp) Read() (float64, error) {
	raw, err := p.reader.Read(RegPackageThermStatus)
	if err != nil {
		return 0, err
	}
	return DecodePackageTherm(raw, p.tjMax)
}

// Close releases the underlying reader.
func (p *PackageTemp) Close() error {
	return p.reader.Close()
}
