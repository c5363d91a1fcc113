// Package tension converts a capillary wavelength into a surface tension
// using the capillary-gravity dispersion relation
//
//	ω² = g·k + (γ/ρ)·k³
//
// solved for γ with unit-adjusted density.
package tension

import (
	"errors"
	"fmt"
	"math"
)

// Gravity is the gravitational acceleration used by the relation, m/s².
// It is kept at 9.8 so results stay comparable with earlier measurements.
const Gravity = 9.8

// DefaultFrequencyHz is the stimulus frequency of the stock exciter.
const DefaultFrequencyHz = 144.5

var (
	ErrInvalidWavelength = errors.New("wavelength must be positive")
	ErrInvalidResolution = errors.New("resolution must be positive")
	ErrInvalidFrequency  = errors.New("frequency must be positive")
	ErrNonFinite         = errors.New("tension is not finite")
)

// Tension returns the surface tension in mN/m for a wavelength measured
// in pixels, an optical resolution in pixels per meter and the stimulus
// frequency in Hz.
func Tension(wavelengthPx, resolutionPxPerM, frequencyHz float64) (float64, error) {
	if !(wavelengthPx > 0) || math.IsInf(wavelengthPx, 0) {
		return 0, fmt.Errorf("%w: %v px", ErrInvalidWavelength, wavelengthPx)
	}
	if !(resolutionPxPerM > 0) || math.IsInf(resolutionPxPerM, 0) {
		return 0, fmt.Errorf("%w: %v px/m", ErrInvalidResolution, resolutionPxPerM)
	}
	if !(frequencyHz > 0) || math.IsInf(frequencyHz, 0) {
		return 0, fmt.Errorf("%w: %v Hz", ErrInvalidFrequency, frequencyHz)
	}

	l := wavelengthPx / resolutionPxPerM // meters
	k := 2 * math.Pi / l                 // wavenumber
	w := 2 * math.Pi * frequencyHz       // angular frequency
	v := (w*w - k*Gravity) / math.Pow(k, 3) * 1e6

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	return v, nil
}
