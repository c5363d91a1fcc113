package measure

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cjeanneret/RippleGo/internal/logic/geometry"
	"github.com/cjeanneret/RippleGo/internal/logic/tension"
)

// DefaultCount is the number of frames captured when the user leaves the
// count empty.
const DefaultCount = 5

// Texts shown in place of a result when validation fails.
const (
	InvalidInputText    = "Invalid input"
	InvalidDistanceText = "Invalid distance"
)

// ParseParameters turns the raw form values into parameters and a capture
// count. density may be empty; count defaults to DefaultCount when empty;
// a zero frequency selects the stock stimulus frequency.
func ParseParameters(distance, density, count string, frequencyHz float64) (PhysicalParameters, int, error) {
	var p PhysicalParameters

	d, err := strconv.ParseFloat(strings.TrimSpace(distance), 64)
	if err != nil {
		return p, 0, fmt.Errorf("%w: distance %q", ErrInvalidInput, distance)
	}
	p.DistanceMm = d

	if s := strings.TrimSpace(density); s != "" {
		rho, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return p, 0, fmt.Errorf("%w: density %q", ErrInvalidInput, density)
		}
		p.DensityGPerCm3 = rho
	}

	n := DefaultCount
	if s := strings.TrimSpace(count); s != "" {
		n, err = strconv.Atoi(s)
		if err != nil {
			return p, 0, fmt.Errorf("%w: count %q", ErrInvalidInput, count)
		}
	}

	p.FrequencyHz = frequencyHz
	if err := validate(&p, n); err != nil {
		return p, 0, err
	}
	return p, n, nil
}

// validate checks p and n and fills the default frequency.
func validate(p *PhysicalParameters, n int) error {
	if math.IsNaN(p.DistanceMm) || math.IsInf(p.DistanceMm, 0) {
		return fmt.Errorf("%w: distance %v", ErrInvalidInput, p.DistanceMm)
	}
	if p.DistanceMm <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, geometry.ErrInvalidDistance)
	}
	if n <= 0 {
		return fmt.Errorf("%w: count %d", ErrInvalidInput, n)
	}
	if math.IsNaN(p.DensityGPerCm3) || math.IsInf(p.DensityGPerCm3, 0) {
		return fmt.Errorf("%w: density %v", ErrInvalidInput, p.DensityGPerCm3)
	}
	if p.FrequencyHz == 0 {
		p.FrequencyHz = tension.DefaultFrequencyHz
	}
	if !(p.FrequencyHz > 0) || math.IsInf(p.FrequencyHz, 0) {
		return fmt.Errorf("%w: frequency %v", ErrInvalidInput, p.FrequencyHz)
	}
	return nil
}

// FormatTension renders a tension in mN/m with two decimals.
func FormatTension(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Message returns the text shown for a run error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, geometry.ErrInvalidDistance):
		return InvalidDistanceText
	case errors.Is(err, ErrInvalidInput):
		return InvalidInputText
	}
	return err.Error()
}
