package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/RippleGo/internal/config"
)

// Reference optical constants for the stock rig: base resolution of the
// camera at full size and the geometry constant of the lens mount.
const (
	DefaultBaseResolution   = 39500.0
	DefaultGeometryConstant = 87.0
)

var (
	ErrInvalidDistance    = errors.New("invalid distance")
	ErrInvalidCalibration = errors.New("invalid optical calibration")
)

// Calibration converts the camera-to-surface distance into an optical
// resolution in pixels per meter.
// Formula: resolution = base / resize × geometry / distance_mm
type Calibration struct {
	BaseResolution   float64
	GeometryConstant float64
	// ResizeFactor accounts for images downscaled before analysis.
	// 1 means full-size frames.
	ResizeFactor float64
}

// DefaultCalibration returns the constants of the stock rig.
func DefaultCalibration() Calibration {
	return Calibration{
		BaseResolution:   DefaultBaseResolution,
		GeometryConstant: DefaultGeometryConstant,
		ResizeFactor:     1,
	}
}

// NewCalibration builds a Calibration from the optics section of cfg.
func NewCalibration(cfg *config.Config) Calibration {
	return Calibration{
		BaseResolution:   cfg.Optics.BaseResolution,
		GeometryConstant: cfg.Optics.GeometryConstant,
		ResizeFactor:     cfg.Optics.ResizeFactor,
	}
}

// Validate checks that every constant is finite and strictly positive.
func (c Calibration) Validate() error {
	for name, v := range map[string]float64{
		"base resolution":   c.BaseResolution,
		"geometry constant": c.GeometryConstant,
		"resize factor":     c.ResizeFactor,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidCalibration, name, v)
		}
	}
	return nil
}

// Resolution returns the optical resolution in pixels per meter for a
// subject distanceMm away. It fails for non-positive or non-finite
// distances.
func (c Calibration) Resolution(distanceMm float64) (float64, error) {
	if !(distanceMm > 0) || math.IsInf(distanceMm, 0) {
		return 0, fmt.Errorf("%w: %v mm", ErrInvalidDistance, distanceMm)
	}
	if err := c.Validate(); err != nil {
		return 0, err
	}
	return c.BaseResolution / c.ResizeFactor * c.GeometryConstant / distanceMm, nil
}
