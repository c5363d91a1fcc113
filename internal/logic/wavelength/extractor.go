// Package wavelength wraps the image analysis that measures the ripple
// wavelength, in pixels, across a batch of frames.
package wavelength

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/RippleGo/internal/hw/camera"
)

var (
	ErrEmptyBatch   = errors.New("empty frame batch")
	ErrNoWavelength = errors.New("no usable wavelength")
)

// Extractor maps an ordered, non-empty frame batch to one wavelength in
// pixels.
type Extractor interface {
	Extract(ctx context.Context, frames []camera.Frame) (float64, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, frames []camera.Frame) (float64, error)

func (f Func) Extract(ctx context.Context, frames []camera.Frame) (float64, error) {
	return f(ctx, frames)
}

// Fixed always reports the same wavelength. It stands in for the analysis
// on a bench without optics.
type Fixed struct {
	Wavelength float64
}

func (f Fixed) Extract(_ context.Context, _ []camera.Frame) (float64, error) {
	return f.Wavelength, nil
}

type safe struct {
	next Extractor
}

// Safe guards an extractor: empty batches are rejected before it runs, a
// panic is turned into an error and a non-finite or non-positive result
// is reported as ErrNoWavelength.
func Safe(next Extractor) Extractor {
	return &safe{next: next}
}

func (s *safe) Extract(ctx context.Context, frames []camera.Frame) (wl float64, err error) {
	if len(frames) == 0 {
		return 0, ErrEmptyBatch
	}
	defer func() {
		if r := recover(); r != nil {
			wl, err = 0, fmt.Errorf("extractor panic: %v", r)
		}
	}()

	wl, err = s.next.Extract(ctx, frames)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(wl) || math.IsInf(wl, 0) || wl <= 0 {
		return 0, fmt.Errorf("%w: %v px", ErrNoWavelength, wl)
	}
	return wl, nil
}
