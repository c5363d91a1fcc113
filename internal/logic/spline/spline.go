// Package spline holds the small numerical helpers used to turn a cloud
// of ripple interval samples into one sub-sample wavelength estimate.
package spline

import (
	"errors"
	"math"
)

var (
	ErrTooFewSamples = errors.New("need at least three samples")
	ErrPeakAtEdge    = errors.New("maximum at the first or the last sample")
	ErrNoRoot        = errors.New("no zero-gradient point in the peak segment")
	ErrNoIntervals   = errors.New("no interval within the histogram range")
)

// secondDerivatives returns the second derivatives of the natural cubic
// spline through y sampled at unit spacing. The end points are zero.
func secondDerivatives(y []float64) []float64 {
	n := len(y)
	m := make([]float64, n)
	k := n - 2
	if k <= 0 {
		return m
	}

	// Tridiagonal system m[i-1] + 4 m[i] + m[i+1] = 6 Δ²y[i], solved with
	// the Thomas algorithm.
	cp := make([]float64, k)
	dp := make([]float64, k)
	for j := 0; j < k; j++ {
		i := j + 1
		d := 6 * (y[i+1] - 2*y[i] + y[i-1])
		if j == 0 {
			cp[j] = 1.0 / 4
			dp[j] = d / 4
			continue
		}
		den := 4 - cp[j-1]
		cp[j] = 1 / den
		dp[j] = (d - dp[j-1]) / den
	}
	m[k] = dp[k-1]
	for j := k - 2; j >= 0; j-- {
		m[j+1] = dp[j] - cp[j]*m[j+2]
	}
	return m
}

// peakSegment returns the index i such that the spline maximum lies in
// [i-1, i].
func peakSegment(y []float64) (int, error) {
	loc := Argmax(y)
	if loc <= 0 || loc == len(y)-1 {
		return 0, ErrPeakAtEdge
	}
	if y[loc-1] > y[loc+1] {
		return loc, nil
	}
	return loc + 1, nil
}

// PeakRefinement fits a natural cubic spline through y (unit spacing) and
// returns the fractional index where its gradient vanishes near the
// maximum sample.
func PeakRefinement(y []float64) (float64, error) {
	if len(y) < 3 {
		return 0, ErrTooFewSamples
	}
	m := secondDerivatives(y)
	i, err := peakSegment(y)
	if err != nil {
		return 0, err
	}

	// S'(x) on [i-1, i] as a quadratic in t = i - x.
	a := (m[i] - m[i-1]) / 2
	b := -m[i]
	c := m[i]/2 + y[i] - y[i-1] - (m[i]-m[i-1])/6

	if math.Abs(a) < 1e-6 {
		if b == 0 {
			return 0, ErrNoRoot
		}
		return float64(i) + c/b, nil
	}
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, ErrNoRoot
	}
	sq := math.Sqrt(disc)
	r1 := (-b + sq) / (2 * a)
	r2 := (-b - sq) / (2 * a)
	switch {
	case r1 > -0.1 && r1 < 1.1:
		return float64(i) - r1, nil
	case r2 >= 0 && r2 <= 1:
		return float64(i) - r2, nil
	}
	return 0, ErrNoRoot
}

// Histogram range of the coarse pass, in pixels.
const (
	coarseMin  = 80.0
	coarseMax  = 160.0
	coarseBins = 100
	fineSpan   = 10.0
)

// Histogram bins interval samples in two passes. A coarse pass of 100
// bins over [80, 160) locates the mode; the fine pass then spreads bins
// bins over [mode-10, mode+10). It returns the left edge of each fine bin
// and its count.
func Histogram(intervals []float64, bins int) (x, v []float64, err error) {
	if bins <= 0 {
		return nil, nil, errors.New("bins must be positive")
	}

	var coarse [coarseBins]int
	delta := (coarseMax + 0.01 - coarseMin) / coarseBins
	seen := false
	for _, iv := range intervals {
		if iv >= coarseMin && iv < coarseMax {
			coarse[int(math.Floor((iv-coarseMin)/delta))]++
			seen = true
		}
	}
	if !seen {
		return nil, nil, ErrNoIntervals
	}

	best, mode := 0, 0.0
	for i, n := range coarse {
		if n > best {
			best = n
			mode = float64(i)*delta + coarseMin
		}
	}

	lo, hi := mode-fineSpan, mode+fineSpan
	delta = (hi - lo) / float64(bins)
	x = make([]float64, bins)
	v = make([]float64, bins)
	for _, iv := range intervals {
		idx := math.Floor((iv - lo) / delta)
		if idx >= 0 && idx < float64(bins) {
			v[int(idx)]++
		}
	}
	for i := range x {
		x[i] = delta*float64(i) + lo
	}
	return x, v, nil
}

// Argmax returns the index of the first largest value, or -1 when values
// is empty. NaNs are skipped.
func Argmax(values []float64) int {
	loc := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if loc < 0 || v > values[loc] {
			loc = i
		}
	}
	return loc
}

// Mode estimates the dominant interval of samples: the fine histogram
// peak refined to sub-bin precision. When refinement fails the left edge
// of the tallest bin is returned.
func Mode(intervals []float64, bins int) (float64, error) {
	x, v, err := Histogram(intervals, bins)
	if err != nil {
		return 0, err
	}
	step := 0.0
	if len(x) > 1 {
		step = x[1] - x[0]
	}
	if r, err := PeakRefinement(v); err == nil && r >= 0 && r <= float64(len(x)-1) {
		return x[0] + r*step, nil
	}
	return x[Argmax(v)], nil
}
