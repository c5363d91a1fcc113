package wavelength

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/hw/camera"
	"github.com/cjeanneret/RippleGo/internal/logic/spline"
)

// DefaultBins is the fine histogram resolution used when the analysis
// program prints raw interval samples.
const DefaultBins = 40

// Runner executes a program and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the program with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var ee *exec.ExitError
	if errors.As(err, &ee) && len(ee.Stderr) > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
	}
	return out, err
}

// Command delegates the analysis to an external program. The frame paths
// are appended to Args. The program prints either one number (the
// wavelength) or many (interval samples), separated by white space; samples
// are reduced to their histogram mode.
type Command struct {
	Path   string
	Args   []string
	Bins   int
	Runner Runner
}

func (c *Command) Extract(ctx context.Context, frames []camera.Frame) (float64, error) {
	paths, cleanup, err := framePaths(frames)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	run := c.Runner
	if run == nil {
		run = ExecRunner
	}
	args := append(append([]string{}, c.Args...), paths...)
	debug.Verbose("Extractor: running %s on %d frames", c.Path, len(paths))
	out, err := run(ctx, c.Path, args...)
	if err != nil {
		return 0, fmt.Errorf("run %s: %w", filepath.Base(c.Path), err)
	}

	values, err := parseNumbers(out)
	if err != nil {
		return 0, err
	}
	debug.Verbose("Extractor: %d values from %s", len(values), filepath.Base(c.Path))
	switch len(values) {
	case 0:
		return 0, ErrNoWavelength
	case 1:
		return values[0], nil
	}

	bins := c.Bins
	if bins <= 0 {
		bins = DefaultBins
	}
	wl, err := spline.Mode(values, bins)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoWavelength, err)
	}
	return wl, nil
}

func parseNumbers(out []byte) ([]float64, error) {
	fields := strings.Fields(string(out))
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: unexpected output %q", ErrNoWavelength, f)
		}
		values = append(values, v)
	}
	return values, nil
}

// framePaths returns one file per frame. Frames that only carry bytes are
// spilled to a temporary directory removed by cleanup.
func framePaths(frames []camera.Frame) (paths []string, cleanup func(), err error) {
	cleanup = func() {}
	var tmp string
	for _, f := range frames {
		if f.Path != "" {
			paths = append(paths, f.Path)
			continue
		}
		if len(f.Data) == 0 {
			continue
		}
		if tmp == "" {
			tmp, err = os.MkdirTemp("", "ripplego-frames-")
			if err != nil {
				return nil, cleanup, fmt.Errorf("spill frames: %w", err)
			}
			dir := tmp
			cleanup = func() { _ = os.RemoveAll(dir) }
		}
		p := filepath.Join(tmp, fmt.Sprintf("frame-%03d.jpg", f.Index))
		if err := os.WriteFile(p, f.Data, 0o600); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("spill frame %d: %w", f.Index, err)
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		cleanup()
		return nil, func() {}, ErrEmptyBatch
	}
	return paths, cleanup, nil
}
