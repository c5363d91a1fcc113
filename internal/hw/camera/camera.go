package camera

import (
	"context"
	"time"
)

// Frame is an opaque handle on one captured image. Path is set when the
// image lives on disk (tethered download); Data when the device hands the
// bytes over directly. The scheduler sets Index to the trigger number.
type Frame struct {
	Index      int
	Path       string
	Data       []byte
	CapturedAt time.Time
}

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (GPIO, USB, network protocol, etc.).
type Camera interface {
	// Capture takes one photo. It must return once ctx is done, even if
	// the device never answers.
	Capture(ctx context.Context) (Frame, error)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
