package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/hw/gpio"
)

// TetheredGPIO triggers a DSLR through its 3-pin remote connector and
// picks the resulting JPEG up from the directory the tethering software
// (gphoto2 --capture-tethered, digiCamControl...) downloads into:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// Trigger sequence:
// 1. FOCUS to LOW (activates autofocus)
// 2. Wait for autofocus to complete
// 3. SHUTTER to LOW (triggers the shot)
// 4. Hold for a moment
// 5. Set SHUTTER and FOCUS back to HIGH
// 6. Wait for a new .jpg/.jpeg to appear in dir
//
// With an empty dir the camera only triggers and the frame has no Path.
//
// Captures are serialized: a call waits until the previous one has picked
// its image up, and every downloaded file is handed out at most once.
type TetheredGPIO struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // time for autofocus
	shutterDelay time.Duration // shutter hold time
	dir          string

	busy    chan struct{}       // holds one token while a capture runs
	claimed map[string]time.Time // path -> mod time handed out, guarded by busy
}

// NewTetheredGPIO creates a GPIO-controlled tethered camera.
// focusPin and shutterPin are the GPIO pin numbers for FOCUS and SHUTTER lines.
func NewTetheredGPIO(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration, dir string) *TetheredGPIO {
	_ = g.SetupPin(focusPin, gpio.Output)
	_ = g.SetupPin(shutterPin, gpio.Output)

	// By default, lines are HIGH (inactive)
	_ = g.WritePin(focusPin, gpio.High)
	_ = g.WritePin(shutterPin, gpio.High)

	return &TetheredGPIO{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
		dir:          dir,
		busy:         make(chan struct{}, 1),
		claimed:      make(map[string]time.Time),
	}
}

// Capture fires the shutter and waits for the downloaded image.
func (t *TetheredGPIO) Capture(ctx context.Context) (Frame, error) {
	select {
	case t.busy <- struct{}{}:
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("camera busy: %w", ctx.Err())
	}
	defer func() { <-t.busy }()

	var watcher *fsnotify.Watcher
	if t.dir != "" {
		// Watch before triggering so a fast download is not missed.
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return Frame{}, fmt.Errorf("create watcher: %w", err)
		}
		defer w.Close()
		if err := w.Add(t.dir); err != nil {
			return Frame{}, fmt.Errorf("watch %s: %w", t.dir, err)
		}
		watcher = w
	}

	if err := t.trigger(ctx); err != nil {
		return Frame{}, err
	}
	if watcher == nil {
		return Frame{CapturedAt: time.Now()}, nil
	}

	debug.Verbose("Camera: waiting for image in %s", t.dir)
	for {
		select {
		case <-ctx.Done():
			return Frame{}, fmt.Errorf("waiting for image: %w", ctx.Err())

		case event, ok := <-watcher.Events:
			if !ok {
				return Frame{}, fmt.Errorf("watcher closed")
			}
			if event.Op&fsnotify.Create == 0 || !isJPEG(event.Name) {
				continue
			}
			if t.claim(event.Name) {
				continue
			}
			debug.Verbose("Camera: received %s", filepath.Base(event.Name))
			return Frame{Path: event.Name, CapturedAt: time.Now()}, nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return Frame{}, fmt.Errorf("watcher closed")
			}
			debug.Verbose("Camera: watcher error: %v", err)
		}
	}
}

// claim records path as handed out and reports whether that same file
// was already returned by an earlier capture. A file rewritten under the
// same name counts as new.
func (t *TetheredGPIO) claim(path string) (seen bool) {
	var mod time.Time
	if info, err := os.Stat(path); err == nil {
		mod = info.ModTime()
	}
	if prev, ok := t.claimed[path]; ok && prev.Equal(mod) {
		return true
	}
	t.claimed[path] = mod
	return false
}

// trigger runs the remote-release sequence: FOCUS -> wait for AF ->
// SHUTTER -> hold -> release. Both lines are released on every path.
func (t *TetheredGPIO) trigger(ctx context.Context) (err error) {
	debug.Verbose("Camera: triggering shot (focus=%d, shutter=%d)", t.focusPin, t.shutterPin)

	if err := t.gpio.WritePin(t.focusPin, gpio.Low); err != nil {
		return err
	}
	defer func() {
		if rerr := t.gpio.WritePin(t.focusPin, gpio.High); err == nil {
			err = rerr
		}
	}()

	if err := sleep(ctx, t.focusDelay); err != nil {
		return err
	}

	if err := t.gpio.WritePin(t.shutterPin, gpio.Low); err != nil {
		return err
	}
	defer func() {
		if rerr := t.gpio.WritePin(t.shutterPin, gpio.High); err == nil {
			err = rerr
		}
	}()

	// The shutter hold is not cut short by ctx: releasing mid-exposure
	// leaves the body in an undefined state.
	time.Sleep(t.shutterDelay)
	return nil
}

func isJPEG(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
