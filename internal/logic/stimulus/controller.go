package stimulus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/RippleGo/internal/debug"
)

// Actuator is anything that can be switched on and off: the light
// source, the exciter. Start and Stop must be safe to call when the
// actuator is already in the target state.
type Actuator interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Tunable is an actuator whose drive frequency can be changed between
// runs. The exciters implement it; the light does not.
type Tunable interface {
	SetFrequency(hz float64) error
}

// Controller drives the optical and haptic actuators together.
// It's the layer between the measurement run and the hardware.
// Either actuator may be nil when the rig lacks it.
type Controller struct {
	optical Actuator
	haptic  Actuator

	mu     sync.Mutex
	active bool
}

func NewController(optical, haptic Actuator) *Controller {
	return &Controller{
		optical: optical,
		haptic:  haptic,
	}
}

func (c *Controller) actuators() []Actuator {
	var out []Actuator
	for _, a := range []Actuator{c.optical, c.haptic} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Start switches the light on, then the exciter. If any actuator fails,
// the ones already started are stopped again and the error is returned.
// Calling Start while active is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}

	var started []Actuator
	for _, a := range c.actuators() {
		debug.Live("Stimulus: starting %s", a.Name())
		if err := a.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", a.Name(), err)
		}
		started = append(started, a)
	}
	c.active = true
	return nil
}

// Stop switches every actuator off, attempting all of them even when one
// fails. Calling Stop while inactive is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}

	acts := c.actuators()
	var errs []error
	for i := len(acts) - 1; i >= 0; i-- {
		debug.Live("Stimulus: stopping %s", acts[i].Name())
		if err := acts[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", acts[i].Name(), err))
		}
	}
	c.active = false
	return errors.Join(errs...)
}

// SetFrequency retunes every actuator that supports it. It applies from
// the next Start.
func (c *Controller) SetFrequency(hz float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.actuators() {
		t, ok := a.(Tunable)
		if !ok {
			continue
		}
		debug.Verbose("Stimulus: tuning %s to %.2f Hz", a.Name(), hz)
		if err := t.SetFrequency(hz); err != nil {
			return fmt.Errorf("tune %s: %w", a.Name(), err)
		}
	}
	return nil
}

// Active reports whether the stimulus is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
