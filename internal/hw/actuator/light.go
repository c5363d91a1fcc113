package actuator

import (
	"context"
	"fmt"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/hw/gpio"
)

// GPIOLight switches an illumination LED (or a relay feeding one) through a
// single GPIO pin. It plays the role of the torch in the optical setup.
type GPIOLight struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
}

// NewGPIOLight configures pin as output and leaves the light off.
func NewGPIOLight(g gpio.Driver, pin int, activeLow bool) *GPIOLight {
	l := &GPIOLight{gpio: g, pin: pin, activeLow: activeLow}
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, l.level(false))
	return l
}

func (l *GPIOLight) level(on bool) gpio.Level {
	if l.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

func (l *GPIOLight) Name() string { return fmt.Sprintf("light(pin %d)", l.pin) }

// Start turns the light on. Writing the same level twice is harmless.
func (l *GPIOLight) Start(_ context.Context) error {
	debug.Verbose("Light: on (pin %d)", l.pin)
	return l.gpio.WritePin(l.pin, l.level(true))
}

// Stop turns the light off.
func (l *GPIOLight) Stop(_ context.Context) error {
	debug.Verbose("Light: off (pin %d)", l.pin)
	return l.gpio.WritePin(l.pin, l.level(false))
}
