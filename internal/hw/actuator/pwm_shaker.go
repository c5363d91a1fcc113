package actuator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/hw/gpio"
)

// PWMShaker drives a vibration motor or voice-coil exciter from a hardware
// PWM pin at the stimulus frequency.
type PWMShaker struct {
	gpio gpio.Driver
	pin  int
	duty float64

	mu     sync.Mutex
	freqHz float64
}

// NewPWMShaker returns a shaker on pin. duty is a ratio in (0, 1].
func NewPWMShaker(g gpio.Driver, pin int, freqHz, duty float64) (*PWMShaker, error) {
	if err := checkFrequency(freqHz); err != nil {
		return nil, err
	}
	if duty <= 0 || duty > 1 {
		return nil, fmt.Errorf("shaker duty must be in (0, 1], got %g", duty)
	}
	if err := g.SetupPin(pin, gpio.PWM); err != nil {
		return nil, fmt.Errorf("setup pwm pin %d: %w", pin, err)
	}
	return &PWMShaker{gpio: g, pin: pin, freqHz: freqHz, duty: duty}, nil
}

func (s *PWMShaker) Name() string { return fmt.Sprintf("pwm-shaker(pin %d)", s.pin) }

// SetFrequency changes the drive frequency used by the next Start.
func (s *PWMShaker) SetFrequency(hz float64) error {
	if err := checkFrequency(hz); err != nil {
		return err
	}
	s.mu.Lock()
	s.freqHz = hz
	s.mu.Unlock()
	return nil
}

// Frequency returns the current drive frequency.
func (s *PWMShaker) Frequency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqHz
}

func (s *PWMShaker) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Verbose("Shaker: PWM %.2f Hz duty %.2f on pin %d", s.freqHz, s.duty, s.pin)
	return s.gpio.SetPWM(s.pin, s.freqHz, s.duty)
}

func (s *PWMShaker) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Verbose("Shaker: PWM off on pin %d", s.pin)
	return s.gpio.SetPWM(s.pin, s.freqHz, 0)
}

func checkFrequency(hz float64) error {
	if !(hz > 0) || math.IsInf(hz, 1) {
		return fmt.Errorf("shaker frequency must be > 0, got %g", hz)
	}
	return nil
}
