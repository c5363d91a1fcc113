package actuator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"go.bug.st/serial"
)

// PortOpener opens the serial link to the exciter controller.
type PortOpener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

// OpenSerialPort is the PortOpener backed by go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(path, mode)
}

// SerialShaker controls a function generator or microcontroller that
// drives the exciter. It speaks a line protocol:
//
//	FREQ <hz>
//	START
//	STOP
//
// The port is opened on first use and kept until Close.
type SerialShaker struct {
	path string
	baud int
	open PortOpener

	mu     sync.Mutex
	freqHz float64
	port   io.ReadWriteCloser
}

// NewSerialShaker returns a shaker talking to the device at path.
// A nil opener selects OpenSerialPort.
func NewSerialShaker(path string, baud int, freqHz float64, opener PortOpener) *SerialShaker {
	if opener == nil {
		opener = OpenSerialPort
	}
	if baud <= 0 {
		baud = 115200
	}
	return &SerialShaker{path: path, baud: baud, freqHz: freqHz, open: opener}
}

func (s *SerialShaker) Name() string { return "serial-shaker(" + s.path + ")" }

// ensurePort must be called with s.mu held.
func (s *SerialShaker) ensurePort() error {
	if s.port != nil {
		return nil
	}
	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.open(s.path, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.path, err)
	}
	s.port = port
	return nil
}

func (s *SerialShaker) send(cmd string) error {
	debug.Trace("Serial %s <- %q", s.path, cmd)
	if _, err := io.WriteString(s.port, cmd+"\n"); err != nil {
		return fmt.Errorf("serial write %q: %w", cmd, err)
	}
	return nil
}

// SetFrequency changes the frequency sent with the next START.
func (s *SerialShaker) SetFrequency(hz float64) error {
	if err := checkFrequency(hz); err != nil {
		return err
	}
	s.mu.Lock()
	s.freqHz = hz
	s.mu.Unlock()
	return nil
}

func (s *SerialShaker) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePort(); err != nil {
		return err
	}
	if err := s.send(fmt.Sprintf("FREQ %.2f", s.freqHz)); err != nil {
		return err
	}
	return s.send("START")
}

func (s *SerialShaker) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensurePort(); err != nil {
		return err
	}
	return s.send("STOP")
}

// Close releases the serial port.
func (s *SerialShaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
